// Package suppression decides which contacts are blocked from communication
// by tenant-scoped do-not-contact records.
package suppression

import (
	"context"
	"fmt"
	"strings"

	"github.com/foxzi/campaignd/internal/email"
	"github.com/foxzi/campaignd/internal/models"
)

// Channel selects which identifiers of a contact are checked
type Channel string

const (
	ChannelAny   Channel = ""
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
	ChannelSMS   Channel = "sms"
)

// Store looks up suppression records by normalized identifiers
type Store interface {
	Find(ctx context.Context, companyID string, emails, phones []string) ([]models.Suppression, error)
}

// Contact is the set of identifiers of one contact. Key is echoed back in
// bulk results, typically the member id.
type Contact struct {
	Key   string
	Email string
	Phone string
}

// Match describes why a contact is suppressed
type Match struct {
	Identifier string // the normalized email or phone that matched
	Channel    string // communication type of the matching record
	Reason     string
}

// Filter checks contacts against the suppression store. It never writes
// suppression records.
type Filter struct {
	store Store
}

// NewFilter creates a suppression filter
func NewFilter(store Store) *Filter {
	return &Filter{store: store}
}

var phoneReplacer = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizePhone strips spaces, dashes, parentheses and dots
func NormalizePhone(phone string) string {
	return phoneReplacer.Replace(strings.TrimSpace(phone))
}

// Check reports whether the contact is suppressed for channel. ChannelAny
// checks both identifiers.
func (f *Filter) Check(ctx context.Context, companyID string, c Contact, channel Channel) (bool, *Match, error) {
	switch channel {
	case ChannelEmail:
		c.Phone = ""
	case ChannelPhone, ChannelSMS:
		c.Email = ""
	}

	matches, err := f.CheckBulk(ctx, companyID, []Contact{c})
	if err != nil {
		return false, nil, err
	}
	m, ok := matches[c.Key]
	if !ok {
		return false, nil, nil
	}
	return true, &m, nil
}

// CheckBulk returns the suppressed contacts keyed by Contact.Key, using a
// single store lookup. Email identifiers match email and all records;
// phone identifiers match phone, sms and all records.
func (f *Filter) CheckBulk(ctx context.Context, companyID string, contacts []Contact) (map[string]Match, error) {
	emailSet := make(map[string]bool)
	phoneSet := make(map[string]bool)
	for _, c := range contacts {
		if e := email.Normalize(c.Email); e != "" && email.Valid(e) {
			emailSet[e] = true
		}
		if p := NormalizePhone(c.Phone); p != "" {
			phoneSet[p] = true
		}
	}

	result := make(map[string]Match)
	if len(emailSet) == 0 && len(phoneSet) == 0 {
		return result, nil
	}

	records, err := f.store.Find(ctx, companyID, keys(emailSet), keys(phoneSet))
	if err != nil {
		return nil, fmt.Errorf("failed to check suppressions: %w", err)
	}

	byEmail := make(map[string]models.Suppression)
	byPhone := make(map[string]models.Suppression)
	for _, r := range records {
		switch r.CommunicationType {
		case models.SuppressEmail:
			if e := email.Normalize(r.Email); e != "" {
				byEmail[e] = r
			}
		case models.SuppressPhone, models.SuppressSMS:
			if p := NormalizePhone(r.Phone); p != "" {
				byPhone[p] = r
			}
		case models.SuppressAll:
			if e := email.Normalize(r.Email); e != "" {
				byEmail[e] = r
			}
			if p := NormalizePhone(r.Phone); p != "" {
				byPhone[p] = r
			}
		}
	}

	for _, c := range contacts {
		if r, ok := byEmail[email.Normalize(c.Email)]; ok && c.Email != "" {
			result[c.Key] = Match{Identifier: email.Normalize(c.Email), Channel: r.CommunicationType, Reason: r.Reason}
			continue
		}
		if r, ok := byPhone[NormalizePhone(c.Phone)]; ok && c.Phone != "" {
			result[c.Key] = Match{Identifier: NormalizePhone(c.Phone), Channel: r.CommunicationType, Reason: r.Reason}
		}
	}
	return result, nil
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
