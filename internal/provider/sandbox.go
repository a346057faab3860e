package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketSandbox     = []byte("sandbox")
	bucketSandboxKeys = []byte("sandbox_keys") // id -> index key
)

// Channels of captured messages
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelVoice = "voice"
)

// Captured is a send intercepted by the sandbox
type Captured struct {
	ID           string    `json:"id"`
	Channel      string    `json:"channel"`
	CompanyID    string    `json:"company_id"`
	To           string    `json:"to"`
	Subject      string    `json:"subject,omitempty"`
	Body         string    `json:"body,omitempty"`
	HTML         string    `json:"html,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
	SimulatedErr string    `json:"simulated_error,omitempty"`
}

// SandboxFilter contains filters for listing captured sends
type SandboxFilter struct {
	Channel   string
	CompanyID string
	Limit     int
	Offset    int
}

// Sandbox captures every send into bbolt instead of delivering it.
// It implements EmailSender, SMSSender and VoiceDialer.
type Sandbox struct {
	db          *bolt.DB
	logger      *slog.Logger
	failureRate float64 // 0.0 to 1.0
	now         func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSandbox creates a sandbox provider using the provided bbolt database
func NewSandbox(db *bolt.DB, failureRate float64, logger *slog.Logger) (*Sandbox, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSandbox, bucketSandboxKeys} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox bucket: %w", err)
	}
	if failureRate < 0 || failureRate > 1 {
		failureRate = 0
	}
	return &Sandbox{
		db:          db,
		logger:      logger.With("component", "sandbox"),
		failureRate: failureRate,
		now:         time.Now,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (s *Sandbox) SendEmail(ctx context.Context, msg *EmailMessage) (*SendResult, error) {
	return s.capture(ctx, &Captured{
		ID:        msg.IdempotencyKey,
		Channel:   ChannelEmail,
		CompanyID: msg.CompanyID,
		To:        msg.To,
		Subject:   msg.Subject,
		Body:      msg.Text,
		HTML:      msg.HTML,
	})
}

func (s *Sandbox) SendSMS(ctx context.Context, msg *SMSMessage) (*SendResult, error) {
	return s.capture(ctx, &Captured{
		ID:        msg.IdempotencyKey,
		Channel:   ChannelSMS,
		CompanyID: msg.CompanyID,
		To:        msg.To,
		Body:      msg.Body,
	})
}

func (s *Sandbox) Dial(ctx context.Context, req *CallRequest) (*SendResult, error) {
	return s.capture(ctx, &Captured{
		ID:        req.CallID,
		Channel:   ChannelVoice,
		CompanyID: req.CompanyID,
		To:        req.To,
		Subject:   req.CallType,
	})
}

// capture stores c unless a send with the same id was already captured,
// in which case the first outcome is returned again
func (s *Sandbox) capture(ctx context.Context, c *Captured) (*SendResult, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CapturedAt = s.now().UTC()
	if s.shouldFail() {
		c.SimulatedErr = "simulated delivery failure"
	}

	stored, dup, err := s.save(c)
	if err != nil {
		return nil, err
	}
	if dup {
		s.logger.Info("duplicate send ignored", "channel", stored.Channel, "id", stored.ID)
	} else {
		s.logger.Info("send captured",
			"channel", c.Channel,
			"company_id", c.CompanyID,
			"to", c.To,
			"id", c.ID,
		)
	}

	if stored.SimulatedErr != "" {
		return nil, &DeliveryError{Temporary: false, Message: stored.SimulatedErr}
	}
	return &SendResult{MessageID: stored.ID, Provider: "sandbox"}, nil
}

func (s *Sandbox) shouldFail() bool {
	if s.failureRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64() < s.failureRate
}

func (s *Sandbox) save(c *Captured) (*Captured, bool, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal captured send: %w", err)
	}

	stored, dup := c, false
	err = s.db.Update(func(tx *bolt.Tx) error {
		msgs, keys := tx.Bucket(bucketSandbox), tx.Bucket(bucketSandboxKeys)
		if k := keys.Get([]byte(c.ID)); k != nil {
			if v := msgs.Get(k); v != nil {
				var prev Captured
				if err := json.Unmarshal(v, &prev); err == nil {
					stored, dup = &prev, true
					return nil
				}
			}
		}

		k := makeIndexKey(c.CapturedAt, c.ID)
		if err := msgs.Put(k, data); err != nil {
			return err
		}
		return keys.Put([]byte(c.ID), k)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to store captured send: %w", err)
	}
	return stored, dup, nil
}

// List returns captured sends, newest first
func (s *Sandbox) List(ctx context.Context, filter SandboxFilter) ([]*Captured, error) {
	var out []*Captured

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()
		skipped := 0

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var msg Captured
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}
			if filter.Channel != "" && msg.Channel != filter.Channel {
				continue
			}
			if filter.CompanyID != "" && msg.CompanyID != filter.CompanyID {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			out = append(out, &msg)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return out, err
}

// Clear removes captured sends older than olderThan; zero removes all
func (s *Sandbox) Clear(ctx context.Context, olderThan time.Duration) (int, error) {
	count := 0
	cutoff := s.now().Add(-olderThan)

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, keys := tx.Bucket(bucketSandbox), tx.Bucket(bucketSandboxKeys)
		var stale []Captured
		var staleKeys [][]byte
		bucket.ForEach(func(k, v []byte) error {
			var msg Captured
			if err := json.Unmarshal(v, &msg); err == nil && olderThan > 0 && msg.CapturedAt.After(cutoff) {
				return nil
			}
			stale = append(stale, msg)
			staleKeys = append(staleKeys, append([]byte(nil), k...))
			return nil
		})
		for i, k := range staleKeys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			if stale[i].ID != "" {
				if err := keys.Delete([]byte(stale[i].ID)); err != nil {
					return err
				}
			}
			count++
		}
		return nil
	})

	return count, err
}

func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format("2006-01-02T15:04:05.000000000Z") + ":" + id)
}
