package repository

import (
	"context"
	"testing"

	"github.com/foxzi/campaignd/internal/models"
)

func TestMemberRepository_Scope(t *testing.T) {
	ctx := context.Background()
	s := NewStore(setupTestDB(t))

	// legacy: attached directly through campaign_id
	for _, id := range []string{"cu-1", "cu-2"} {
		if err := s.Members.Create(ctx, &models.ContactListMember{CampaignID: "legacy", CustomerID: id}); err != nil {
			t.Fatal(err)
		}
	}

	// list assignment
	if err := s.Members.AssignList(ctx, "listed", "list-1"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"cu-3", "cu-4", "cu-5"} {
		if err := s.Members.Create(ctx, &models.ContactListMember{ContactListID: "list-1", CustomerID: id}); err != nil {
			t.Fatal(err)
		}
	}
	// a stray direct row is ignored once the list supplies members
	if err := s.Members.Create(ctx, &models.ContactListMember{CampaignID: "listed", CustomerID: "cu-9"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		campaign string
		want     int
	}{
		{"legacy", 2},
		{"listed", 3},
		{"empty", 0},
	}
	for _, tt := range tests {
		t.Run(tt.campaign, func(t *testing.T) {
			members, err := s.Members.ListForCampaign(ctx, tt.campaign)
			if err != nil {
				t.Fatalf("ListForCampaign() error = %v", err)
			}
			if len(members) != tt.want {
				t.Errorf("ListForCampaign() returned %d members, want %d", len(members), tt.want)
			}
			counts, err := s.Members.CountByStatus(ctx, tt.campaign)
			if err != nil {
				t.Fatalf("CountByStatus() error = %v", err)
			}
			if counts[models.MemberPending] != tt.want {
				t.Errorf("pending count = %d, want %d", counts[models.MemberPending], tt.want)
			}
		})
	}
}

func TestMemberRepository_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewStore(setupTestDB(t))

	pending := &models.ContactListMember{CampaignID: "c1", CustomerID: "cu-1"}
	processed := &models.ContactListMember{CampaignID: "c1", CustomerID: "cu-2", Status: models.MemberProcessed}
	for _, m := range []*models.ContactListMember{pending, processed} {
		if err := s.Members.Create(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Members.MarkExcluded(ctx, []string{pending.ID, processed.ID}, "suppressed")
	if err != nil {
		t.Fatalf("MarkExcluded() error = %v", err)
	}
	if n != 1 {
		t.Errorf("MarkExcluded() = %d, want 1", n)
	}

	got, _ := s.Members.Get(ctx, processed.ID)
	if got.Status != models.MemberProcessed {
		t.Errorf("terminal member regressed to %s", got.Status)
	}

	ok, err := s.Members.MarkFailed(ctx, pending.ID, "no contact data")
	if err != nil || ok {
		t.Errorf("MarkFailed(excluded) = %v, %v, want false", ok, err)
	}
}

func TestMemberRepository_Finish(t *testing.T) {
	ctx := context.Background()
	s := NewStore(setupTestDB(t))

	m := &models.ContactListMember{CampaignID: "c1", CustomerID: "cu-1", Status: models.MemberProcessing, ExecutionID: "ex-1"}
	if err := s.Members.Create(ctx, m); err != nil {
		t.Fatal(err)
	}

	ok, err := s.Members.Finish(ctx, "ex-1", models.MemberProcessed, "")
	if err != nil || !ok {
		t.Fatalf("Finish() = %v, %v", ok, err)
	}
	// re-delivery is a no-op
	ok, err = s.Members.Finish(ctx, "ex-1", models.MemberFailed, "late")
	if err != nil || ok {
		t.Errorf("second Finish() = %v, %v, want false", ok, err)
	}

	got, _ := s.Members.GetByExecution(ctx, "ex-1")
	if got.Status != models.MemberProcessed || got.ProcessedAt == nil {
		t.Errorf("member = %+v", got)
	}
}
