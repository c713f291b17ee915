package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fieldwatch/wkauth/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestOwner(t *testing.T, s *Store, email string) *model.Owner {
	t.Helper()
	o := &model.Owner{Email: email, Name: "Owner", IsActive: true}
	if err := s.CreateOwner(context.Background(), o); err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}
	return o
}

func TestOwnerCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := createTestOwner(t, s, "farmer@example.com")
	if o.ID == "" {
		t.Fatal("expected ID after create")
	}

	got, err := s.GetOwner(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOwner: %v", err)
	}
	if got.Email != "farmer@example.com" || !got.IsActive {
		t.Errorf("got %+v", got)
	}

	byEmail, err := s.GetOwnerByEmail(ctx, "farmer@example.com")
	if err != nil {
		t.Fatalf("GetOwnerByEmail: %v", err)
	}
	if byEmail.ID != o.ID {
		t.Errorf("got ID %q, want %q", byEmail.ID, o.ID)
	}

	if err := s.CreateOwner(ctx, &model.Owner{Email: "farmer@example.com"}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate email: expected ErrConflict, got %v", err)
	}

	if err := s.SetOwnerActive(ctx, o.ID, false); err != nil {
		t.Fatalf("SetOwnerActive: %v", err)
	}
	got, _ = s.GetOwner(ctx, o.ID)
	if got.IsActive {
		t.Error("expected owner to be inactive")
	}

	if err := s.SetOwnerActive(ctx, "missing", true); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	owners, err := s.ListOwners(ctx)
	if err != nil {
		t.Fatalf("ListOwners: %v", err)
	}
	if len(owners) != 1 {
		t.Errorf("got %d owners, want 1", len(owners))
	}
}

func newTestKey(ownerID, prefix, last4 string) *model.APIKey {
	return &model.APIKey{
		OwnerID: ownerID,
		Name:    "ci",
		KeyHash: "pbkdf2_sha256$1$salt$hash",
		Prefix:  prefix,
		Last4:   last4,
		Scope:   model.ScopeRead,
	}
}

func TestAPIKeyCandidatesInInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := createTestOwner(t, s, "a@example.com")

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		k := newTestKey(o.ID, "wk_live_abcd", "wxyz")
		k.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.CreateAPIKey(ctx, k); err != nil {
			t.Fatalf("CreateAPIKey: %v", err)
		}
		ids = append(ids, k.ID)
	}
	other := newTestKey(o.ID, "wk_live_abcd", "0000")
	if err := s.CreateAPIKey(ctx, other); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.FindAPIKeyCandidates(ctx, "wk_live_abcd", "wxyz")
	if err != nil {
		t.Fatalf("FindAPIKeyCandidates: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	for i := range got {
		if got[i].ID != ids[i] {
			t.Errorf("candidate %d: got %q, want %q", i, got[i].ID, ids[i])
		}
	}
}

func TestRevokeAPIKeyIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := createTestOwner(t, s, "a@example.com")

	k := newTestKey(o.ID, "wk_live_abcd", "wxyz")
	if err := s.CreateAPIKey(ctx, k); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	revoked, err := s.RevokeAPIKey(ctx, k.ID, first)
	if err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if !revoked {
		t.Error("first revoke should perform the revocation")
	}

	revoked, err = s.RevokeAPIKey(ctx, k.ID, first.Add(time.Hour))
	if err != nil {
		t.Fatalf("RevokeAPIKey again: %v", err)
	}
	if revoked {
		t.Error("second revoke should report already revoked")
	}

	got, _ := s.GetAPIKey(ctx, k.ID)
	if got.RevokedAt == nil || !got.RevokedAt.Equal(first) {
		t.Errorf("revoked_at changed: %v", got.RevokedAt)
	}

	if _, err := s.RevokeAPIKey(ctx, "missing", first); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTouchAPIKeyLastUsedThrottled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := createTestOwner(t, s, "a@example.com")

	k := newTestKey(o.ID, "wk_live_abcd", "wxyz")
	if err := s.CreateAPIKey(ctx, k); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	interval := 5 * time.Minute

	updated, err := s.TouchAPIKeyLastUsed(ctx, k.ID, t0, t0.Add(-interval))
	if err != nil {
		t.Fatalf("TouchAPIKeyLastUsed: %v", err)
	}
	if !updated {
		t.Error("first touch should write")
	}

	t1 := t0.Add(time.Minute)
	updated, err = s.TouchAPIKeyLastUsed(ctx, k.ID, t1, t1.Add(-interval))
	if err != nil {
		t.Fatalf("TouchAPIKeyLastUsed: %v", err)
	}
	if updated {
		t.Error("touch inside the interval should be a no-op")
	}

	got, _ := s.GetAPIKey(ctx, k.ID)
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(t0) {
		t.Errorf("last_used_at = %v, want %v", got.LastUsedAt, t0)
	}

	t2 := t0.Add(6 * time.Minute)
	updated, err = s.TouchAPIKeyLastUsed(ctx, k.ID, t2, t2.Add(-interval))
	if err != nil {
		t.Fatalf("TouchAPIKeyLastUsed: %v", err)
	}
	if !updated {
		t.Error("touch after the interval should write")
	}
}

func TestListAPIKeysByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createTestOwner(t, s, "a@example.com")
	b := createTestOwner(t, s, "b@example.com")

	for _, ownerID := range []string{a.ID, a.ID, b.ID} {
		if err := s.CreateAPIKey(ctx, newTestKey(ownerID, "wk_live_abcd", "wxyz")); err != nil {
			t.Fatalf("CreateAPIKey: %v", err)
		}
	}

	keys, err := s.ListAPIKeys(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("owner a: got %d keys, want 2", len(keys))
	}

	all, err := s.ListAPIKeys(ctx, "")
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all: got %d keys, want 3", len(all))
	}
}

func TestClientCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &model.IntegrationClient{Name: "nextcloud", Secret: "s1", IsActive: true}
	if err := s.CreateClient(ctx, c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if c.ID == "" || c.ClientID == "" {
		t.Fatal("expected IDs after create")
	}

	got, err := s.GetClientByClientID(ctx, c.ClientID)
	if err != nil {
		t.Fatalf("GetClientByClientID: %v", err)
	}
	if got.Secret != "s1" || got.PreviousSecret != nil {
		t.Errorf("got %+v", got)
	}

	if err := s.CreateClient(ctx, &model.IntegrationClient{Name: "nextcloud", Secret: "s2"}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate name: expected ErrConflict, got %v", err)
	}

	if _, err := s.GetClient(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := s.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d clients, want 1", len(list))
	}
}

func TestUpdateClientLocked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &model.IntegrationClient{Name: "nextcloud", Secret: "s1", IsActive: true}
	if err := s.CreateClient(ctx, c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	until := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	updated, err := s.UpdateClientLocked(ctx, c.ID, func(row *model.IntegrationClient) error {
		prev := row.Secret
		row.PreviousSecret = &prev
		row.PreviousExpiresAt = &until
		row.Secret = "s2"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateClientLocked: %v", err)
	}
	if updated.Secret != "s2" {
		t.Errorf("returned secret %q, want s2", updated.Secret)
	}

	got, _ := s.GetClient(ctx, c.ID)
	if got.Secret != "s2" || got.PreviousSecret == nil || *got.PreviousSecret != "s1" {
		t.Errorf("persisted %+v", got)
	}

	// An error from fn rolls the transaction back.
	sentinel := errors.New("stop")
	_, err = s.UpdateClientLocked(ctx, c.ID, func(row *model.IntegrationClient) error {
		row.Secret = "s3"
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	got, _ = s.GetClient(ctx, c.ID)
	if got.Secret != "s2" {
		t.Errorf("rollback failed, secret = %q", got.Secret)
	}

	if _, err := s.UpdateClientLocked(ctx, "missing", func(*model.IntegrationClient) error { return nil }); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPurgeExpiredPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	live := now.Add(time.Hour)
	prev := "old"

	a := &model.IntegrationClient{Name: "a", Secret: "x", IsActive: true, PreviousSecret: &prev, PreviousExpiresAt: &expired}
	b := &model.IntegrationClient{Name: "b", Secret: "y", IsActive: true, PreviousSecret: &prev, PreviousExpiresAt: &live}
	for _, c := range []*model.IntegrationClient{a, b} {
		if err := s.CreateClient(ctx, c); err != nil {
			t.Fatalf("CreateClient: %v", err)
		}
	}

	n, err := s.PurgeExpiredPrevious(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpiredPrevious: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}

	gotA, _ := s.GetClient(ctx, a.ID)
	if gotA.PreviousSecret != nil {
		t.Error("expected expired previous secret to be cleared")
	}
	gotB, _ := s.GetClient(ctx, b.ID)
	if gotB.PreviousSecret == nil {
		t.Error("expected live previous secret to be kept")
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestCascadeDeleteOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := createTestOwner(t, s, "a@example.com")
	if err := s.CreateAPIKey(ctx, newTestKey(o.ID, "wk_live_abcd", "wxyz")); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM owners WHERE id = ?", o.ID); err != nil {
		t.Fatalf("delete owner: %v", err)
	}
	keys, err := s.ListAPIKeys(ctx, "")
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected keys to cascade, got %d", len(keys))
	}
}
