package service

import (
	"context"
	"testing"
	"time"

	"github.com/fieldwatch/wkauth/internal/config"
	"github.com/fieldwatch/wkauth/internal/model"
	"github.com/fieldwatch/wkauth/internal/secret"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestKeys(t *testing.T) (*APIKeyService, *config.Store, *time.Time) {
	t.Helper()
	store := newTestStore(t)
	hasher, err := secret.NewHasher("test-pepper", secret.HasherConfig{Algorithm: secret.AlgoPBKDF2, Iterations: 1000})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	now := testNow
	svc := NewAPIKeyService(store, hasher, 5*time.Minute)
	svc.SetClock(func() time.Time { return now })
	return svc, store, &now
}

func createOwner(t *testing.T, store *config.Store, email string) *model.Owner {
	t.Helper()
	o := &model.Owner{Email: email, Name: email, IsActive: true}
	if err := store.CreateOwner(context.Background(), o); err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}
	return o
}
