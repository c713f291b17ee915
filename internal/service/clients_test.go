package service

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fieldwatch/wkauth/internal/nonce"
	"github.com/fieldwatch/wkauth/internal/secret"
	"github.com/fieldwatch/wkauth/internal/signing"
)

func newTestClients(t *testing.T, sealer *secret.Sealer) (*ClientService, *time.Time) {
	t.Helper()
	now := testNow
	svc := NewClientService(newTestStore(t), sealer, 0)
	svc.SetClock(func() time.Time { return now })
	return svc, &now
}

func TestClientCreateAndResolve(t *testing.T) {
	svc, _ := newTestClients(t, nil)
	ctx := context.Background()

	c, plain, err := svc.Create(ctx, "nextcloud", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if plain == "" || c.ClientID == "" {
		t.Fatal("expected secret and client id")
	}

	rc, err := svc.ResolveClient(ctx, c.ClientID)
	if err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	if !rc.Active || len(rc.Secrets) != 1 || string(rc.Secrets[0]) != plain {
		t.Errorf("resolved client: %+v", rc)
	}

	if _, err := svc.ResolveClient(ctx, "unknown"); !errors.Is(err, signing.ErrUnknownClient) {
		t.Errorf("got %v, want ErrUnknownClient", err)
	}
}

func TestClientSecretSealedAtRest(t *testing.T) {
	key := make([]byte, 32)
	sealer, err := secret.NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	svc, _ := newTestClients(t, sealer)
	ctx := context.Background()

	c, plain, err := svc.Create(ctx, "sealed", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stored, err := svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.HasPrefix(stored.Secret, "enc:") || strings.Contains(stored.Secret, plain) {
		t.Errorf("secret stored unsealed: %q", stored.Secret)
	}

	rc, err := svc.ResolveClient(ctx, c.ClientID)
	if err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	if string(rc.Secrets[0]) != plain {
		t.Error("resolved secret does not match issued secret")
	}
}

func TestRotateSecretOverlap(t *testing.T) {
	svc, now := newTestClients(t, nil)
	ctx := context.Background()

	c, oldPlain, err := svc.Create(ctx, "rot", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rotated, newPlain, err := svc.RotateSecret(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("RotateSecret: %v", err)
	}
	if newPlain == oldPlain {
		t.Fatal("rotation must issue a new secret")
	}
	wantExpiry := testNow.Add(DefaultRotationOverlap)
	if rotated.PreviousExpiresAt == nil || !rotated.PreviousExpiresAt.Equal(wantExpiry) {
		t.Errorf("previous_expires_at: got %v, want %v", rotated.PreviousExpiresAt, wantExpiry)
	}
	if rotated.RotatedAt == nil {
		t.Error("rotated_at not stamped")
	}

	rc, err := svc.ResolveClient(ctx, c.ClientID)
	if err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	if len(rc.Secrets) != 2 || string(rc.Secrets[0]) != newPlain || string(rc.Secrets[1]) != oldPlain {
		t.Fatalf("inside overlap want [new old], got %d secrets", len(rc.Secrets))
	}

	*now = now.Add(DefaultRotationOverlap + time.Second)
	rc, err = svc.ResolveClient(ctx, c.ClientID)
	if err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	if len(rc.Secrets) != 1 {
		t.Errorf("after overlap want 1 secret, got %d", len(rc.Secrets))
	}

	n, err := svc.PurgeExpiredPrevious(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredPrevious: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}

func TestRotateDisabledClient(t *testing.T) {
	svc, _ := newTestClients(t, nil)
	ctx := context.Background()

	c, _, err := svc.Create(ctx, "off", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := svc.RotateSecret(ctx, c.ID, time.Hour); !errors.Is(err, ErrClientDisabled) {
		t.Fatalf("got %v, want ErrClientDisabled", err)
	}
	stored, err := svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.PreviousSecret != nil {
		t.Error("rejected rotation must not change the row")
	}
}

func TestUpdateClient(t *testing.T) {
	svc, _ := newTestClients(t, nil)
	ctx := context.Background()

	c, _, err := svc.Create(ctx, "before", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	name, active := "after", false
	updated, err := svc.Update(ctx, c.ID, &name, &active)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "after" || updated.IsActive {
		t.Errorf("update not applied: %+v", updated)
	}

	rc, err := svc.ResolveClient(ctx, c.ClientID)
	if err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	if rc.Active {
		t.Error("disabled client resolved as active")
	}

	blank := " "
	if _, err := svc.Update(ctx, c.ID, &blank, nil); !errors.Is(err, ErrInvalidName) {
		t.Errorf("got %v, want ErrInvalidName", err)
	}
	if _, err := svc.Update(ctx, "missing", nil, &active); !IsNotFound(err) {
		t.Errorf("got %v, want not found", err)
	}
}

func TestDatabaseClientsShadowStatic(t *testing.T) {
	svc, _ := newTestClients(t, nil)
	ctx := context.Background()

	c, plain, err := svc.Create(ctx, "db", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	chain := signing.ChainResolver{svc, signing.StaticClients{c.ClientID: []byte("static"), "nc": []byte("s")}}

	rc, err := chain.ResolveClient(ctx, c.ClientID)
	if err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	if string(rc.Secrets[0]) != plain {
		t.Error("database client should win over static entry")
	}
	if _, err := chain.ResolveClient(ctx, "nc"); err != nil {
		t.Errorf("static client: %v", err)
	}
}

func TestRotatedSecretRejectedAfterOverlap(t *testing.T) {
	svc, now := newTestClients(t, nil)
	ctx := context.Background()

	c, oldPlain, err := svc.Create(ctx, "rot", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rotated, _, err := svc.RotateSecret(ctx, c.ID, time.Hour)
	if err != nil {
		t.Fatalf("RotateSecret: %v", err)
	}

	clock := func() time.Time { return *now }
	verifier := signing.NewVerifier(svc, nonce.NewMemory(100, time.Hour), signing.Config{
		MaxSkew:  5 * time.Minute,
		NonceTTL: 6 * time.Minute,
	})
	verifier.SetClock(clock)

	oldSigner := &signing.Signer{
		ClientID: c.ClientID,
		Secret:   []byte(oldPlain),
		Now:      clock,
	}
	verify := func() error {
		req := httptest.NewRequest("GET", "/ping", nil)
		oldSigner.SignRequest(req, nil)
		_, err := verifier.Verify(ctx, req, nil, signing.Options{})
		return err
	}

	*now = rotated.PreviousExpiresAt.Add(-time.Second)
	if err := verify(); err != nil {
		t.Fatalf("old secret inside overlap: %v", err)
	}

	*now = rotated.PreviousExpiresAt.Add(time.Second)
	if code := signing.CodeOf(verify()); code != signing.CodeInvalidSignature {
		t.Errorf("old secret after overlap: got code %q, want %q", code, signing.CodeInvalidSignature)
	}
}
