package cli

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwatch/wkauth/internal/model"
	"github.com/fieldwatch/wkauth/internal/server"
	"github.com/fieldwatch/wkauth/internal/signing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd("1.2.3", "abc123", "2026-01-01")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func devEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("WKAUTH_SERVER_ENVIRONMENT", "development")
	t.Setenv("WKAUTH_TOKENS_SIGNING_KEY", "cli-test-signing-key")
	t.Setenv("WKAUTH_API_KEYS_HASHER_ITERATIONS", "1000")
	return t.TempDir()
}

func parseKV(out string) map[string]string {
	kv := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			kv[k] = v
		}
	}
	return kv
}

func TestVersionJSON(t *testing.T) {
	out, err := runCLI(t, "version", "--json")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.2.3", info["version"])
	assert.Equal(t, "abc123", info["commit"])
}

func TestClientGenerate(t *testing.T) {
	out, err := runCLI(t, "client", "generate", "--client-id", "nextcloud")
	require.NoError(t, err)

	kv := parseKV(out)
	assert.Equal(t, "nextcloud", kv["CLIENT_ID"])

	secret, err := base64.StdEncoding.DecodeString(kv["SECRET_B64"])
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	doc := strings.Trim(kv["WKAUTH_HMAC_STATIC_CLIENTS_JSON"], "'")
	clients, err := signing.ParseStaticClients(doc)
	require.NoError(t, err)
	assert.Equal(t, secret, clients["nextcloud"])
}

func TestClientGenerateRandomID(t *testing.T) {
	a, err := runCLI(t, "client", "generate")
	require.NoError(t, err)
	b, err := runCLI(t, "client", "generate")
	require.NoError(t, err)

	assert.NotEmpty(t, parseKV(a)["CLIENT_ID"])
	assert.NotEqual(t, parseKV(a)["CLIENT_ID"], parseKV(b)["CLIENT_ID"])
	assert.NotEqual(t, parseKV(a)["SECRET_B64"], parseKV(b)["SECRET_B64"])
}

func TestSignProducesVerifiableHeaders(t *testing.T) {
	secret := []byte("static-shared-secret")
	out, err := runCLI(t, "sign",
		"--client-id", "nextcloud",
		"--secret-b64", base64.StdEncoding.EncodeToString(secret),
		"--method", "get",
		"--path", "/integrations/nextcloud/ping",
		"--query", "?b=2&a=1",
	)
	require.NoError(t, err)

	headers := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		k, v, ok := strings.Cut(line, ": ")
		require.True(t, ok, line)
		headers[k] = v
	}
	assert.Equal(t, "nextcloud", headers[signing.HeaderClientID])

	ts, err := strconv.ParseInt(headers[signing.HeaderTimestamp], 10, 64)
	require.NoError(t, err)
	canonical := signing.Canonical{
		Method:    "GET",
		Path:      "/integrations/nextcloud/ping",
		RawQuery:  "b=2&a=1",
		Timestamp: ts,
		Nonce:     headers[signing.HeaderNonce],
		BodyHash:  signing.BodyHash("GET", nil),
	}
	assert.Equal(t, signing.Sign(secret, canonical.String()), headers[signing.HeaderSignature])
}

func TestSignHashesBodyFile(t *testing.T) {
	body := []byte(`{"scope":"read"}`)
	path := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(path, body, 0600))

	out, err := runCLI(t, "sign",
		"--client-id", "c1",
		"--secret", "plain-secret",
		"--method", "POST",
		"--path", "/integrations/token",
		"--body-file", path,
	)
	require.NoError(t, err)

	var ts int64
	var nonce, sig string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		k, v, _ := strings.Cut(line, ": ")
		switch k {
		case signing.HeaderTimestamp:
			ts, _ = strconv.ParseInt(v, 10, 64)
		case signing.HeaderNonce:
			nonce = v
		case signing.HeaderSignature:
			sig = v
		}
	}
	canonical := signing.Canonical{
		Method:    "POST",
		Path:      "/integrations/token",
		Timestamp: ts,
		Nonce:     nonce,
		BodyHash:  signing.BodyHash("POST", body),
	}
	assert.Equal(t, signing.Sign([]byte("plain-secret"), canonical.String()), sig)
}

func TestSignRejectsBadBase64(t *testing.T) {
	_, err := runCLI(t, "sign", "--client-id", "c1", "--secret-b64", "%%%")
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wkauth.yaml")

	_, err := runCLI(t, "config", "init", "--path", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rotation_overlap: 72h0m0s")

	_, err = runCLI(t, "config", "init", "--path", path)
	assert.Error(t, err, "existing file must not be overwritten")

	_, err = runCLI(t, "config", "init", "--path", path, "--force")
	assert.NoError(t, err)
}

func TestConfigShowMasksSecrets(t *testing.T) {
	devEnv(t)
	t.Setenv("WKAUTH_API_KEYS_PEPPER", "super-secret-pepper")

	out, err := runCLI(t, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "super-secret-pepper")
	assert.NotContains(t, out, "cli-test-signing-key")
	assert.Contains(t, out, "environment: development")
}

func TestConfigFileIsRead(t *testing.T) {
	devEnv(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0600))

	out, err := runCLI(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# config file: "+path)
	assert.Contains(t, out, "level: warn")
}

func TestOwnerAndKeyLifecycle(t *testing.T) {
	dir := devEnv(t)

	out, err := runCLI(t, "--data-dir", dir, "owner", "create", "--email", "ops@example.com", "--name", "Ops", "--admin")
	require.NoError(t, err)
	assert.Contains(t, out, "ops@example.com")

	out, err = runCLI(t, "--data-dir", dir, "owner", "list", "--json")
	require.NoError(t, err)
	var owners []model.Owner
	require.NoError(t, json.Unmarshal([]byte(out), &owners))
	require.Len(t, owners, 1)
	assert.True(t, owners[0].IsAdmin)

	out, err = runCLI(t, "--data-dir", dir, "owner", "token", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out), "."), "expected a JWT")

	out, err = runCLI(t, "--data-dir", dir, "key", "create", "--owner", "ops@example.com", "--name", "ci", "--scope", "write")
	require.NoError(t, err)
	assert.Contains(t, out, "wk_live_")

	out, err = runCLI(t, "--data-dir", dir, "key", "list", "--owner", owners[0].ID, "--json")
	require.NoError(t, err)
	var keys []model.APIKey
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	require.Len(t, keys, 1)
	assert.Equal(t, model.ScopeWrite, keys[0].Scope)

	out, err = runCLI(t, "--data-dir", dir, "key", "rotate", keys[0].ID, "--name", "ci-2")
	require.NoError(t, err)
	assert.Contains(t, out, "Replaces")

	out, err = runCLI(t, "--data-dir", dir, "key", "list", "--json")
	require.NoError(t, err)
	keys = nil
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	require.Len(t, keys, 2)

	var active string
	for _, k := range keys {
		if k.RevokedAt == nil {
			active = k.ID
			assert.Equal(t, "ci-2", k.Name)
		}
	}
	require.NotEmpty(t, active)

	out, err = runCLI(t, "--data-dir", dir, "key", "revoke", active)
	require.NoError(t, err)
	assert.Contains(t, out, "Revoked")

	out, err = runCLI(t, "--data-dir", dir, "key", "revoke", active)
	require.NoError(t, err)
	assert.Contains(t, out, "already revoked")
}

func TestOwnerDisableRejectsKeysAndSessions(t *testing.T) {
	dir := devEnv(t)

	_, err := runCLI(t, "--data-dir", dir, "owner", "create", "--email", "ops@example.com")
	require.NoError(t, err)
	session, err := runCLI(t, "--data-dir", dir, "owner", "token", "ops@example.com")
	require.NoError(t, err)
	session = strings.TrimSpace(session)

	out, err := runCLI(t, "--data-dir", dir, "key", "create", "--owner", "ops@example.com", "--name", "ci")
	require.NoError(t, err)
	var plain string
	for _, line := range strings.Split(out, "\n") {
		if k, val, ok := strings.Cut(strings.TrimSpace(line), ":"); ok && k == "Key" {
			plain = strings.TrimSpace(val)
		}
	}
	require.True(t, strings.HasPrefix(plain, "wk_live_"), out)

	out, err = runCLI(t, "--data-dir", dir, "owner", "disable", "ops@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled")

	_, err = runCLI(t, "--data-dir", dir, "owner", "token", "ops@example.com")
	assert.Error(t, err, "disabled owners get no new sessions")

	sess, err := openSession()
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	srv, err := server.New(server.ConfigFromSettings(*sess.settings), sess.deps, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	call := func(path, header, value string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(header, value)
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)
		return rr.Code
	}
	assert.Equal(t, http.StatusUnauthorized, call("/api/v1/integrations/ping", "X-API-Key", plain))
	assert.Equal(t, http.StatusUnauthorized, call("/api/v1/api-keys", "Authorization", "Bearer "+session))

	_, err = runCLI(t, "--data-dir", dir, "owner", "enable", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, call("/api/v1/integrations/ping", "X-API-Key", plain))
	assert.Equal(t, http.StatusOK, call("/api/v1/api-keys", "Authorization", "Bearer "+session))
}

func TestOwnerCreateRejectsBadEmail(t *testing.T) {
	dir := devEnv(t)
	_, err := runCLI(t, "--data-dir", dir, "owner", "create", "--email", "nobody")
	assert.Error(t, err)
}

func TestKeyCreateUnknownOwner(t *testing.T) {
	dir := devEnv(t)
	_, err := runCLI(t, "--data-dir", dir, "key", "create", "--owner", "ghost@example.com", "--name", "x")
	assert.Error(t, err)
}

func TestClientLifecycle(t *testing.T) {
	dir := devEnv(t)

	out, err := runCLI(t, "--data-dir", dir, "client", "create", "--name", "nextcloud")
	require.NoError(t, err)
	assert.Contains(t, out, "Secret:")

	out, err = runCLI(t, "--data-dir", dir, "client", "list", "--json")
	require.NoError(t, err)
	var clients []model.IntegrationClient
	require.NoError(t, json.Unmarshal([]byte(out), &clients))
	require.Len(t, clients, 1)
	id := clients[0].ID

	out, err = runCLI(t, "--data-dir", dir, "client", "rotate-secret", id, "--overlap", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Previous until:")

	_, err = runCLI(t, "--data-dir", dir, "client", "disable", id)
	require.NoError(t, err)

	_, err = runCLI(t, "--data-dir", dir, "client", "rotate-secret", id)
	assert.Error(t, err, "disabled clients cannot be rotated")

	_, err = runCLI(t, "--data-dir", dir, "client", "enable", id)
	require.NoError(t, err)

	out, err = runCLI(t, "--data-dir", dir, "client", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 0")
}

func TestParseExpiry(t *testing.T) {
	now, _ := time.Parse(time.RFC3339, "2026-01-01T00:00:00Z")

	exp, err := parseExpiry("", now)
	require.NoError(t, err)
	assert.Nil(t, exp)

	exp, err = parseExpiry("24h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), *exp)

	exp, err = parseExpiry("2027-06-01T12:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, 2027, exp.Year())

	_, err = parseExpiry("tomorrow", now)
	assert.Error(t, err)
}
