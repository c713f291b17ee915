package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() Settings {
	s := DefaultSettings()
	s.APIKeys.Pepper = "pepper"
	s.Tokens.SigningKey = "signing-key"
	return s
}

func TestDefaultSettingsValid(t *testing.T) {
	s := validSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, HMACEnforced, s.HMAC.Mode)
	assert.Equal(t, 300*time.Second, s.HMAC.MaxSkew)
	assert.Equal(t, 72*time.Hour, s.Clients.RotationOverlap)
}

func TestValidateRequiresSecretsOutsideDevelopment(t *testing.T) {
	s := DefaultSettings()
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_keys.pepper")
	assert.Contains(t, err.Error(), "tokens.signing_key")

	s.Server.Environment = "development"
	assert.NoError(t, s.Validate())
}

func TestValidateHMACDisabledOnlyInDevelopment(t *testing.T) {
	s := validSettings()
	s.HMAC.Mode = HMACDisabled
	require.Error(t, s.Validate())

	s.Server.Environment = "development"
	require.NoError(t, s.Validate())

	s.HMAC.Mode = "off"
	require.Error(t, s.Validate())
}

func TestValidateNonceTTL(t *testing.T) {
	s := validSettings()
	s.HMAC.NonceTTL = time.Minute
	assert.Error(t, s.Validate())

	s = validSettings()
	s.Nonce.MaxTTL = 5 * time.Minute
	assert.Error(t, s.Validate(), "memory store must outlive twice the skew window")

	s = validSettings()
	s.Nonce.MaxTTL = 15 * time.Minute
	s.HMAC.BootstrapNonceTTL = 20 * time.Minute
	assert.Error(t, s.Validate(), "memory store must hold bootstrap nonces for their full ttl")

	s = validSettings()
	s.Nonce.MaxTTL = 15 * time.Minute
	s.HMAC.NonceTTL = 16 * time.Minute
	assert.Error(t, s.Validate(), "memory store must hold nonces for their full ttl")

	s = validSettings()
	s.Nonce.MaxTTL = 15 * time.Minute
	assert.NoError(t, s.Validate())

	s = validSettings()
	s.Nonce.Backend = NonceRedis
	assert.Error(t, s.Validate(), "redis backend needs a URL")
	s.Nonce.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, s.Validate())
}

func TestValidateStoreAndSealingKey(t *testing.T) {
	s := validSettings()
	s.Store.Driver = DialectPostgres
	assert.Error(t, s.Validate())

	s = validSettings()
	s.Clients.SealingKey = "c2hvcnQ="
	assert.Error(t, s.Validate())

	s.Clients.SealingKey = "MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE="
	assert.NoError(t, s.Validate())
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("WKAUTH_API_KEYS_PEPPER", "from-env")
	t.Setenv("WKAUTH_TOKENS_SIGNING_KEY", "key")
	t.Setenv("WKAUTH_HMAC_MAX_SKEW", "120s")
	t.Setenv("WKAUTH_HMAC_NONCE_TTL", "240s")

	v := viper.New()
	v.SetEnvPrefix("WKAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	s, err := LoadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.APIKeys.Pepper)
	assert.Equal(t, 120*time.Second, s.HMAC.MaxSkew)
	assert.Equal(t, 240*time.Second, s.HMAC.NonceTTL)
	assert.Equal(t, 600000, s.APIKeys.Hasher.Iterations)
}

func TestStaticClientsSourceLegacy(t *testing.T) {
	s := validSettings()
	t.Setenv("NEXTCLOUD_HMAC_CLIENTS_JSON", `{"a":"c2VjcmV0"}`)

	_, err := s.StaticClientsSource()
	require.Error(t, err)

	s.HMAC.LegacyConfigAllowed = true
	raw, err := s.StaticClientsSource()
	require.NoError(t, err)
	assert.Equal(t, `{"a":"c2VjcmV0"}`, raw)

	s.HMAC.StaticClientsJSON = `{"b":"c2VjcmV0"}`
	raw, err = s.StaticClientsSource()
	require.NoError(t, err)
	assert.Equal(t, `{"b":"c2VjcmV0"}`, raw)
}

func TestRedacted(t *testing.T) {
	s := validSettings()
	r := s.Redacted()
	assert.Equal(t, "********", r.APIKeys.Pepper)
	assert.Equal(t, "********", r.Tokens.SigningKey)
	assert.Equal(t, "", r.Clients.SealingKey)
	assert.Equal(t, "pepper", s.APIKeys.Pepper, "original must be untouched")
}

func TestWriteDefaultSettingsReadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wkauth.yaml")
	require.NoError(t, WriteDefaultSettings(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_skew: 5m0s")

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	v.Set("api_keys.pepper", "p")
	v.Set("tokens.signing_key", "k")

	s, err := LoadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings().HMAC.MaxSkew, s.HMAC.MaxSkew)
	assert.Equal(t, DefaultSettings().Clients.RotationOverlap, s.Clients.RotationOverlap)
}
