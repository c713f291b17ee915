package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fieldwatch/wkauth/internal/secret"
)

// HMAC enforcement modes.
const (
	HMACEnforced = "enforced"
	HMACDisabled = "disabled"
)

// Nonce store backends.
const (
	NonceMemory = "memory"
	NonceRedis  = "redis"
)

// Settings is the effective configuration of the service, assembled from
// wkauth.yaml, WKAUTH_* environment variables, and command-line flags.
type Settings struct {
	Server   ServerSettings   `mapstructure:"server" yaml:"server"`
	Store    StoreSettings    `mapstructure:"store" yaml:"store"`
	Log      LogSettings      `mapstructure:"log" yaml:"log"`
	APIKeys  APIKeySettings   `mapstructure:"api_keys" yaml:"api_keys"`
	HMAC     HMACSettings     `mapstructure:"hmac" yaml:"hmac"`
	Nonce    NonceSettings    `mapstructure:"nonce" yaml:"nonce"`
	Clients  ClientSettings   `mapstructure:"clients" yaml:"clients"`
	Tokens   TokenSettings    `mapstructure:"tokens" yaml:"tokens"`
	Throttle ThrottleSettings `mapstructure:"throttle" yaml:"throttle"`
}

// ServerSettings controls the HTTP server.
type ServerSettings struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Environment     string        `mapstructure:"environment" yaml:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// StoreSettings selects the persistence backend.
type StoreSettings struct {
	Driver  string `mapstructure:"driver" yaml:"driver"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// LogSettings controls log output.
type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// APIKeySettings controls API key hashing and usage tracking.
type APIKeySettings struct {
	Pepper        string              `mapstructure:"pepper" yaml:"pepper"`
	Header        string              `mapstructure:"header" yaml:"header"`
	TouchInterval time.Duration       `mapstructure:"touch_interval" yaml:"touch_interval"`
	Hasher        secret.HasherConfig `mapstructure:"hasher" yaml:"hasher"`
}

// HMACSettings controls request signature verification.
type HMACSettings struct {
	Mode                string        `mapstructure:"mode" yaml:"mode"`
	MaxSkew             time.Duration `mapstructure:"max_skew" yaml:"max_skew"`
	NonceTTL            time.Duration `mapstructure:"nonce_ttl" yaml:"nonce_ttl"`
	BootstrapNonceTTL   time.Duration `mapstructure:"bootstrap_nonce_ttl" yaml:"bootstrap_nonce_ttl"`
	StaticClientsJSON   string        `mapstructure:"static_clients_json" yaml:"static_clients_json"`
	LegacyConfigAllowed bool          `mapstructure:"legacy_config_allowed" yaml:"legacy_config_allowed"`
}

// NonceSettings selects where consumed nonces are recorded.
type NonceSettings struct {
	Backend  string        `mapstructure:"backend" yaml:"backend"`
	RedisURL string        `mapstructure:"redis_url" yaml:"redis_url"`
	MaxTTL   time.Duration `mapstructure:"max_ttl" yaml:"max_ttl"`
	MaxSize  int           `mapstructure:"max_size" yaml:"max_size"`
}

// ClientSettings controls integration client secrets.
type ClientSettings struct {
	RotationOverlap time.Duration `mapstructure:"rotation_overlap" yaml:"rotation_overlap"`
	SealingKey      string        `mapstructure:"sealing_key" yaml:"sealing_key"`
}

// TokenSettings controls minted bearer tokens.
type TokenSettings struct {
	SigningKey string        `mapstructure:"signing_key" yaml:"signing_key"`
	Issuer     string        `mapstructure:"issuer" yaml:"issuer"`
	Audience   string        `mapstructure:"audience" yaml:"audience"`
	AccessTTL  time.Duration `mapstructure:"access_ttl" yaml:"access_ttl"`
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
}

// ThrottleSettings controls per-credential request limits.
type ThrottleSettings struct {
	APIKeyPerMinute int `mapstructure:"api_key_per_minute" yaml:"api_key_per_minute"`
	HMACPerMinute   int `mapstructure:"hmac_per_minute" yaml:"hmac_per_minute"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Host:            "0.0.0.0",
			Port:            8080,
			Environment:     "production",
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
			MaxBodyBytes:    1 << 20,
		},
		Store: StoreSettings{
			Driver: DialectSQLite,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
		APIKeys: APIKeySettings{
			Header:        "X-API-Key",
			TouchInterval: 5 * time.Minute,
			Hasher:        secret.DefaultHasherConfig(),
		},
		HMAC: HMACSettings{
			Mode:              HMACEnforced,
			MaxSkew:           300 * time.Second,
			NonceTTL:          360 * time.Second,
			BootstrapNonceTTL: 600 * time.Second,
		},
		Nonce: NonceSettings{
			Backend: NonceMemory,
			MaxTTL:  time.Hour,
			MaxSize: 100000,
		},
		Clients: ClientSettings{
			RotationOverlap: 72 * time.Hour,
		},
		Tokens: TokenSettings{
			Issuer:     "wkauth",
			Audience:   "wkauth-integrations",
			AccessTTL:  5 * time.Minute,
			SessionTTL: time.Hour,
		},
		Throttle: ThrottleSettings{
			APIKeyPerMinute: 120,
			HMACPerMinute:   60,
		},
	}
}

// SetDefaults registers every default on v so that environment variables
// for nested keys are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.environment", d.Server.Environment)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.data_dir", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("api_keys.pepper", "")
	v.SetDefault("api_keys.header", d.APIKeys.Header)
	v.SetDefault("api_keys.touch_interval", d.APIKeys.TouchInterval)
	v.SetDefault("api_keys.hasher.algorithm", d.APIKeys.Hasher.Algorithm)
	v.SetDefault("api_keys.hasher.iterations", d.APIKeys.Hasher.Iterations)
	v.SetDefault("api_keys.hasher.memory_kib", d.APIKeys.Hasher.MemoryKiB)
	v.SetDefault("api_keys.hasher.time", d.APIKeys.Hasher.Time)
	v.SetDefault("api_keys.hasher.threads", d.APIKeys.Hasher.Threads)
	v.SetDefault("hmac.mode", d.HMAC.Mode)
	v.SetDefault("hmac.max_skew", d.HMAC.MaxSkew)
	v.SetDefault("hmac.nonce_ttl", d.HMAC.NonceTTL)
	v.SetDefault("hmac.bootstrap_nonce_ttl", d.HMAC.BootstrapNonceTTL)
	v.SetDefault("hmac.static_clients_json", "")
	v.SetDefault("hmac.legacy_config_allowed", false)
	v.SetDefault("nonce.backend", d.Nonce.Backend)
	v.SetDefault("nonce.redis_url", "")
	v.SetDefault("nonce.max_ttl", d.Nonce.MaxTTL)
	v.SetDefault("nonce.max_size", d.Nonce.MaxSize)
	v.SetDefault("clients.rotation_overlap", d.Clients.RotationOverlap)
	v.SetDefault("clients.sealing_key", "")
	v.SetDefault("tokens.signing_key", "")
	v.SetDefault("tokens.issuer", d.Tokens.Issuer)
	v.SetDefault("tokens.audience", d.Tokens.Audience)
	v.SetDefault("tokens.access_ttl", d.Tokens.AccessTTL)
	v.SetDefault("tokens.session_ttl", d.Tokens.SessionTTL)
	v.SetDefault("throttle.api_key_per_minute", d.Throttle.APIKeyPerMinute)
	v.SetDefault("throttle.hmac_per_minute", d.Throttle.HMACPerMinute)
}

// LoadSettings unmarshals and validates the settings held by v.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// IsDevelopment reports whether the server runs in development mode.
func (s *Settings) IsDevelopment() bool {
	return strings.EqualFold(s.Server.Environment, "development")
}

// Validate checks the settings for values the service cannot run with.
func (s *Settings) Validate() error {
	var errs []error

	switch s.HMAC.Mode {
	case HMACEnforced:
	case HMACDisabled:
		if !s.IsDevelopment() {
			errs = append(errs, errors.New("hmac.mode=disabled is only allowed when server.environment=development"))
		}
	default:
		errs = append(errs, fmt.Errorf("hmac.mode must be %q or %q, got %q", HMACEnforced, HMACDisabled, s.HMAC.Mode))
	}

	if s.HMAC.MaxSkew <= 0 {
		errs = append(errs, errors.New("hmac.max_skew must be positive"))
	}
	if s.HMAC.NonceTTL < s.HMAC.MaxSkew {
		errs = append(errs, errors.New("hmac.nonce_ttl must be at least hmac.max_skew"))
	}
	if s.HMAC.BootstrapNonceTTL < s.HMAC.MaxSkew {
		errs = append(errs, errors.New("hmac.bootstrap_nonce_ttl must be at least hmac.max_skew"))
	}

	switch s.Nonce.Backend {
	case NonceMemory:
		if s.Nonce.MaxTTL < 2*s.HMAC.MaxSkew {
			errs = append(errs, errors.New("nonce.max_ttl must be at least twice hmac.max_skew"))
		}
		if s.Nonce.MaxTTL < s.HMAC.NonceTTL || s.Nonce.MaxTTL < s.HMAC.BootstrapNonceTTL {
			errs = append(errs, errors.New("nonce.max_ttl must be at least hmac.nonce_ttl and hmac.bootstrap_nonce_ttl"))
		}
	case NonceRedis:
		if s.Nonce.RedisURL == "" {
			errs = append(errs, errors.New("nonce.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown nonce.backend %q", s.Nonce.Backend))
	}

	switch s.Store.Driver {
	case DialectSQLite:
	case DialectPostgres, DialectMySQL:
		if s.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", s.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store.driver %q", s.Store.Driver))
	}

	if s.Clients.SealingKey != "" {
		key, err := base64.StdEncoding.DecodeString(s.Clients.SealingKey)
		if err != nil || len(key) != 32 {
			errs = append(errs, errors.New("clients.sealing_key must be base64 of exactly 32 bytes"))
		}
	}

	if !s.IsDevelopment() {
		if s.APIKeys.Pepper == "" {
			errs = append(errs, errors.New("api_keys.pepper is required outside development"))
		}
		if s.Tokens.SigningKey == "" {
			errs = append(errs, errors.New("tokens.signing_key is required outside development"))
		}
	}

	if s.Tokens.AccessTTL <= 0 {
		errs = append(errs, errors.New("tokens.access_ttl must be positive"))
	}

	return errors.Join(errs...)
}

// StaticClientsSource returns the raw static-clients JSON to load, honoring
// the legacy NEXTCLOUD_HMAC_CLIENTS_JSON variable only when explicitly
// allowed.
func (s *Settings) StaticClientsSource() (string, error) {
	legacy := strings.TrimSpace(os.Getenv("NEXTCLOUD_HMAC_CLIENTS_JSON"))
	if legacy != "" {
		if !s.HMAC.LegacyConfigAllowed {
			return "", errors.New("legacy NEXTCLOUD_HMAC_CLIENTS_JSON is not allowed; set hmac.static_clients_json " +
				"(or temporarily set hmac.legacy_config_allowed=true)")
		}
		if strings.TrimSpace(s.HMAC.StaticClientsJSON) == "" {
			return legacy, nil
		}
	}
	return s.HMAC.StaticClientsJSON, nil
}

// Redacted returns a copy of s with secret material masked, for display.
func (s Settings) Redacted() Settings {
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		return "********"
	}
	s.APIKeys.Pepper = mask(s.APIKeys.Pepper)
	s.Tokens.SigningKey = mask(s.Tokens.SigningKey)
	s.Clients.SealingKey = mask(s.Clients.SealingKey)
	s.HMAC.StaticClientsJSON = mask(s.HMAC.StaticClientsJSON)
	s.Store.DSN = mask(s.Store.DSN)
	s.Nonce.RedisURL = mask(s.Nonce.RedisURL)
	return s
}

// MarshalYAMLDocument renders the settings as a YAML document. Durations are
// written in their string form ("5m0s") so the file reads back through viper.
func (s Settings) MarshalYAMLDocument() ([]byte, error) {
	return yaml.Marshal(displayValue(reflect.ValueOf(s)))
}

func displayValue(v reflect.Value) interface{} {
	if v.Type() == reflect.TypeOf(time.Duration(0)) {
		return time.Duration(v.Int()).String()
	}
	switch v.Kind() {
	case reflect.Struct:
		out := yaml.Node{Kind: yaml.MappingNode}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			name := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			var val yaml.Node
			if err := val.Encode(displayValue(v.Field(i))); err != nil {
				continue
			}
			out.Content = append(out.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: name}, &val)
		}
		return &out
	case reflect.Slice:
		items := make([]interface{}, v.Len())
		for i := range items {
			items[i] = displayValue(v.Index(i))
		}
		return items
	default:
		return v.Interface()
	}
}

// WriteDefaultSettings writes the default configuration to a YAML file.
func WriteDefaultSettings(path string) error {
	data, err := DefaultSettings().MarshalYAMLDocument()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
