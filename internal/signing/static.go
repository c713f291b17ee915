package signing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Static client configuration error codes.
const (
	ConfigMissing   = "missing_config"
	ConfigBadJSON   = "bad_json"
	ConfigBadBase64 = "bad_base64"
)

// ConfigError reports an unusable static client configuration.
type ConfigError struct {
	Code string
	Msg  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("static clients: %s: %s", e.Code, e.Msg)
}

// StaticClients maps client ids to raw secret bytes loaded from configuration.
type StaticClients map[string][]byte

// ParseStaticClients decodes a JSON object of client id to base64 secret.
// Keys are trimmed and must be unique after trimming.
func ParseStaticClients(raw string) (StaticClients, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ConfigError{Code: ConfigMissing, Msg: "no clients configured"}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, &ConfigError{Code: ConfigBadJSON, Msg: err.Error()}
	}
	if len(obj) == 0 {
		return nil, &ConfigError{Code: ConfigMissing, Msg: "client map is empty"}
	}

	clients := make(StaticClients, len(obj))
	for k, v := range obj {
		id := strings.TrimSpace(k)
		if id == "" {
			return nil, &ConfigError{Code: ConfigBadJSON, Msg: "empty client id"}
		}
		if _, dup := clients[id]; dup {
			return nil, &ConfigError{Code: ConfigBadJSON, Msg: fmt.Sprintf("duplicate client id %q", id)}
		}
		s, ok := v.(string)
		if !ok {
			return nil, &ConfigError{Code: ConfigBadJSON, Msg: fmt.Sprintf("secret for %q is not a string", id)}
		}
		secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, &ConfigError{Code: ConfigBadBase64, Msg: fmt.Sprintf("secret for %q: %v", id, err)}
		}
		if len(secret) == 0 {
			return nil, &ConfigError{Code: ConfigBadBase64, Msg: fmt.Sprintf("secret for %q is empty", id)}
		}
		clients[id] = secret
	}
	return clients, nil
}

// ResolveClient implements ClientResolver. Static clients are always active.
func (s StaticClients) ResolveClient(_ context.Context, clientID string) (*ResolvedClient, error) {
	secret, ok := s[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	return &ResolvedClient{ClientID: clientID, Active: true, Secrets: [][]byte{secret}}, nil
}
