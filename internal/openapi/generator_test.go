package openapi

import (
	"encoding/json"
	"testing"

	"github.com/fieldwatch/wkauth/internal/signing"
)

func TestGenerate_Info(t *testing.T) {
	doc := Generate("http://localhost:8080", "X-API-Key")

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("OpenAPI version = %q, want %q", doc.OpenAPI, "3.1.0")
	}
	if doc.Info == nil {
		t.Fatal("Info is nil")
	}
	if doc.Info.Title != "wkauth API" {
		t.Errorf("Info.Title = %q", doc.Info.Title)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("Servers not set correctly")
	}
}

func TestGenerate_SecuritySchemes(t *testing.T) {
	doc := Generate("http://localhost:8080", "X-Custom-Key")

	apiKey, ok := doc.Components.SecuritySchemes[SchemeAPIKey]
	if !ok {
		t.Fatal("apiKey security scheme not found")
	}
	if apiKey.Value.In != "header" || apiKey.Value.Name != "X-Custom-Key" {
		t.Errorf("apiKey scheme = %s %s, want header X-Custom-Key", apiKey.Value.In, apiKey.Value.Name)
	}

	bearer, ok := doc.Components.SecuritySchemes[SchemeBearer]
	if !ok {
		t.Fatal("bearerAuth security scheme not found")
	}
	if bearer.Value.Scheme != "bearer" || bearer.Value.BearerFormat != "JWT" {
		t.Errorf("bearerAuth = %s/%s", bearer.Value.Scheme, bearer.Value.BearerFormat)
	}

	sig, ok := doc.Components.SecuritySchemes[SchemeHMACSig]
	if !ok {
		t.Fatal("hmacSignature security scheme not found")
	}
	if sig.Value.Name != signing.HeaderSignature {
		t.Errorf("hmacSignature.Name = %q", sig.Value.Name)
	}
}

func TestGenerate_Paths(t *testing.T) {
	doc := Generate("", "X-API-Key")

	tests := []struct {
		path    string
		methods []string
	}{
		{"/healthz", []string{"GET"}},
		{"/readyz", []string{"GET"}},
		{"/api/v1/api-keys", []string{"GET", "POST"}},
		{"/api/v1/api-keys/{keyId}", []string{"DELETE"}},
		{"/api/v1/api-keys/{keyId}/rotate", []string{"POST"}},
		{"/api/v1/integrations/ping", []string{"GET"}},
		{"/api/v1/integrations/token", []string{"POST"}},
		{"/api/v1/integrations/whoami", []string{"GET"}},
		{"/api/v1/integrations/nextcloud/ping", []string{"GET"}},
		{"/api/v1/integrations/clients", []string{"GET", "POST"}},
		{"/api/v1/integrations/clients/{id}", []string{"GET", "PATCH"}},
		{"/api/v1/integrations/clients/{id}/rotate-secret", []string{"POST"}},
	}
	for _, tt := range tests {
		item := doc.Paths.Value(tt.path)
		if item == nil {
			t.Errorf("path %s not found", tt.path)
			continue
		}
		for _, m := range tt.methods {
			if item.GetOperation(m) == nil {
				t.Errorf("%s %s missing", m, tt.path)
			}
		}
	}
}

func TestGenerate_TokenRequiresKeyAndSignature(t *testing.T) {
	doc := Generate("", "X-API-Key")

	op := doc.Paths.Value("/api/v1/integrations/token").Post
	if op.Security == nil || len(*op.Security) != 1 {
		t.Fatalf("token security = %v", op.Security)
	}
	req := (*op.Security)[0]
	for _, name := range []string{SchemeAPIKey, SchemeHMACClient, SchemeHMACSig} {
		if _, ok := req[name]; !ok {
			t.Errorf("token security missing %s", name)
		}
	}
	if len(op.Parameters) != 2 {
		t.Errorf("token parameters = %d, want timestamp and nonce", len(op.Parameters))
	}

	nc := doc.Paths.Value("/api/v1/integrations/nextcloud/ping").Get
	if _, ok := (*nc.Security)[0][SchemeAPIKey]; ok {
		t.Error("nextcloud ping should not require an API key")
	}
}

func TestGenerate_HealthIsPublic(t *testing.T) {
	doc := Generate("", "X-API-Key")
	op := doc.Paths.Value("/healthz").Get
	if op.Security == nil || len(*op.Security) != 0 {
		t.Errorf("healthz security = %v, want empty", op.Security)
	}
}

func TestGenerate_ErrorResponses(t *testing.T) {
	doc := Generate("", "X-API-Key")

	if _, ok := doc.Components.Schemas["ErrorResponse"]; !ok {
		t.Fatal("ErrorResponse schema not found")
	}

	op := doc.Paths.Value("/api/v1/integrations/clients/{id}/rotate-secret").Post
	for _, code := range []string{"200", "404", "409", "500"} {
		if op.Responses.Value(code) == nil {
			t.Errorf("rotate-secret missing %s response", code)
		}
	}
	if *op.Responses.Value("409").Value.Description != "Conflict" {
		t.Errorf("409 description = %q", *op.Responses.Value("409").Value.Description)
	}
}

func TestGenerate_APIKeySchemaOmitsHash(t *testing.T) {
	doc := Generate("", "X-API-Key")

	props := doc.Components.Schemas["APIKey"].Value.Properties
	if _, ok := props["key_hash"]; ok {
		t.Error("APIKey schema must not expose key_hash")
	}
	if _, ok := props["api_key"]; !ok {
		t.Error("APIKey schema should document the one-time api_key field")
	}
}

func TestGenerate_MarshalsToJSON(t *testing.T) {
	doc := Generate("http://localhost:8080", "X-API-Key")

	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["openapi"] != "3.1.0" {
		t.Errorf("openapi = %v", out["openapi"])
	}
	if _, ok := out["paths"].(map[string]interface{})["/api/v1/api-keys"]; !ok {
		t.Error("marshaled document missing /api/v1/api-keys")
	}
}
