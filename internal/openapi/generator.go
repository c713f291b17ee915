package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/fieldwatch/wkauth/internal/signing"
)

// Security scheme names used in the document.
const (
	SchemeAPIKey     = "apiKey"
	SchemeBearer     = "bearerAuth"
	SchemeHMACClient = "hmacClientId"
	SchemeHMACSig    = "hmacSignature"
)

// Generate builds the OpenAPI 3.1 document for the wkauth HTTP API.
// apiKeyHeader is the header name API keys are read from.
func Generate(baseURL, apiKeyHeader string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "wkauth API",
			Description: "API keys, signed integration requests, and integration tokens.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	addSecuritySchemes(doc, apiKeyHeader)
	addSchemas(doc)

	doc.Paths = openapi3.NewPaths()
	addHealthPaths(doc)
	addAPIKeyPaths(doc)
	addIntegrationPaths(doc)
	addClientPaths(doc)

	return doc
}

// ─── Security ───────────────────────────────────────────────────────────────

func addSecuritySchemes(doc *openapi3.T, apiKeyHeader string) {
	doc.Components.SecuritySchemes[SchemeAPIKey] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: apiKeyHeader,
		},
	}
	doc.Components.SecuritySchemes[SchemeBearer] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	// The signature scheme spans four headers; the client id and signature
	// are declared and the timestamp/nonce headers are listed per operation.
	doc.Components.SecuritySchemes[SchemeHMACClient] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: signing.HeaderClientID,
		},
	}
	doc.Components.SecuritySchemes[SchemeHMACSig] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "apiKey",
			In:          "header",
			Name:        signing.HeaderSignature,
			Description: "Hex HMAC-SHA256 over METHOD, path, canonical query, timestamp, nonce, and the body's SHA-256, joined by newlines.",
		},
	}
}

func requireBearer() *openapi3.SecurityRequirements {
	return &openapi3.SecurityRequirements{{SchemeBearer: {}}}
}

func requireAPIKey() *openapi3.SecurityRequirements {
	return &openapi3.SecurityRequirements{{SchemeAPIKey: {}}}
}

func requireHMAC(withAPIKey bool) *openapi3.SecurityRequirements {
	req := openapi3.SecurityRequirement{SchemeHMACClient: {}, SchemeHMACSig: {}}
	if withAPIKey {
		req[SchemeAPIKey] = []string{}
	}
	return &openapi3.SecurityRequirements{req}
}

func noAuth() *openapi3.SecurityRequirements {
	return &openapi3.SecurityRequirements{}
}

// ─── Schemas ────────────────────────────────────────────────────────────────

func str() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
}

func nullableTime() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string", "null"}, Format: "date-time"}}
}

func timestamp() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}}
}

func boolean() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
}

func scope() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"string"},
		Enum: []interface{}{"read", "write", "admin"},
	}}
}

func object(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

// envelope wraps data in the success envelope schema.
func envelope(data *openapi3.SchemaRef) *openapi3.SchemaRef {
	return object(openapi3.Schemas{
		"status":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}},
		"message": str(),
		"data":    data,
		"errors":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"null"}}},
	}, "status", "message", "data")
}

func addSchemas(doc *openapi3.T) {
	s := doc.Components.Schemas

	s["ErrorResponse"] = object(openapi3.Schemas{
		"error": object(openapi3.Schemas{
			"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
			"message": str(),
			"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
		}, "code", "message"),
	}, "error")

	s["APIKey"] = object(openapi3.Schemas{
		"id":           str(),
		"name":         str(),
		"scope":        scope(),
		"prefix":       str(),
		"last4":        str(),
		"created_at":   timestamp(),
		"expires_at":   nullableTime(),
		"revoked_at":   nullableTime(),
		"last_used_at": nullableTime(),
		"api_key":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: "Plaintext key. Present only when the key is created or rotated."}},
	}, "id", "name", "scope", "prefix", "last4")

	s["CreateAPIKey"] = object(openapi3.Schemas{
		"name":       openapi3.NewStringSchema().WithMaxLength(128).NewRef(),
		"scope":      scope(),
		"expires_at": nullableTime(),
	}, "name")

	s["RotateAPIKey"] = object(openapi3.Schemas{
		"name":       str(),
		"scope":      scope(),
		"expires_at": nullableTime(),
	})

	s["IntegrationClient"] = object(openapi3.Schemas{
		"id":                  str(),
		"name":                str(),
		"client_id":           str(),
		"is_active":           boolean(),
		"rotated_at":          nullableTime(),
		"previous_expires_at": nullableTime(),
		"created_at":          timestamp(),
		"updated_at":          timestamp(),
	}, "id", "name", "client_id", "is_active")

	s["IntegrationClientSecret"] = object(openapi3.Schemas{
		"id":            str(),
		"name":          str(),
		"client_id":     str(),
		"client_secret": str(),
	}, "client_id", "client_secret")

	s["RotatedClientSecret"] = object(openapi3.Schemas{
		"client_id":            str(),
		"client_secret":        str(),
		"previous_valid_until": nullableTime(),
	}, "client_id", "client_secret")

	s["IntegrationToken"] = object(openapi3.Schemas{
		"access":     str(),
		"token_type": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []interface{}{"Bearer"}}},
		"expires_in": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}},
	}, "access", "token_type", "expires_in")
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func addHealthPaths(doc *openapi3.T) {
	health := object(openapi3.Schemas{"status": str()}, "status")
	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: operation("health", "liveness", "Liveness probe", noAuth(), newResponses("200", "Alive", health)),
	})
	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: operation("health", "readiness", "Readiness probe: store and nonce store reachable", noAuth(),
			newResponses("200", "Ready", health, "503")),
	})
}

func addAPIKeyPaths(doc *openapi3.T) {
	list := &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: ref("APIKey")}}

	doc.Paths.Set("/api/v1/api-keys", &openapi3.PathItem{
		Get: operation("api-keys", "listAPIKeys", "List the caller's API keys", requireBearer(),
			newResponses("200", "API keys", envelope(list), "401")),
		Post: withBody(operation("api-keys", "createAPIKey", "Create an API key", requireBearer(),
			newResponses("201", "API key created", envelope(ref("APIKey")), "400", "401")), ref("CreateAPIKey")),
	})

	keyID := pathParam("keyId", "API key id")
	doc.Paths.Set("/api/v1/api-keys/{keyId}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyID},
		Delete: operation("api-keys", "revokeAPIKey", "Revoke an API key", requireBearer(),
			newResponses("200", "API key revoked", envelope(&openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"null"}}}), "401", "403", "404")),
	})
	doc.Paths.Set("/api/v1/api-keys/{keyId}/rotate", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyID},
		Post: withBody(operation("api-keys", "rotateAPIKey", "Revoke an API key and issue its replacement", requireBearer(),
			newResponses("201", "API key rotated", envelope(ref("APIKey")), "400", "401", "403", "404")), ref("RotateAPIKey")),
	})
}

func addIntegrationPaths(doc *openapi3.T) {
	ping := object(openapi3.Schemas{
		"ok":          boolean(),
		"auth":        str(),
		"user_id":     str(),
		"key_id":      str(),
		"scope":       scope(),
		"server_time": timestamp(),
	})
	doc.Paths.Set("/api/v1/integrations/ping", &openapi3.PathItem{
		Get: operation("integrations", "ping", "Check an API key", requireAPIKey(),
			newResponses("200", "pong", envelope(ping), "401", "429")),
	})

	token := operation("integrations", "issueToken", "Exchange a signed API key request for a bearer token", requireHMAC(true),
		newResponses("200", "Integration token issued", envelope(ref("IntegrationToken")), "401", "403", "413", "429", "503"))
	token.Parameters = signatureParameters()
	doc.Paths.Set("/api/v1/integrations/token", &openapi3.PathItem{Post: token})

	whoami := object(openapi3.Schemas{"sub": str(), "scope": str(), "server_time": timestamp()})
	doc.Paths.Set("/api/v1/integrations/whoami", &openapi3.PathItem{
		Get: operation("integrations", "whoami", "Echo integration token claims", requireBearer(),
			newResponses("200", "Integration identity", envelope(whoami), "401")),
	})

	ncPing := operation("integrations", "nextcloudPing", "Check a request signature", requireHMAC(false),
		newResponses("200", "Signature accepted", object(openapi3.Schemas{"ok": boolean(), "client_id": str()}), "403", "429", "503"))
	ncPing.Parameters = signatureParameters()
	doc.Paths.Set("/api/v1/integrations/nextcloud/ping", &openapi3.PathItem{Get: ncPing})
}

func addClientPaths(doc *openapi3.T) {
	list := &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: ref("IntegrationClient")}}
	create := object(openapi3.Schemas{"name": str(), "is_active": boolean()}, "name")
	update := object(openapi3.Schemas{"name": str(), "is_active": boolean()})

	doc.Paths.Set("/api/v1/integrations/clients", &openapi3.PathItem{
		Get: operation("clients", "listClients", "List integration clients", requireBearer(),
			newResponses("200", "Integration clients", envelope(list), "401", "403")),
		Post: withBody(operation("clients", "createClient", "Register an integration client", requireBearer(),
			newResponses("201", "Integration client created", envelope(ref("IntegrationClientSecret")), "400", "401", "403", "409")), create),
	})

	id := pathParam("id", "Integration client id")
	doc.Paths.Set("/api/v1/integrations/clients/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{id},
		Get: operation("clients", "getClient", "Read an integration client", requireBearer(),
			newResponses("200", "Integration client", envelope(ref("IntegrationClient")), "401", "403", "404")),
		Patch: withBody(operation("clients", "updateClient", "Rename, enable, or disable a client", requireBearer(),
			newResponses("200", "Integration client updated", envelope(ref("IntegrationClient")), "400", "401", "403", "404")), update),
	})
	doc.Paths.Set("/api/v1/integrations/clients/{id}/rotate-secret", &openapi3.PathItem{
		Parameters: openapi3.Parameters{id},
		Post: operation("clients", "rotateClientSecret", "Issue a new client secret", requireBearer(),
			newResponses("200", "Integration client secret rotated", envelope(ref("RotatedClientSecret")), "401", "403", "404", "409")),
	})
}

// ─── Operation Helpers ──────────────────────────────────────────────────────

func operation(tag, id, summary string, security *openapi3.SecurityRequirements, responses *openapi3.Responses) *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{tag},
		Summary:     summary,
		OperationID: id,
		Security:    security,
		Responses:   responses,
	}
}

func withBody(op *openapi3.Operation, schema *openapi3.SchemaRef) *openapi3.Operation {
	op.RequestBody = &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: true,
			Content:  openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
	return op
}

func pathParam(name, description string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          "path",
			Required:    true,
			Description: description,
			Schema:      str(),
		},
	}
}

func headerParam(name, description string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          "header",
			Required:    true,
			Description: description,
			Schema:      str(),
		},
	}
}

// signatureParameters lists the signature headers other than the two
// declared as security schemes.
func signatureParameters() openapi3.Parameters {
	return openapi3.Parameters{
		headerParam(signing.HeaderTimestamp, "Unix seconds; must be within the allowed skew"),
		headerParam(signing.HeaderNonce, "Single-use value, unique per client"),
	}
}

// ─── Response Helpers ───────────────────────────────────────────────────────

var errorDescriptions = map[string]string{
	"400": "Bad request",
	"401": "Invalid credentials",
	"403": "Forbidden or invalid request signature",
	"404": "Not found",
	"409": "Conflict",
	"413": "Request body too large",
	"429": "Too many requests",
	"503": "Backend unavailable",
}

// newResponses builds a Responses map with a success response, the listed
// error responses, and a 500.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes ...string) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := ref("ErrorResponse")
	for _, code := range append(errorCodes, "500") {
		desc, ok := errorDescriptions[code]
		if !ok {
			desc = "Internal server error"
		}
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
