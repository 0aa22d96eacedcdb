package models

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// AuthType identifies how a source request is authenticated
type AuthType string

const (
	// AuthBearer sends Authorization: Bearer <value>
	AuthBearer AuthType = "bearer"
	// AuthBasic sends Authorization: Basic <value>
	AuthBasic AuthType = "basic"
	// AuthAPIKey sends the value under a configured header name
	AuthAPIKey AuthType = "api_key"
)

// AuthDescriptor describes how to authenticate against a source. Values are
// resolved (decrypted) by the credential collaborator before reaching the
// pipeline.
type AuthDescriptor struct {
	Type AuthType `json:"type"`
	// Value is the token, base64 user:pass, or api key
	Value string `json:"value"`
	// Header is the header name for api_key auth (default X-Api-Key)
	Header string `json:"header,omitempty"`
}

// Source is one downloadable endpoint attached to a schedule
type Source struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Auth    *AuthDescriptor   `json:"auth,omitempty"`
	// Kind is the declared file kind (csv, json, xlsx); sniffed when empty
	Kind string `json:"kind,omitempty"`
}

// HTTPMethod returns the configured method, defaulting to GET.
func (s *Source) HTTPMethod() string {
	if s.Method == "" {
		return http.MethodGet
	}

	return strings.ToUpper(s.Method)
}

// ApplyAuth sets the authentication headers for this source on req.
func (s *Source) ApplyAuth(req *http.Request) {
	if s.Auth == nil {
		return
	}

	switch s.Auth.Type {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+s.Auth.Value)
	case AuthBasic:
		value := s.Auth.Value
		// Accept raw user:pass as well as pre-encoded values
		if strings.Contains(value, ":") {
			value = base64.StdEncoding.EncodeToString([]byte(value))
		}
		req.Header.Set("Authorization", "Basic "+value)
	case AuthAPIKey:
		header := s.Auth.Header
		if header == "" {
			header = "X-Api-Key"
		}
		req.Header.Set(header, s.Auth.Value)
	}
}
