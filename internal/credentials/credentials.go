// Package credentials supplies the base URL and authorization for outbound calls.
//
// DESIGN: A Resolver is the only thing the transports know about auth:
//   - Static: Authorization: Bearer <token>, token chosen by precedence
//     (user API key, then access-code-derived credential, else omitted)
//   - SigV4:  AWS-signed requests for OpenAI-compatible endpoints hosted on AWS
package credentials

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// AccessCodePrefix marks a bearer token derived from an access code.
const AccessCodePrefix = "nk-"

// Resolver resolves endpoints and authorizes requests.
type Resolver interface {
	// URL joins path onto the configured base URL.
	URL(path string) string

	// Authorize adds auth headers to req.
	Authorize(req *http.Request) error

	// Client returns the HTTP client requests must be sent with.
	Client() *http.Client
}

// Config holds credential settings.
type Config struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	AccessCode string `yaml:"access_code"`
}

// Static authorizes with a bearer token.
type Static struct {
	baseURL    string
	apiKey     string
	accessCode string
	client     *http.Client
	mu         sync.RWMutex
}

// NewStatic creates a bearer-token resolver. A nil client uses a default one
// without a timeout; transports bound calls through their context.
func NewStatic(cfg Config, client *http.Client) *Static {
	if client == nil {
		client = &http.Client{}
	}
	return &Static{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		accessCode: cfg.AccessCode,
		client:     client,
	}
}

// SetAPIKey replaces the user credential, e.g. after a credential prompt.
func (s *Static) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(key)
}

// SetAccessCode replaces the access code.
func (s *Static) SetAccessCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessCode = strings.TrimSpace(code)
}

// Token returns the bearer token by precedence, or "" when none is configured.
func (s *Static) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.apiKey != "" {
		return s.apiKey
	}
	if s.accessCode != "" {
		return AccessCodePrefix + s.accessCode
	}
	return ""
}

// URL joins path onto the base URL.
func (s *Static) URL(path string) string {
	return joinURL(s.baseURL, path)
}

// Authorize sets the Authorization header when a token is available.
func (s *Static) Authorize(req *http.Request) error {
	if token := s.Token(); token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	return nil
}

// Client returns the HTTP client.
func (s *Static) Client() *http.Client {
	return s.client
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

var _ Resolver = (*Static)(nil)
