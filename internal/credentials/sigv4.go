// SigV4 signing for OpenAI-compatible endpoints served from AWS.
//
// Provides an http.RoundTripper that signs every request with AWS SigV4, so the
// transports can stay unaware of AWS. Credentials come from the standard chain
// (env, shared config, IAM role) via aws-sdk-go-v2/config.
package credentials

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// SigV4Config holds AWS signing settings.
type SigV4Config struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
	Service string `yaml:"service"` // Signing name (default: bedrock)
}

// SigningTransport is an http.RoundTripper that signs requests with AWS SigV4.
type SigningTransport struct {
	credentials aws.CredentialsProvider
	region      string
	service     string
	signer      *v4.Signer
	base        http.RoundTripper
}

// NewSigningTransport creates a signing transport from explicit credentials.
// A nil base uses http.DefaultTransport.
func NewSigningTransport(creds aws.CredentialsProvider, region, service string, base http.RoundTripper) *SigningTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if service == "" {
		service = "bedrock"
	}
	return &SigningTransport{
		credentials: creds,
		region:      region,
		service:     service,
		signer:      v4.NewSigner(),
		base:        base,
	}
}

// RoundTrip signs the request and forwards it to the base transport.
func (t *SigningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body for signing: %w", err)
		}
		_ = req.Body.Close()
	}

	// RoundTrippers must not modify the caller's request.
	signed := req.Clone(req.Context())
	signed.Body = io.NopCloser(bytes.NewReader(body))
	signed.ContentLength = int64(len(body))

	creds, err := t.credentials.Retrieve(req.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	payloadHash := fmt.Sprintf("%x", sha256.Sum256(body))
	if err := t.signer.SignHTTP(req.Context(), creds, signed, payloadHash, t.service, t.region, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	return t.base.RoundTrip(signed)
}

// SigV4 resolves endpoints and signs requests instead of sending a bearer token.
type SigV4 struct {
	baseURL string
	client  *http.Client
}

// NewSigV4 loads AWS credentials from the default chain and builds a signing resolver.
func NewSigV4(ctx context.Context, baseURL string, cfg SigV4Config) (*SigV4, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	return NewSigV4WithCredentials(baseURL, awsCfg.Credentials, region, cfg.Service, nil), nil
}

// NewSigV4WithCredentials builds a signing resolver from explicit credentials.
func NewSigV4WithCredentials(baseURL string, creds aws.CredentialsProvider, region, service string, base http.RoundTripper) *SigV4 {
	return &SigV4{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Transport: NewSigningTransport(creds, region, service, base)},
	}
}

// URL joins path onto the base URL.
func (s *SigV4) URL(path string) string {
	return joinURL(s.baseURL, path)
}

// Authorize is a no-op: the transport signs the request.
func (s *SigV4) Authorize(*http.Request) error {
	return nil
}

// Client returns the signing HTTP client.
func (s *SigV4) Client() *http.Client {
	return s.client
}

var _ Resolver = (*SigV4)(nil)
