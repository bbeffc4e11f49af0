// Package earthengine is a small client for the Earth Engine v1 REST API.
//
// A Session is the explicit handle to the service. It is created once,
// fails hard if credentials cannot produce a token, and is passed to every
// component that issues requests.
package earthengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/trendfire/trendfire/pkg/telemetry"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://earthengine.googleapis.com"

// Scopes requested for Earth Engine access.
var Scopes = []string{
	"https://www.googleapis.com/auth/earthengine",
	"https://www.googleapis.com/auth/cloud-platform",
}

// Options configures NewSession.
type Options struct {
	// Project is the Cloud project that owns requests and assets.
	Project string

	// CredentialsFile is a service-account or authorized-user JSON key.
	// Empty means Application Default Credentials.
	CredentialsFile string

	// BaseURL overrides DefaultBaseURL.
	BaseURL string

	// TokenSource overrides credential discovery entirely.
	TokenSource oauth2.TokenSource

	// HTTPClient is the base client wrapped by the oauth2 transport.
	HTTPClient *http.Client

	// Timeout bounds each request (default: 60s).
	Timeout time.Duration
}

// Session is an authenticated handle to the API.
type Session struct {
	project string
	baseURL string
	client  *http.Client
}

// NewSession resolves credentials, obtains a first token, and returns a
// ready session. Any failure is returned wrapped in ErrNotInitialized; no
// request should be attempted without a session.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.Project == "" {
		return nil, fmt.Errorf("%w: project is required", ErrNotInitialized)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}

	ts := opts.TokenSource
	if ts == nil {
		creds, err := findCredentials(ctx, opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}
		ts = creds.TokenSource
	}
	ts = oauth2.ReuseTokenSource(nil, ts)

	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("%w: failed to obtain access token: %v", ErrNotInitialized, err)
	}

	client := oauth2.NewClient(ctx, ts)
	client.Timeout = opts.Timeout

	log.Debug().
		Str("project", opts.Project).
		Str("base_url", opts.BaseURL).
		Msg("earth engine session initialized")

	return &Session{
		project: opts.Project,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
	}, nil
}

func findCredentials(ctx context.Context, path string) (*google.Credentials, error) {
	if path == "" {
		creds, err := google.FindDefaultCredentials(ctx, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("no application default credentials: %w", err)
		}
		return creds, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	return creds, nil
}

// Project returns the Cloud project requests are billed to.
func (s *Session) Project() string {
	return s.project
}

// AssetName expands a relative asset id ("trends/all") into a full name
// under the session project. Full names are returned unchanged.
func (s *Session) AssetName(id string) string {
	return AssetName(s.project, id)
}

// AssetName expands a relative asset id under project.
func AssetName(project, id string) string {
	if strings.HasPrefix(id, "projects/") {
		return id
	}
	return fmt.Sprintf("projects/%s/assets/%s", project, strings.TrimPrefix(id, "/"))
}

// ExportImage submits an asynchronous image export and returns as soon as
// the service acknowledges it.
func (s *Session) ExportImage(ctx context.Context, req *ExportImageRequest) (*Operation, error) {
	var op Operation
	path := fmt.Sprintf("/v1/projects/%s/image:export", url.PathEscape(s.project))
	err := telemetry.RecordRemoteCall(ctx, "earthengine", "image.export", func() error {
		return s.do(ctx, "image.export", http.MethodPost, path, req, &op)
	})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// GetOperation fetches the current state of a long-running operation.
func (s *Session) GetOperation(ctx context.Context, name string) (*Operation, error) {
	var op Operation
	err := telemetry.RecordRemoteCall(ctx, "earthengine", "operations.get", func() error {
		return s.do(ctx, "operations.get", http.MethodGet, "/v1/"+strings.TrimPrefix(name, "/"), nil, &op)
	})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *Session) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Goog-User-Project", s.project)

	log.Debug().Str("method", method).Str("path", path).Msg("earth engine request")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Op:         op,
			HTTPStatus: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
		var envelope errorEnvelope
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
			apiErr.Status = envelope.Error.Status
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
