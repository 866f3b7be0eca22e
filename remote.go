package shelfsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RemoteCatalog is the engine's port to the authoritative catalog service.
type RemoteCatalog interface {
	// SubmitMutation transmits one change-set addressed by identity key.
	// Structured conflict replies (409/412 with a parsed payload) return a
	// response, not an error.
	SubmitMutation(ctx context.Context, key string, req MutationRequest) (*MutationResponse, error)

	// PullChanges requests all catalog changes since the given catalog
	// revision.
	PullChanges(ctx context.Context, sinceRev int64) (*PullResponse, error)
}

// HTTPDoer abstracts the HTTP client for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteConfig configures the HTTP remote catalog client.
type RemoteConfig struct {
	// Endpoint is the base URL of the remote catalog service. Empty
	// disables synchronization entirely.
	Endpoint string `yaml:"endpoint"`

	// Token is an optional bearer credential attached to every request.
	Token string `yaml:"token,omitempty"`

	// ClientID identifies this device on outbound requests.
	ClientID string `yaml:"client_id,omitempty"`

	// RequestTimeout bounds each network call. The worker loop provides no
	// timeout of its own, so this is the only bound on a hung call.
	// Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Retry configures in-call retries for transient failures.
	Retry RetryConfig `yaml:"-"`

	// HTTPClient overrides the HTTP client (tests).
	HTTPClient HTTPDoer `yaml:"-"`
}

// HTTPRemoteCatalog talks to the remote catalog service over HTTP. A
// circuit breaker sits in front of every call so repeated failures trip
// open and drain passes become cheap no-ops until the reset timeout.
type HTTPRemoteCatalog struct {
	config  RemoteConfig
	client  HTTPDoer
	retryer *Retryer
	cb      *CircuitBreaker
}

// NewHTTPRemoteCatalog creates an HTTP client for the remote catalog
// service.
func NewHTTPRemoteCatalog(config RemoteConfig) *HTTPRemoteCatalog {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	// NewRetryer fills zero-valued numeric fields one by one, so only the
	// classifier needs a default here. Caller-set fields are kept as is.
	if config.Retry.RetryIf == nil {
		config.Retry.RetryIf = IsRetryable
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout}
	}
	return &HTTPRemoteCatalog{
		config:  config,
		client:  client,
		retryer: NewRetryer(config.Retry),
		cb:      NewCircuitBreaker(5, 60*time.Second),
	}
}

// SubmitMutation sends a PATCH for the entity's identity key. HTTP 2xx and
// structured 409/412 conflict payloads both decode into a
// MutationResponse; everything else is a TransportError.
func (rc *HTTPRemoteCatalog) SubmitMutation(ctx context.Context, key string, req MutationRequest) (*MutationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &TransportError{Op: "mutate", Cause: err}
	}

	u := rc.config.Endpoint + "/api/v1/catalog/products/" + url.PathEscape(key)

	var resp *MutationResponse
	cbErr := rc.cb.Execute(func() error {
		result := rc.retryer.Do(ctx, func() error {
			var attemptErr error
			resp, attemptErr = rc.submitOnce(ctx, u, req.ChangesetID, body)
			return attemptErr
		})
		return result.LastErr
	})
	if cbErr != nil {
		return nil, cbErr
	}
	return resp, nil
}

func (rc *HTTPRemoteCatalog) submitOnce(ctx context.Context, u, changesetID string, body []byte) (*MutationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, rc.config.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "mutate", Cause: err}
	}
	rc.setHeaders(httpReq)
	httpReq.Header.Set("X-Shelfsync-Changeset-ID", changesetID)

	httpResp, err := rc.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "mutate", Temporary: true, Cause: err}
	}
	defer httpResp.Body.Close()

	status := httpResp.StatusCode
	structured := (status >= 200 && status < 300) ||
		status == http.StatusConflict || status == http.StatusPreconditionFailed
	if !structured {
		io.Copy(io.Discard, httpResp.Body)
		return nil, &TransportError{
			Op:        "mutate",
			Status:    status,
			Temporary: status >= 500 || status == http.StatusTooManyRequests,
		}
	}

	var resp MutationResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		// An unparseable body on an otherwise structured status is
		// treated as transient and retried.
		return nil, &TransportError{Op: "mutate", Status: status, Temporary: true, Cause: err}
	}
	return &resp, nil
}

// PullChanges requests all changes since sinceRev.
func (rc *HTTPRemoteCatalog) PullChanges(ctx context.Context, sinceRev int64) (*PullResponse, error) {
	var resp *PullResponse
	cbErr := rc.cb.Execute(func() error {
		result := rc.retryer.Do(ctx, func() error {
			var attemptErr error
			resp, attemptErr = rc.pullOnce(ctx, sinceRev)
			return attemptErr
		})
		return result.LastErr
	})
	if cbErr != nil {
		return nil, cbErr
	}
	return resp, nil
}

func (rc *HTTPRemoteCatalog) pullOnce(ctx context.Context, sinceRev int64) (*PullResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, rc.config.RequestTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/api/v1/catalog/changes?since_rev=%s",
		rc.config.Endpoint, strconv.FormatInt(sinceRev, 10))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &TransportError{Op: "pull", Cause: err}
	}
	rc.setHeaders(httpReq)

	httpResp, err := rc.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "pull", Temporary: true, Cause: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, httpResp.Body)
		return nil, &TransportError{
			Op:        "pull",
			Status:    httpResp.StatusCode,
			Temporary: httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests,
		}
	}

	var resp PullResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, &TransportError{Op: "pull", Status: httpResp.StatusCode, Temporary: true, Cause: err}
	}
	return &resp, nil
}

func (rc *HTTPRemoteCatalog) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if rc.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rc.config.Token)
	}
	if rc.config.ClientID != "" {
		req.Header.Set("X-Shelfsync-Client-ID", rc.config.ClientID)
	}
}
