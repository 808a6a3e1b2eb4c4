// Package contacts defines the recipient resolver contract: mapping an
// opaque contact identifier to the deliverable addresses per channel. The
// contact directory itself is an external collaborator; this package only
// owns the client side.
package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Addresses holds the deliverable endpoints known for one recipient. Either
// field may be empty when the directory has nothing on file.
type Addresses struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Resolver maps a recipient contact id to its addresses. Resolution failure
// (directory unavailable) propagates as an error from the orchestrator.
type Resolver interface {
	Resolve(ctx context.Context, contactID string) (Addresses, error)
}

// HTTPResolver queries a contact-directory service over HTTP.
type HTTPResolver struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPResolver builds a resolver against baseURL, e.g.
// "http://contacts.internal". The timeout bounds each lookup; zero
// selects 10s.
func NewHTTPResolver(baseURL, token string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPResolver{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Resolve fetches GET {base}/contacts/{id} and decodes the address pair.
func (r *HTTPResolver) Resolve(ctx context.Context, contactID string) (Addresses, error) {
	u := fmt.Sprintf("%s/contacts/%s", r.baseURL, url.PathEscape(contactID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Addresses{}, fmt.Errorf("build contact lookup: %w", err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Addresses{}, fmt.Errorf("contact lookup %s: %w", contactID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown contact: no addresses on file, not a directory outage.
		return Addresses{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Addresses{}, fmt.Errorf("contact lookup %s: status %d", contactID, resp.StatusCode)
	}

	var a Addresses
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return Addresses{}, fmt.Errorf("contact lookup %s: decode: %w", contactID, err)
	}
	return a, nil
}

// Static is an in-memory resolver for tests and single-node setups.
type Static map[string]Addresses

// Resolve returns the configured addresses; unknown ids resolve to the
// empty pair, mirroring the directory's 404 behavior.
func (s Static) Resolve(_ context.Context, contactID string) (Addresses, error) {
	return s[contactID], nil
}
