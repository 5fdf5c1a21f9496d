// Package registry holds the immutable mapping from client identifier to the
// redirect URIs that client is permitted to use. It is built once at process
// start and shared read-only across concurrent handlers.
package registry

import (
	"github.com/torarnehave1/openauth-template/internal/platform/config"
	dErrors "github.com/torarnehave1/openauth-template/pkg/domain-errors"
)

// Client is one registered application.
//
// Invariants:
//   - ClientID is non-empty and unique across the registry
//   - RedirectURIs is non-empty
//   - entries are exact-match strings; slash variants must be enumerated
type Client struct {
	ClientID     string
	RedirectURIs []string
}

// Registry is the immutable client lookup table. The zero value is unusable;
// construct with New.
type Registry struct {
	clients map[string]Client
	// order preserves registration order so Default is deterministic.
	order []string
}

// New validates the configured entries and builds the registry.
func New(entries []config.ClientEntry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client registry cannot be empty")
	}

	clients := make(map[string]Client, len(entries))
	order := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.ClientID == "" {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "client_id cannot be empty")
		}
		if _, exists := clients[entry.ClientID]; exists {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "duplicate client_id: "+entry.ClientID)
		}
		if len(entry.RedirectURIs) == 0 {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "redirect_uris cannot be empty for client "+entry.ClientID)
		}
		uris := make([]string, len(entry.RedirectURIs))
		copy(uris, entry.RedirectURIs)
		clients[entry.ClientID] = Client{ClientID: entry.ClientID, RedirectURIs: uris}
		order = append(order, entry.ClientID)
	}

	return &Registry{clients: clients, order: order}, nil
}

// Lookup returns the redirect URIs registered for the client, or an empty
// slice when the client is unknown. Absence is not an error.
func (r *Registry) Lookup(clientID string) []string {
	client, ok := r.clients[clientID]
	if !ok {
		return nil
	}
	uris := make([]string, len(client.RedirectURIs))
	copy(uris, client.RedirectURIs)
	return uris
}

// Allows reports whether the client may use the redirect URI. Matching is
// exact string equality with no normalization.
func (r *Registry) Allows(clientID, redirectURI string) bool {
	client, ok := r.clients[clientID]
	if !ok {
		return false
	}
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// Get returns the full registration for a client.
func (r *Registry) Get(clientID string) (Client, bool) {
	client, ok := r.clients[clientID]
	return client, ok
}

// Default returns the first registered client. The landing presenter uses it
// to construct the default authorization URL.
func (r *Registry) Default() Client {
	return r.clients[r.order[0]]
}
