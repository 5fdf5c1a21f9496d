package issuer

import (
	"context"
	"fmt"

	"github.com/ory/fosite"

	"github.com/torarnehave1/openauth-template/internal/registry"
)

// clientScopes are granted to every registered client. The engine rejects
// requests for scopes outside this set.
var clientScopes = []string{"openid", "profile", "email", "offline_access"}

// clientDirectory projects the immutable redirect registry into the shape the
// protocol engine expects. All clients are public: the credential proof is the
// resource owner's email, not a client secret.
type clientDirectory struct {
	registry *registry.Registry
}

func (d *clientDirectory) GetClient(_ context.Context, id string) (fosite.Client, error) {
	client, ok := d.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: unknown client %q", fosite.ErrNotFound, id)
	}
	return &fosite.DefaultClient{
		ID:            client.ClientID,
		RedirectURIs:  client.RedirectURIs,
		GrantTypes:    fosite.Arguments{"authorization_code", "refresh_token"},
		ResponseTypes: fosite.Arguments{"code"},
		Scopes:        fosite.Arguments(clientScopes),
		Public:        true,
	}, nil
}
