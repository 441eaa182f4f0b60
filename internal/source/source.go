// Package source defines what the sync loop needs from the Mailchain
// client API.
package source

import (
	"context"

	"github.com/nhle/mailchain-connector-imap/internal/model"
)

// Source is the Mailchain client API as seen by the sync loop.
type Source interface {
	// Version returns the client version. It doubles as the connectivity
	// check: any error means the API is unreachable.
	Version(ctx context.Context) (string, error)

	// Protocols returns every (protocol, network) pair the client serves.
	Protocols(ctx context.Context) ([]model.ProtocolNetwork, error)

	// Addresses returns the addresses configured for one pair.
	Addresses(ctx context.Context, pn model.ProtocolNetwork) ([]string, error)

	// Messages returns the messages received by one address. The result
	// includes records whose status is not "ok".
	Messages(ctx context.Context, target model.Target) ([]model.Message, error)
}
