// Package mailbox maps Mailchain messages to IMAP folders and makes sure
// those folders exist before anything is appended to them.
package mailbox

import (
	"strings"

	"github.com/nhle/mailchain-connector-imap/internal/model"
)

// Inbox is the root folder every routed path starts with.
const Inbox = "Inbox"

// mainnet is the network routed straight to Inbox when enabled.
const mainnet = "mainnet"

// FolderPath is an ordered list of folder names, outermost first.
type FolderPath []string

// Join renders the path with the server's hierarchy delimiter. A segment
// that itself contains the delimiter has it replaced with "_" so the
// rendered path always has exactly len(p) levels.
func (p FolderPath) Join(delim string) string {
	if delim == "" {
		return strings.Join(p, "")
	}
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = strings.ReplaceAll(seg, delim, "_")
	}
	return strings.Join(parts, delim)
}

// Prefixes returns every non-empty prefix of p, shortest first. The last
// element is p itself.
func (p FolderPath) Prefixes() []FolderPath {
	out := make([]FolderPath, 0, len(p))
	for i := 1; i <= len(p); i++ {
		out = append(out, p[:i:i])
	}
	return out
}

func (p FolderPath) String() string {
	return p.Join(DefaultDelimiter)
}

// Router computes the destination folder of a message.
type Router struct {
	mode           model.FolderMode
	mainnetToInbox bool
}

// NewRouter returns a Router for the given folder mode.
func NewRouter(mode model.FolderMode, mainnetToInbox bool) *Router {
	return &Router{mode: mode, mainnetToInbox: mainnetToInbox}
}

// NewRouterFromConfig returns a Router configured from cfg.
func NewRouterFromConfig(cfg *model.Config) *Router {
	return NewRouter(cfg.Mailchain.Folders, cfg.Mailchain.MainnetToInbox)
}

// Route returns the folder path for messages sent to t. The address is
// normalized for display first (ethereum addresses get their 0x prefix).
// An unknown folder mode is a configuration error.
func (r *Router) Route(t model.Target) (FolderPath, error) {
	if r.mainnetToInbox && strings.EqualFold(t.Network, mainnet) {
		return FolderPath{Inbox}, nil
	}

	address := model.NormalizeAddress(t.Protocol, t.Address)

	switch r.mode {
	case model.FolderByAddress:
		return FolderPath{Inbox, address, t.Protocol, t.Network}, nil
	case model.FolderByNetwork:
		return FolderPath{Inbox, t.Protocol, t.Network, address}, nil
	default:
		return nil, model.Errorf(model.KindConfig, "routing message",
			"unknown folder mode %q", r.mode)
	}
}
