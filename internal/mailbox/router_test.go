package mailbox

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nhle/mailchain-connector-imap/internal/model"
)

func TestRoute(t *testing.T) {
	cases := []struct {
		name           string
		mode           model.FolderMode
		mainnetToInbox bool
		target         model.Target
		delim          string
		want           string
	}{
		{
			name:   "by address",
			mode:   model.FolderByAddress,
			target: model.Target{Protocol: "ethereum", Network: "ropsten", Address: "abc123"},
			delim:  "/",
			want:   "Inbox/0xabc123/ethereum/ropsten",
		},
		{
			name:   "by network",
			mode:   model.FolderByNetwork,
			target: model.Target{Protocol: "ethereum", Network: "ropsten", Address: "abc123"},
			delim:  ".",
			want:   "Inbox.ethereum.ropsten.0xabc123",
		},
		{
			name:           "mainnet to inbox any case",
			mode:           model.FolderByAddress,
			mainnetToInbox: true,
			target:         model.Target{Protocol: "ethereum", Network: "MainNet", Address: "abc123"},
			delim:          "/",
			want:           "Inbox",
		},
		{
			name:           "mainnet to inbox only for mainnet",
			mode:           model.FolderByNetwork,
			mainnetToInbox: true,
			target:         model.Target{Protocol: "ethereum", Network: "kovan", Address: "0xabc"},
			delim:          "/",
			want:           "Inbox/ethereum/kovan/0xabc",
		},
		{
			name:   "mainnet kept in folders when disabled",
			mode:   model.FolderByNetwork,
			target: model.Target{Protocol: "ethereum", Network: "mainnet", Address: "abc"},
			delim:  "/",
			want:   "Inbox/ethereum/mainnet/0xabc",
		},
		{
			name:   "non ethereum address untouched",
			mode:   model.FolderByAddress,
			target: model.Target{Protocol: "substrate", Network: "edgeware-beresheet", Address: "5Dfh"},
			delim:  "/",
			want:   "Inbox/5Dfh/substrate/edgeware-beresheet",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter(tc.mode, tc.mainnetToInbox)
			path, err := r.Route(tc.target)
			if err != nil {
				t.Fatalf("Route(%+v): %v", tc.target, err)
			}
			if got := path.Join(tc.delim); got != tc.want {
				t.Errorf("Route(%+v).Join(%q) = %q, want %q", tc.target, tc.delim, got, tc.want)
			}

			again, err := r.Route(tc.target)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(path, again); diff != "" {
				t.Errorf("Route is not deterministic (-first +second):\n%s", diff)
			}
		})
	}
}

func TestRouteUnknownModeFails(t *testing.T) {
	r := NewRouter("by_planet", false)
	path, err := r.Route(model.Target{Protocol: "ethereum", Network: "ropsten", Address: "abc"})
	if err == nil {
		t.Fatalf("Route() = %v, want error", path)
	}
	if !model.IsKind(err, model.KindConfig) {
		t.Errorf("Route() error kind = %v, want config", model.KindOf(err))
	}

	// The mainnet override does not depend on the folder mode.
	r = NewRouter("by_planet", true)
	if _, err := r.Route(model.Target{Protocol: "ethereum", Network: "mainnet", Address: "abc"}); err != nil {
		t.Errorf("mainnet override with unknown mode: %v", err)
	}
}

func TestFolderPathJoinEscapesDelimiter(t *testing.T) {
	p := FolderPath{"Inbox", "a/b", "c"}
	if got, want := p.Join("/"), "Inbox/a_b/c"; got != want {
		t.Errorf("Join = %q, want %q", got, want)
	}
	if got, want := p.Join("."), "Inbox.a/b.c"; got != want {
		t.Errorf("Join = %q, want %q", got, want)
	}
}

func TestFolderPathPrefixes(t *testing.T) {
	p := FolderPath{"Inbox", "a", "b", "c"}
	var got []string
	for _, prefix := range p.Prefixes() {
		got = append(got, prefix.Join("/"))
	}
	want := []string{"Inbox", "Inbox/a", "Inbox/a/b", "Inbox/a/b/c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Prefixes() mismatch (-want +got):\n%s", diff)
	}
}
