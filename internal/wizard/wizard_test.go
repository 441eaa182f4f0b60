package wizard

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nhle/mailchain-connector-imap/internal/model"
)

func baseConfig() *model.Config {
	return &model.Config{
		IMAP: model.IMAPConfig{Server: "imap.example.com", Port: 993, Username: "me", SSL: true},
		Mailchain: model.MailchainConfig{
			Hostname:    "127.0.0.1",
			Port:        8080,
			Folders:     model.FolderByNetwork,
			IntervalSec: 300,
		},
		Store: model.StoreConfig{Dir: "/tmp/state"},
		Log:   model.LogConfig{Level: "info", Format: "text"},
	}
}

func TestApplyRoundTrip(t *testing.T) {
	base := baseConfig()
	got, err := fromConfig(base).apply(base)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if diff := cmp.Diff(base, got); diff != "" {
		t.Errorf("unchanged form altered config (-want +got):\n%s", diff)
	}
	if got == base {
		t.Error("apply returned the base config instead of a copy")
	}
}

func TestApplyEdits(t *testing.T) {
	base := baseConfig()
	v := fromConfig(base)
	v.imapSSL = false
	v.imapStartTLS = true
	v.imapPort = " 143 "
	v.folders = string(model.FolderByAddress)
	v.mainnetToInbox = true
	v.interval = "10"

	got, err := v.apply(base)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.IMAP.Port != 143 || got.IMAP.SSL || !got.IMAP.StartTLS {
		t.Errorf("IMAP = %+v", got.IMAP)
	}
	if got.Mailchain.Folders != model.FolderByAddress || !got.Mailchain.MainnetToInbox {
		t.Errorf("Mailchain = %+v", got.Mailchain)
	}
	if got.PollInterval() != model.MinPollInterval {
		t.Errorf("PollInterval() = %v, want %v", got.PollInterval(), model.MinPollInterval)
	}
	if base.IMAP.Port != 993 {
		t.Error("apply modified the base config")
	}
}

func TestApplyRejectsBadNumbers(t *testing.T) {
	base := baseConfig()
	v := fromConfig(base)
	v.apiPort = "eighty"
	if _, err := v.apply(base); err == nil {
		t.Error("apply accepted a non-numeric port")
	}
}

func TestValidators(t *testing.T) {
	for _, s := range []string{"", "abc", "0", "70000"} {
		if validatePort(s) == nil {
			t.Errorf("validatePort(%q) = nil", s)
		}
	}
	if err := validatePort("993"); err != nil {
		t.Errorf("validatePort(993) = %v", err)
	}
	for _, s := range []string{"", "-5", "0", "soon"} {
		if validateInterval(s) == nil {
			t.Errorf("validateInterval(%q) = nil", s)
		}
	}
	if err := validateInterval("10"); err != nil {
		t.Errorf("validateInterval(10) = %v", err)
	}
	if validateRequired("Server")("  ") == nil {
		t.Error("validateRequired accepted blank input")
	}
}
