package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/99designs/keyring"

	"github.com/nhle/mailchain-connector-imap/internal/credential"
	"github.com/nhle/mailchain-connector-imap/internal/model"
)

func useEmptyKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	prev := credential.Open
	credential.Open = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { credential.Open = prev })
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := &model.Config{
		IMAP: model.IMAPConfig{Server: "imap.example.com", Port: 993, Username: "me", SSL: true},
		Mailchain: model.MailchainConfig{
			Hostname:    "127.0.0.1",
			Port:        8080,
			Folders:     model.FolderByAddress,
			IntervalSec: 300,
		},
		Store: model.StoreConfig{Dir: dir},
		Log:   model.LogConfig{Level: "info", Format: "text"},
	}
	if err := model.SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	return path
}

func TestLoadValidConfigRequiresPassword(t *testing.T) {
	useEmptyKeyring(t)
	t.Setenv(credential.PasswordEnv, "")

	_, err := loadValidConfig(&rootOptions{configPath: writeConfig(t)})
	if !model.IsKind(err, model.KindConfig) {
		t.Fatalf("err = %v, want a config error", err)
	}
}

func TestLoadValidConfigAppliesOverrides(t *testing.T) {
	useEmptyKeyring(t)
	t.Setenv(credential.PasswordEnv, "from-env")

	cfg, err := loadValidConfig(&rootOptions{configPath: writeConfig(t), logLevel: "debug"})
	if err != nil {
		t.Fatalf("loadValidConfig: %v", err)
	}
	if cfg.IMAP.Password != "from-env" {
		t.Errorf("password = %q", cfg.IMAP.Password)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
}

func TestPrintConfigCommands(t *testing.T) {
	useEmptyKeyring(t)
	t.Setenv(credential.PasswordEnv, "hunter2")
	path := writeConfig(t)

	for _, args := range [][]string{
		{"print-config", "--config", path},
		{"--print-config", "--config", path},
	} {
		t.Run(strings.Join(args[:1], ""), func(t *testing.T) {
			var out bytes.Buffer
			cmd := newRootCmd(&out)
			cmd.SetArgs(args)
			if err := cmd.Execute(); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			got := out.String()
			if !strings.Contains(got, "imap.example.com") || !strings.Contains(got, "Address>Protocol>Network") {
				t.Errorf("unexpected output:\n%s", got)
			}
			if strings.Contains(got, "hunter2") {
				t.Error("password printed")
			}
		})
	}
}

func TestRunChecksReportsEveryCheck(t *testing.T) {
	var ran []string
	checks := []connectionCheck{
		{name: "IMAP", run: func(context.Context) (string, error) {
			ran = append(ran, "IMAP")
			return "", errors.New("connection refused")
		}},
		{name: "Mailchain", run: func(context.Context) (string, error) {
			ran = append(ran, "Mailchain")
			return "client version 0.1.0", nil
		}},
	}

	var out bytes.Buffer
	err := runChecks(context.Background(), &out, checks)
	if !errors.Is(err, errChecksFailed) {
		t.Fatalf("err = %v, want errChecksFailed", err)
	}
	if len(ran) != 2 {
		t.Errorf("ran = %v, want both checks", ran)
	}
	for _, want := range []string{"IMAP: connection refused", "Mailchain: client version 0.1.0"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunChecksAllPass(t *testing.T) {
	checks := []connectionCheck{
		{name: "Ledger", run: func(context.Context) (string, error) { return "0 messages delivered so far", nil }},
	}
	if err := runChecks(context.Background(), &bytes.Buffer{}, checks); err != nil {
		t.Errorf("runChecks: %v", err)
	}
}
