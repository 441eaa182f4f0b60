// Package credential keeps the IMAP password in the OS keyring so it never
// has to be written to the config file.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"

	"github.com/nhle/mailchain-connector-imap/internal/model"
)

const serviceName = "mailchain-connector-imap"

// IMAPPasswordKey is the keyring key of the IMAP password.
const IMAPPasswordKey = "imap-password"

// ErrNotFound is returned when the keyring has no value for a key.
var ErrNotFound = errors.New("credential not found")

// Open is swapped out in tests.
var Open = openKeyring

// openKeyring returns a configured keyring instance. The file backend lives
// next to the config file.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(model.DefaultDir(), "credentials"),
		FilePasswordFunc:         filePassword,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// filePassword protects the file backend. MAILCHAIN_IMAP_KEYRING_PASSWORD
// overrides the built-in key.
func filePassword(string) (string, error) {
	if v := os.Getenv(model.EnvPrefix + "_KEYRING_PASSWORD"); v != "" {
		return v, nil
	}
	return serviceName + "-file-key", nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := Open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := Open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(value),
		Label:       "Mailchain IMAP connector",
		Description: "IMAP password",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := Open()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// PasswordEnv is the environment variable that overrides the stored
// IMAP password.
const PasswordEnv = model.EnvPrefix + "_IMAP_PASSWORD"

// ResolveIMAPPassword sets cfg.IMAP.Password from, in order, the
// environment, the keyring and the config file. A missing keyring entry
// keeps the file value, which may be empty so Config.Validate reports it.
func ResolveIMAPPassword(cfg *model.Config) error {
	if v := os.Getenv(PasswordEnv); v != "" {
		cfg.IMAP.Password = v
		return nil
	}
	pw, err := Get(IMAPPasswordKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		if cfg.IMAP.Password != "" {
			return nil
		}
		return err
	}
	cfg.IMAP.Password = pw
	return nil
}
