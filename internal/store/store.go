package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintPrefix namespaces ledger keys.
const fingerprintPrefix = "append_"

// Fingerprint returns the ledger key for a source message id. Only the
// one-way hash is stored so raw message ids never rest on disk.
func Fingerprint(messageID string) string {
	sum := sha256.Sum256([]byte(messageID))
	return fingerprintPrefix + hex.EncodeToString(sum[:])
}

// Ledger records which source messages have been delivered to the
// mailbox. Entries are monotonic: once delivered, always delivered.
type Ledger interface {
	// IsDelivered reports whether MarkDelivered committed for messageID.
	IsDelivered(ctx context.Context, messageID string) (bool, error)

	// MarkDelivered records messageID as delivered. Calling it again for
	// the same id is a no-op.
	MarkDelivered(ctx context.Context, messageID string) error
}
