package model

import "strings"

// StatusOK is the status of a message the Mailchain client decrypted and
// verified successfully. Messages with any other status are never delivered.
const StatusOK = "ok"

// MessageHeaders holds the RFC 5322 style headers reported by the
// Mailchain API for a single message.
type MessageHeaders struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Date        string `json:"date"`
	MessageID   string `json:"message-id"`
	ContentType string `json:"content-type"`
}

// Message is a raw message record as returned by the Mailchain API
// messages endpoint.
type Message struct {
	// Status is "ok" for readable messages; anything else is an error
	// reported by the Mailchain client (e.g., decryption failed).
	Status string `json:"status"`

	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Headers MessageHeaders `json:"headers"`

	// Provenance of the message on chain. Any of these may be empty.
	BlockID                 string `json:"block-id"`
	BlockIDEncoding         string `json:"block-id-encoding"`
	TransactionHash         string `json:"transaction-hash"`
	TransactionHashEncoding string `json:"transaction-hash-encoding"`
}

// OK reports whether the message can be converted and delivered.
func (m Message) OK() bool {
	return m.Status == StatusOK
}

// ProtocolNetwork is a single (protocol, network) pair the Mailchain
// client is configured for, e.g. ("ethereum", "ropsten").
type ProtocolNetwork struct {
	Protocol string
	Network  string
}

// Target identifies the mailbox owner of a message: the protocol and
// network it was sent on and the receiving address.
type Target struct {
	Protocol string
	Network  string
	Address  string
}

// ethereumPrefix is the hex prefix Ethereum addresses are displayed with.
const ethereumPrefix = "0x"

// NormalizeAddress applies the display convention of protocol to address.
// Ethereum addresses are returned by the API without their 0x prefix.
func NormalizeAddress(protocol, address string) string {
	switch strings.ToLower(protocol) {
	case "ethereum":
		if strings.HasPrefix(strings.ToLower(address), ethereumPrefix) {
			return address
		}
		return ethereumPrefix + address
	default:
		return address
	}
}
