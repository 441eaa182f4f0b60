package mailchain

import "github.com/nhle/mailchain-connector-imap/internal/model"

// ProtocolsResponse is the response from GET /protocols.
type ProtocolsResponse struct {
	Protocols []Protocol `json:"protocols"`
}

// Protocol is one protocol and the networks the client serves for it.
type Protocol struct {
	Name     string    `json:"name"`
	Networks []Network `json:"networks"`
}

// Network is a single network of a protocol.
type Network struct {
	Name string `json:"name"`
}

// AddressesResponse is the response from GET /addresses.
type AddressesResponse struct {
	Addresses []string `json:"addresses"`
}

// MessagesResponse is the response from GET /messages. The API sends
// null instead of an empty list for an address without messages.
type MessagesResponse struct {
	Messages []model.Message `json:"messages"`
}

// VersionResponse is the response from GET /version.
type VersionResponse struct {
	Version string `json:"version"`
}
