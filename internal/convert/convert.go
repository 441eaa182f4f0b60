// Package convert turns Mailchain message records into standard emails
// ready to be appended to an IMAP folder.
package convert

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailchain-connector-imap/internal/model"
)

// Footer is appended to every converted body.
const Footer = "Delivered by Mailchain IMAP Connector"

// HTMLContentType is the content-type value, quotes and escapes included,
// that the Mailchain API reports for HTML messages.
const HTMLContentType = `"text/html; charset=\"UTF-8\""`

// Provenance header names.
const (
	HeaderBlockID                 = "X-Mailchain-Block-Id"
	HeaderBlockIDEncoding         = "X-Mailchain-Block-Id-Encoding"
	HeaderTransactionHash         = "X-Mailchain-Transaction-Hash"
	HeaderTransactionHashEncoding = "X-Mailchain-Transaction-Hash-Encoding"
)

// BodyType is the single body part kind of a converted email.
type BodyType string

const (
	BodyPlain BodyType = "plain"
	BodyHTML  BodyType = "html"
)

// Provenance carries the on-chain origin of a message.
type Provenance struct {
	BlockID                 string
	BlockIDEncoding         string
	TransactionHash         string
	TransactionHashEncoding string
}

// Email is a converted message. It is never modified after Convert.
type Email struct {
	From    string
	To      string
	Subject string

	// RawDate is the Date header as reported by the API. Date is its parsed
	// form, or the zero time when it could not be parsed.
	RawDate string
	Date    time.Time

	// RawMessageID is the Message-ID as reported by the API. MessageID is
	// the same id without angle brackets.
	RawMessageID string
	MessageID    string

	BodyType   BodyType
	Body       string
	Provenance Provenance
}

// BodyTypeOf maps a declared content-type to the body kind. Only an exact
// HTMLContentType yields BodyHTML; everything else is plain text.
func BodyTypeOf(contentType string) BodyType {
	if contentType == HTMLContentType {
		return BodyHTML
	}
	return BodyPlain
}

// Convert builds an Email from a message record. Callers filter out
// records whose status is not "ok" first.
func Convert(msg model.Message) *Email {
	e := &Email{
		From:         msg.Headers.From,
		To:           msg.Headers.To,
		Subject:      msg.Subject,
		RawDate:      msg.Headers.Date,
		Date:         ParseDate(msg.Headers.Date),
		RawMessageID: msg.Headers.MessageID,
		MessageID:    TrimMessageID(msg.Headers.MessageID),
		BodyType:     BodyTypeOf(msg.Headers.ContentType),
		Provenance: Provenance{
			BlockID:                 msg.BlockID,
			BlockIDEncoding:         msg.BlockIDEncoding,
			TransactionHash:         msg.TransactionHash,
			TransactionHashEncoding: msg.TransactionHashEncoding,
		},
	}

	switch e.BodyType {
	case BodyHTML:
		e.Body = msg.Body + " <br/><br/>" + Footer
	default:
		e.Body = msg.Body + " \r\n" + Footer
	}
	return e
}

// ParseDate parses an RFC 5322 date, falling back to RFC 3339. It returns
// the zero time when neither matches.
func ParseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	var h mail.Header
	h.Set("Date", raw)
	if t, err := h.Date(); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Time{}
}

// TrimMessageID strips surrounding whitespace and angle brackets.
func TrimMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	return strings.TrimSuffix(id, ">")
}

// Header returns the mail header of e.
func (e *Email) Header() mail.Header {
	var h mail.Header
	h.Set("MIME-Version", "1.0")
	h.Set("From", e.From)
	h.Set("To", e.To)
	if e.RawDate != "" {
		h.Set("Date", e.RawDate)
	}
	// A bare id gets the angle brackets a msg-id needs.
	if raw := strings.TrimSpace(e.RawMessageID); strings.HasPrefix(raw, "<") && strings.HasSuffix(raw, ">") {
		h.Set("Message-Id", e.RawMessageID)
	} else if e.MessageID != "" {
		h.SetMessageID(e.MessageID)
	}
	h.SetSubject(e.Subject)

	if e.BodyType == BodyHTML {
		h.SetContentType("text/html", map[string]string{"charset": "UTF-8"})
	} else {
		h.SetContentType("text/plain", map[string]string{"charset": "UTF-8"})
	}
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	// Set even when empty.
	h.Set(HeaderBlockID, e.Provenance.BlockID)
	h.Set(HeaderBlockIDEncoding, e.Provenance.BlockIDEncoding)
	h.Set(HeaderTransactionHash, e.Provenance.TransactionHash)
	h.Set(HeaderTransactionHashEncoding, e.Provenance.TransactionHashEncoding)
	return h
}

// Bytes renders e as an RFC 5322 message with a single inline part.
func (e *Email) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, e.Header())
	if err != nil {
		return nil, fmt.Errorf("writing message header: %w", err)
	}
	if _, err := w.Write([]byte(e.Body)); err != nil {
		w.Close()
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message: %w", err)
	}
	return buf.Bytes(), nil
}
