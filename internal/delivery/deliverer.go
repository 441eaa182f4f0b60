// Package delivery appends converted Mailchain messages to an IMAP mailbox
// at most once per message.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/mailchain-connector-imap/internal/convert"
	"github.com/nhle/mailchain-connector-imap/internal/mailbox"
	"github.com/nhle/mailchain-connector-imap/internal/model"
	"github.com/nhle/mailchain-connector-imap/internal/store"
)

// Session is one authenticated IMAP connection.
type Session interface {
	mailbox.Session

	// Select opens a folder read-write.
	Select(ctx context.Context, name string) error

	// HasMessageID searches the selected folder by Message-ID header.
	HasMessageID(ctx context.Context, messageID string) (bool, error)

	// Append stores a rendered message in a folder with no flags, using
	// date as its internal date.
	Append(ctx context.Context, name string, raw []byte, date time.Time) error

	Logout() error
}

// Connector opens authenticated sessions.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// State is the lifecycle state of the Deliverer's session.
type State int

const (
	Disconnected State = iota
	ConnectedAuthenticated
)

func (s State) String() string {
	if s == ConnectedAuthenticated {
		return "connected"
	}
	return "disconnected"
}

// Result tells what Deliver did with a message.
type Result int

const (
	// AlreadyDelivered means the ledger already had the message.
	AlreadyDelivered Result = iota

	// AlreadyPresent means the folder already held a message with the same
	// Message-ID, so nothing was appended.
	AlreadyPresent

	// Appended means the message was appended.
	Appended
)

func (r Result) String() string {
	switch r {
	case AlreadyDelivered:
		return "already delivered"
	case AlreadyPresent:
		return "already present"
	default:
		return "appended"
	}
}

// sessionFreshness is how long a session that last answered a command is
// trusted by Deliver without listing folders again.
const sessionFreshness = 30 * time.Second

// Deliverer owns a single IMAP session and the ledger. It is not safe for
// concurrent use.
type Deliverer struct {
	connector Connector
	ledger    store.Ledger
	router    *mailbox.Router
	logger    *slog.Logger
	now       func() time.Time

	state       State
	session     Session
	provisioner *mailbox.Provisioner
	lastOK      time.Time
}

// NewDeliverer returns a Deliverer in the Disconnected state.
func NewDeliverer(
	connector Connector,
	ledger store.Ledger,
	router *mailbox.Router,
	logger *slog.Logger,
) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{
		connector: connector,
		ledger:    ledger,
		router:    router,
		logger:    logger,
		now:       time.Now,
	}
}

// State returns the current session state.
func (d *Deliverer) State() State {
	return d.state
}

// Ping makes sure a usable session exists, connecting if needed. An
// existing session is always checked with a folder listing.
func (d *Deliverer) Ping(ctx context.Context) error {
	return d.ensureConnected(ctx, true)
}

// ensureConnected is the only way the session is established. An existing
// session is kept only if a folder listing succeeds and is non-empty: a
// socket can stay open after authentication has lapsed. Unless force is
// set, a session that answered within sessionFreshness is kept as is.
func (d *Deliverer) ensureConnected(ctx context.Context, force bool) error {
	if d.state == ConnectedAuthenticated {
		if !force && d.now().Sub(d.lastOK) < sessionFreshness {
			return nil
		}
		err := d.checkSession(ctx)
		if err == nil {
			return nil
		}
		d.logger.Warn("IMAP session unusable, reconnecting", "err", err)
		d.reset()
	}

	session, err := d.connector.Connect(ctx)
	if err != nil {
		return model.Wrap(model.KindTransient, "connecting to IMAP", err)
	}
	d.session = session
	d.provisioner = mailbox.NewProvisioner(session)
	d.state = ConnectedAuthenticated

	if err := d.checkSession(ctx); err != nil {
		d.reset()
		return model.Wrap(model.KindTransient, "connecting to IMAP", err)
	}

	d.logger.Debug("IMAP session established")
	return nil
}

func (d *Deliverer) checkSession(ctx context.Context) error {
	folders, err := d.session.List(ctx, "", "*")
	if err != nil {
		return fmt.Errorf("listing folders: %w", err)
	}
	if len(folders) == 0 {
		return fmt.Errorf("listing folders: server returned no folders")
	}
	d.provisioner.SetDelimiter(mailbox.DelimiterOf(folders))
	d.lastOK = d.now()
	return nil
}

// reset drops the session and returns to Disconnected.
func (d *Deliverer) reset() {
	if d.session != nil {
		_ = d.session.Logout()
	}
	d.session = nil
	d.provisioner = nil
	d.lastOK = time.Time{}
	d.state = Disconnected
}

// Close logs out of the current session, if any.
func (d *Deliverer) Close() error {
	if d.state == Disconnected {
		return nil
	}
	err := d.session.Logout()
	d.session = nil
	d.provisioner = nil
	d.lastOK = time.Time{}
	d.state = Disconnected
	return err
}

// Deliver appends email to the folder routed for target unless the ledger
// or the folder already has messageID. The ledger entry is written only
// after the append succeeded or was skipped as already present, so calling
// Deliver twice for the same id appends at most once.
func (d *Deliverer) Deliver(
	ctx context.Context,
	target model.Target,
	email *convert.Email,
	messageID string,
) (Result, error) {
	if messageID == "" {
		return 0, model.Errorf(model.KindProtocol, "delivering message", "message has no message-id")
	}

	delivered, err := d.ledger.IsDelivered(ctx, messageID)
	if err != nil {
		return 0, err
	}
	if delivered {
		return AlreadyDelivered, nil
	}

	path, err := d.router.Route(target)
	if err != nil {
		return 0, err
	}

	raw, err := email.Bytes()
	if err != nil {
		return 0, model.Wrap(model.KindProtocol, "rendering message", err)
	}

	if err := d.ensureConnected(ctx, false); err != nil {
		return 0, err
	}

	result, err := d.appendOnce(ctx, path, email, raw)
	if err != nil {
		// The session may be half broken; start clean on the next call.
		d.reset()
		return 0, err
	}
	d.lastOK = d.now()

	if err := d.ledger.MarkDelivered(ctx, messageID); err != nil {
		return 0, err
	}
	return result, nil
}

func (d *Deliverer) appendOnce(
	ctx context.Context,
	path mailbox.FolderPath,
	email *convert.Email,
	raw []byte,
) (Result, error) {
	folder, err := d.provisioner.EnsurePath(ctx, path)
	if err != nil {
		return 0, model.Wrap(model.KindProtocol, "provisioning folder", err)
	}

	if err := d.session.Select(ctx, folder); err != nil {
		return 0, model.Wrap(model.KindProtocol, "selecting folder",
			fmt.Errorf("%s: %w", folder, err))
	}

	if email.MessageID != "" {
		found, err := d.session.HasMessageID(ctx, email.MessageID)
		if err != nil {
			return 0, model.Wrap(model.KindProtocol, "searching folder",
				fmt.Errorf("%s: %w", folder, err))
		}
		if found {
			d.logger.Debug("message already in folder", "folder", folder, "message_id", email.MessageID)
			return AlreadyPresent, nil
		}
	}

	if err := d.session.Append(ctx, folder, raw, email.Date); err != nil {
		return 0, model.Wrap(model.KindProtocol, "appending message",
			fmt.Errorf("%s: %w", folder, err))
	}
	return Appended, nil
}
