package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/nhle/mailchain-connector-imap/internal/mailbox"
	"github.com/nhle/mailchain-connector-imap/internal/model"
)

// AuthError indicates that the IMAP server rejected every authentication
// mechanism that was tried.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Dialer opens authenticated IMAP sessions with go-imap v2.
type Dialer struct {
	cfg model.IMAPConfig

	// TLSConfig is passed to the TLS and STARTTLS handshakes. Nil uses the
	// system defaults.
	TLSConfig *tls.Config
}

// NewDialer returns a Dialer for the given server settings.
func NewDialer(cfg model.IMAPConfig) *Dialer {
	return &Dialer{cfg: cfg}
}

// Connect dials the server and authenticates, trying LOGIN first and
// AUTHENTICATE PLAIN second. The returned session must be closed with
// Logout.
func (d *Dialer) Connect(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := d.cfg.Addr()
	client, err := d.dial(ctx, addr)
	if err != nil {
		return nil, model.Wrap(model.KindTransient, "connecting to IMAP",
			fmt.Errorf("dialing %s: %w", addr, ctxErr(ctx, err)))
	}

	stop := closeOnDone(ctx, client)
	err = authenticate(ctx, client, d.cfg.Username, d.cfg.Password)
	stop()
	if err != nil {
		_ = client.Close()
		return nil, model.Wrap(model.KindTransient, "connecting to IMAP", ctxErr(ctx, err))
	}

	return &IMAPSession{client: client}, nil
}

// dial opens the connection under ctx and hands it to imapclient using
// implicit TLS, STARTTLS or plain text.
func (d *Dialer) dial(ctx context.Context, addr string) (*imapclient.Client, error) {
	tlsConfig := &tls.Config{}
	if d.TLSConfig != nil {
		tlsConfig = d.TLSConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = d.cfg.Server
	}
	opts := &imapclient.Options{TLSConfig: tlsConfig}

	if d.cfg.SSL {
		conn, err := (&tls.Dialer{Config: tlsConfig}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return imapclient.New(conn, opts), nil
	}

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !d.cfg.StartTLS {
		return imapclient.New(conn, opts), nil
	}

	// The STARTTLS exchange is bounded by ctx too.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	client, err := imapclient.NewStartTLS(conn, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return client, nil
}

// closeOnDone closes client once ctx is done, which unblocks any command
// waiting on the server. The returned func stops the watch.
func closeOnDone(ctx context.Context, client *imapclient.Client) func() bool {
	return context.AfterFunc(ctx, func() { _ = client.Close() })
}

// ctxErr puts ctx's error in front of err when the command failed because
// ctx ended.
func ctxErr(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	return fmt.Errorf("%w: %v", ctx.Err(), err)
}

func authenticate(ctx context.Context, client *imapclient.Client, username, password string) error {
	loginErr := client.Login(username, password).Wait()
	if loginErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return loginErr
	}

	plainErr := client.Authenticate(sasl.NewPlainClient("", username, password))
	if plainErr == nil {
		return nil
	}

	return &AuthError{
		Username: username,
		Err:      errors.Join(fmt.Errorf("LOGIN: %w", loginErr), fmt.Errorf("PLAIN: %w", plainErr)),
	}
}

// IMAPSession is a Session backed by an imapclient connection. A command
// still running when its context ends closes the connection, so the
// session must be dropped after such an error.
type IMAPSession struct {
	client *imapclient.Client
}

// List returns the folders matching pattern.
func (s *IMAPSession) List(ctx context.Context, ref, pattern string) ([]mailbox.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := closeOnDone(ctx, s.client)
	data, err := s.client.List(ref, pattern, nil).Collect()
	stop()
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	out := make([]mailbox.Info, 0, len(data))
	for _, d := range data {
		out = append(out, mailbox.Info{Name: d.Mailbox, Delim: d.Delim})
	}
	return out, nil
}

// Create creates a single folder.
func (s *IMAPSession) Create(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := closeOnDone(ctx, s.client)
	defer stop()
	return ctxErr(ctx, s.client.Create(name, nil).Wait())
}

// Select opens name read-write.
func (s *IMAPSession) Select(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := closeOnDone(ctx, s.client)
	defer stop()
	_, err := s.client.Select(name, nil).Wait()
	return ctxErr(ctx, err)
}

// HasMessageID reports whether the selected folder holds a message with
// the given Message-ID header.
func (s *IMAPSession) HasMessageID(ctx context.Context, messageID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Message-Id", Value: messageID},
		},
	}
	stop := closeOnDone(ctx, s.client)
	data, err := s.client.Search(criteria, nil).Wait()
	stop()
	if err != nil {
		return false, ctxErr(ctx, err)
	}
	return len(data.AllSeqNums()) > 0, nil
}

// Append stores raw in name with no flags. A non-zero date becomes the
// message's internal date.
func (s *IMAPSession) Append(ctx context.Context, name string, raw []byte, date time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := closeOnDone(ctx, s.client)
	defer stop()

	cmd := s.client.Append(name, int64(len(raw)), &imap.AppendOptions{Time: date})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return ctxErr(ctx, fmt.Errorf("writing message: %w", err))
	}
	if err := cmd.Close(); err != nil {
		return ctxErr(ctx, fmt.Errorf("closing append: %w", err))
	}
	if _, err := cmd.Wait(); err != nil {
		return ctxErr(ctx, err)
	}
	return nil
}

// Logout ends the session and closes the connection.
func (s *IMAPSession) Logout() error {
	err := s.client.Logout().Wait()
	_ = s.client.Close()
	return err
}
