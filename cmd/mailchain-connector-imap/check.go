package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nhle/mailchain-connector-imap/internal/delivery"
	"github.com/nhle/mailchain-connector-imap/internal/model"
	"github.com/nhle/mailchain-connector-imap/internal/source/mailchain"
	"github.com/nhle/mailchain-connector-imap/internal/store"
	"github.com/nhle/mailchain-connector-imap/internal/theme"
)

// checkTimeout bounds each connection check.
const checkTimeout = 30 * time.Second

// errChecksFailed is returned when at least one check failed.
var errChecksFailed = errors.New("connection test failed")

// connectionCheck is one named check. run returns a short detail line.
type connectionCheck struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func runTestConnection(ctx context.Context, opts *rootOptions, out io.Writer) error {
	cfg, err := loadValidConfig(opts)
	if err != nil {
		return err
	}
	return runChecks(ctx, out, connectionChecks(cfg))
}

// connectionChecks returns the IMAP, Mailchain and ledger checks for cfg.
func connectionChecks(cfg *model.Config) []connectionCheck {
	return []connectionCheck{
		{
			name: "IMAP",
			run: func(ctx context.Context) (string, error) {
				session, err := delivery.NewDialer(cfg.IMAP).Connect(ctx)
				if err != nil {
					if delivery.IsAuthError(err) {
						return "", fmt.Errorf("login as %s rejected: %w", cfg.IMAP.Username, err)
					}
					return "", err
				}
				if err := session.Logout(); err != nil {
					return "", err
				}
				return fmt.Sprintf("logged in to %s as %s", cfg.IMAP.Addr(), cfg.IMAP.Username), nil
			},
		},
		{
			name: "Mailchain",
			run: func(ctx context.Context) (string, error) {
				v, err := mailchain.NewClient(cfg.APIBaseURL()).Version(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("client version %s at %s", v, cfg.APIBaseURL()), nil
			},
		},
		{
			name: "Ledger",
			run: func(ctx context.Context) (string, error) {
				ledger, err := store.NewSQLiteStore(cfg.LedgerPath())
				if err != nil {
					return "", err
				}
				defer ledger.Close()
				n, err := ledger.Count(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%d messages delivered so far", n), nil
			},
		},
	}
}

// runChecks runs every check, printing one line each, and fails if any of
// them failed.
func runChecks(ctx context.Context, out io.Writer, checks []connectionCheck) error {
	failed := false
	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		detail, err := c.run(checkCtx)
		cancel()

		if err != nil {
			failed = true
			fmt.Fprintf(out, "%s %s: %v\n", theme.ErrorStyle.Render("✗"), c.name, err)
			continue
		}
		fmt.Fprintf(out, "%s %s: %s\n", theme.OKStyle.Render("✓"), c.name, detail)
	}
	if failed {
		return errChecksFailed
	}
	return nil
}
