package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nhle/mailchain-connector-imap/internal/credential"
	"github.com/nhle/mailchain-connector-imap/internal/model"
	"github.com/nhle/mailchain-connector-imap/internal/theme"
	"github.com/nhle/mailchain-connector-imap/internal/wizard"
)

// runConfigure shows the wizard, saves the result and tests the new
// settings.
func runConfigure(ctx context.Context, opts *rootOptions, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	res, err := wizard.Run(cfg)
	if errors.Is(err, wizard.ErrAborted) {
		fmt.Fprintln(out, theme.HelpStyle.Render("Configuration not saved."))
		return nil
	}
	if err != nil {
		return err
	}

	if err := model.SaveConfig(opts.configPath, res.Config); err != nil {
		return err
	}
	if res.Password != "" {
		if err := credential.Set(credential.IMAPPasswordKey, res.Password); err != nil {
			return fmt.Errorf("storing IMAP password: %w", err)
		}
	}
	fmt.Fprintln(out, theme.OKStyle.Render("Saved "+opts.configPath))

	if err := credential.ResolveIMAPPassword(res.Config); err != nil {
		return fmt.Errorf("reading IMAP password: %w", err)
	}
	if err := res.Config.Validate(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Testing connections...")
	return runChecks(ctx, out, connectionChecks(res.Config))
}
