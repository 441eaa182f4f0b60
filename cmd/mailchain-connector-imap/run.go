package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/mailchain-connector-imap/internal/delivery"
	"github.com/nhle/mailchain-connector-imap/internal/logging"
	"github.com/nhle/mailchain-connector-imap/internal/mailbox"
	"github.com/nhle/mailchain-connector-imap/internal/model"
	"github.com/nhle/mailchain-connector-imap/internal/source/mailchain"
	"github.com/nhle/mailchain-connector-imap/internal/store"
	"github.com/nhle/mailchain-connector-imap/internal/sync"
	"github.com/nhle/mailchain-connector-imap/internal/ui/status"
)

type runOptions struct {
	watch bool
	once  bool
}

func addRunFlags(cmd *cobra.Command, o *runOptions) {
	cmd.Flags().BoolVar(&o.watch, "watch", false, "Show a live status view instead of logging to the terminal")
	cmd.Flags().BoolVar(&o.once, "once", false, "Run a single sync and exit")
	cmd.MarkFlagsMutuallyExclusive("watch", "once")
}

// runSync wires the ledger, the IMAP deliverer and the Mailchain client
// into a poller and runs it until ctx is canceled.
func runSync(ctx context.Context, opts *rootOptions, ro *runOptions) error {
	cfg, err := loadValidConfig(opts)
	if err != nil {
		return err
	}

	var console io.Writer = os.Stderr
	if ro.watch {
		console = nil
	}
	logger, logFile, err := logging.Setup(cfg.Log, cfg.LogPath(), console)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ledger, err := store.NewSQLiteStore(cfg.LedgerPath())
	if err != nil {
		return model.Wrap(model.KindStorage, "opening ledger", err)
	}
	defer ledger.Close()

	deliverer := delivery.NewDeliverer(
		delivery.NewDialer(cfg.IMAP),
		ledger,
		mailbox.NewRouterFromConfig(cfg),
		logger,
	)
	defer deliverer.Close()

	poller := sync.New(mailchain.NewClient(cfg.APIBaseURL()), deliverer, cfg.PollInterval(), logger)
	logger.Info("Starting",
		"version", version,
		"imap", cfg.IMAP.Addr(),
		"api", cfg.APIBaseURL(),
		"folders", cfg.Mailchain.Folders.Label(),
		"interval", poller.Interval(),
	)

	switch {
	case ro.once:
		stats := poller.Tick(ctx)
		return stats.Err
	case ro.watch:
		return watch(ctx, poller)
	}

	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Stopped")
	return nil
}

// watch runs the poller in the background and the status view in the
// foreground. Quitting the view stops the poller.
func watch(ctx context.Context, poller *sync.Poller) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	prog := tea.NewProgram(
		status.New(poller, "Mailchain IMAP Connector "+version),
		tea.WithContext(ctx),
	)
	_, err := prog.Run()
	cancel()
	<-done

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) && !errors.Is(err, tea.ErrInterrupted) {
		return fmt.Errorf("running status view: %w", err)
	}
	return nil
}
