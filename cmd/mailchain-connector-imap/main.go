package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/mailchain-connector-imap/internal/credential"
	"github.com/nhle/mailchain-connector-imap/internal/model"
	"github.com/nhle/mailchain-connector-imap/internal/theme"
)

// Set via -ldflags at build time.
var version = "dev"

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
}

// legacyFlags are root-level switches that select a command, kept for
// scripts written against the older --run style invocation.
type legacyFlags struct {
	run            bool
	configure      bool
	testConnection bool
	printConfig    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	runOpts := &runOptions{}
	legacy := &legacyFlags{}

	root := &cobra.Command{
		Use:          "mailchain-connector-imap",
		Short:        "Deliver Mailchain messages to an IMAP mailbox",
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case legacy.configure:
				return runConfigure(cmd.Context(), opts, out)
			case legacy.testConnection:
				return runTestConnection(cmd.Context(), opts, out)
			case legacy.printConfig:
				return runPrintConfig(opts, out)
			default:
				return runSync(cmd.Context(), opts, runOpts)
			}
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.configPath, "config", model.DefaultConfigPath(), "Path to the config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	root.Flags().BoolVar(&legacy.run, "run", false, "Same as the run command")
	root.Flags().BoolVar(&legacy.configure, "configure", false, "Same as the configure command")
	root.Flags().BoolVar(&legacy.testConnection, "test-connection", false, "Same as the test-connection command")
	root.Flags().BoolVar(&legacy.printConfig, "print-config", false, "Same as the print-config command")
	root.MarkFlagsMutuallyExclusive("run", "configure", "test-connection", "print-config")
	addRunFlags(root, runOpts)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll Mailchain and deliver new messages until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts, runOpts)
		},
	}
	addRunFlags(runCmd, runOpts)

	configureCmd := &cobra.Command{
		Use:   "configure",
		Short: "Edit IMAP and Mailchain settings interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(cmd.Context(), opts, out)
		},
	}

	testCmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check the IMAP server and the Mailchain client API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestConnection(cmd.Context(), opts, out)
		},
	}

	printCmd := &cobra.Command{
		Use:   "print-config",
		Short: "Show the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrintConfig(opts, out)
		},
	}

	root.AddCommand(runCmd, configureCmd, testCmd, printCmd)
	return root
}

// loadConfig reads the config file and applies the --log-level override.
func loadConfig(opts *rootOptions) (*model.Config, error) {
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

// loadValidConfig loads the config, resolves the IMAP password and checks
// that everything needed to talk to both servers is set.
func loadValidConfig(opts *rootOptions) (*model.Config, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := credential.ResolveIMAPPassword(cfg); err != nil {
		return nil, model.Wrap(model.KindConfig, "reading IMAP password", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IMAP.Password == "" {
		return nil, model.Errorf(model.KindConfig, "reading IMAP password",
			"no IMAP password stored; run `mailchain-connector-imap configure` or set %s", credential.PasswordEnv)
	}
	return cfg, nil
}

func runPrintConfig(opts *rootOptions, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	passwordSet := credential.ResolveIMAPPassword(cfg) == nil && cfg.IMAP.Password != ""

	fmt.Fprintln(out, theme.Settings(cfg, passwordSet))
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(out, theme.ErrorStyle.Render(err.Error()))
	}
	return nil
}
