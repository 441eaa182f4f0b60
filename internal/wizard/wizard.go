// Package wizard runs the interactive `configure` forms.
package wizard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/mailchain-connector-imap/internal/model"
)

// ErrAborted is returned when the user leaves the wizard or declines to
// save.
var ErrAborted = errors.New("configuration not saved")

// Result is what the wizard collected.
type Result struct {
	Config *model.Config

	// Password is the new IMAP password, or empty to keep the stored one.
	Password string
}

// formValues holds the string-typed form fields.
type formValues struct {
	imapServer   string
	imapPort     string
	imapUsername string
	imapPassword string
	imapSSL      bool
	imapStartTLS bool

	apiHostname    string
	apiPort        string
	apiSSL         bool
	folders        string
	mainnetToInbox bool
	interval       string

	save bool
}

func fromConfig(cfg *model.Config) *formValues {
	return &formValues{
		imapServer:     cfg.IMAP.Server,
		imapPort:       strconv.Itoa(cfg.IMAP.Port),
		imapUsername:   cfg.IMAP.Username,
		imapSSL:        cfg.IMAP.SSL,
		imapStartTLS:   cfg.IMAP.StartTLS,
		apiHostname:    cfg.Mailchain.Hostname,
		apiPort:        strconv.Itoa(cfg.Mailchain.Port),
		apiSSL:         cfg.Mailchain.SSL,
		folders:        string(cfg.Mailchain.Folders),
		mainnetToInbox: cfg.Mailchain.MainnetToInbox,
		interval:       strconv.Itoa(cfg.Mailchain.IntervalSec),
	}
}

// apply copies the form values onto a copy of base.
func (v *formValues) apply(base *model.Config) (*model.Config, error) {
	cfg := *base

	imapPort, err := strconv.Atoi(strings.TrimSpace(v.imapPort))
	if err != nil {
		return nil, fmt.Errorf("IMAP port: %w", err)
	}
	apiPort, err := strconv.Atoi(strings.TrimSpace(v.apiPort))
	if err != nil {
		return nil, fmt.Errorf("mailchain port: %w", err)
	}
	interval, err := strconv.Atoi(strings.TrimSpace(v.interval))
	if err != nil {
		return nil, fmt.Errorf("interval: %w", err)
	}

	cfg.IMAP.Server = strings.TrimSpace(v.imapServer)
	cfg.IMAP.Port = imapPort
	cfg.IMAP.Username = strings.TrimSpace(v.imapUsername)
	cfg.IMAP.SSL = v.imapSSL
	cfg.IMAP.StartTLS = !v.imapSSL && v.imapStartTLS
	cfg.Mailchain.Hostname = strings.TrimSpace(v.apiHostname)
	cfg.Mailchain.Port = apiPort
	cfg.Mailchain.SSL = v.apiSSL
	cfg.Mailchain.Folders = model.FolderMode(v.folders)
	cfg.Mailchain.MainnetToInbox = v.mainnetToInbox
	cfg.Mailchain.IntervalSec = interval
	return &cfg, nil
}

func (v *formValues) form() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("IMAP server").
				Description("Where Mailchain messages are delivered."),
			huh.NewInput().
				Title("Server").
				Placeholder("imap.example.com").
				Value(&v.imapServer).
				Validate(validateRequired("Server")),
			huh.NewInput().
				Title("Port").
				Placeholder("993").
				Value(&v.imapPort).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Placeholder("user@example.com").
				Value(&v.imapUsername).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Stored in the OS keyring. Leave empty to keep the current one.").
				EchoMode(huh.EchoModePassword).
				Value(&v.imapPassword),
			huh.NewConfirm().
				Title("Use SSL/TLS").
				Affirmative("Yes").
				Negative("No").
				Value(&v.imapSSL),
			huh.NewConfirm().
				Title("Use STARTTLS when SSL is off").
				Affirmative("Yes").
				Negative("No").
				Value(&v.imapStartTLS),
		),
		huh.NewGroup(
			huh.NewNote().
				Title("Mailchain client").
				Description("The local Mailchain client API."),
			huh.NewInput().
				Title("Hostname").
				Placeholder("127.0.0.1").
				Value(&v.apiHostname).
				Validate(validateRequired("Hostname")),
			huh.NewInput().
				Title("Port").
				Placeholder("8080").
				Value(&v.apiPort).
				Validate(validatePort),
			huh.NewConfirm().
				Title("Use SSL").
				Affirmative("Yes").
				Negative("No").
				Value(&v.apiSSL),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Folder structure").
				Options(
					huh.NewOption(model.FolderByNetwork.Label(), string(model.FolderByNetwork)),
					huh.NewOption(model.FolderByAddress.Label(), string(model.FolderByAddress)),
				).
				Value(&v.folders),
			huh.NewConfirm().
				Title("Mainnet messages").
				Description("Deliver mainnet messages straight to Inbox.").
				Affirmative("To Inbox").
				Negative("To Mainnet Folder").
				Value(&v.mainnetToInbox),
			huh.NewInput().
				Title("Polling interval (seconds)").
				Description("Values below 60 are raised to 60.").
				Placeholder("300").
				Value(&v.interval).
				Validate(validateInterval),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save these settings?").
				Affirmative("Save").
				Negative("Discard").
				Value(&v.save),
		),
	)
}

// Run shows the wizard prefilled from cfg. It returns ErrAborted when the
// user quits or chooses not to save.
func Run(cfg *model.Config) (*Result, error) {
	v := fromConfig(cfg)
	if err := v.form().Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, ErrAborted
		}
		return nil, fmt.Errorf("running configuration wizard: %w", err)
	}
	if !v.save {
		return nil, ErrAborted
	}

	updated, err := v.apply(cfg)
	if err != nil {
		return nil, err
	}
	return &Result{Config: updated, Password: v.imapPassword}, nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validatePort(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("port is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

func validateInterval(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("interval must be a number of seconds")
	}
	if n <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	return nil
}
