package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings of the status view.
type KeyMap struct {
	// Run a sync tick now instead of waiting for the interval.
	SyncNow key.Binding

	// Help toggle
	Help key.Binding

	// Quit stops the sync loop.
	Quit key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		SyncNow: key.NewBinding(
			key.WithKeys("r", "s"),
			key.WithHelp("r", "sync now"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns the keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.SyncNow, k.Help, k.Quit}
}

// FullHelp returns all keybindings for the expanded help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SyncNow},
		{k.Help, k.Quit},
	}
}
