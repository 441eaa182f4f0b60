package mailbox

import (
	"context"
	"fmt"
)

// DefaultDelimiter is used when the server reports no hierarchy delimiter.
const DefaultDelimiter = "/"

// Info is a single entry of a folder listing.
type Info struct {
	Name string

	// Delim is the hierarchy delimiter, or 0 for a flat namespace.
	Delim rune
}

// Session is the part of an IMAP connection folder provisioning needs.
type Session interface {
	// List returns the folders matching pattern under reference ref.
	List(ctx context.Context, ref, pattern string) ([]Info, error)

	// Create creates a single folder. Its parent must already exist.
	Create(ctx context.Context, name string) error
}

// Provisioner creates missing folders on one session. It caches the
// server's hierarchy delimiter for the lifetime of that session, so a new
// Provisioner is needed after reconnecting.
type Provisioner struct {
	session Session
	delim   string
}

// NewProvisioner returns a Provisioner bound to s.
func NewProvisioner(s Session) *Provisioner {
	return &Provisioner{session: s}
}

// SetDelimiter records a delimiter discovered elsewhere (for example by a
// session check that already listed every folder).
func (p *Provisioner) SetDelimiter(delim string) {
	p.delim = delim
}

// Delimiter returns the server's hierarchy delimiter. The first call lists
// all folders and takes the delimiter of the first entry; servers with a
// different delimiter per namespace are not supported.
func (p *Provisioner) Delimiter(ctx context.Context) (string, error) {
	if p.delim != "" {
		return p.delim, nil
	}

	folders, err := p.session.List(ctx, "", "*")
	if err != nil {
		return "", fmt.Errorf("listing folders: %w", err)
	}
	p.delim = DelimiterOf(folders)
	return p.delim, nil
}

// DelimiterOf returns the delimiter of the first folder in a listing.
func DelimiterOf(folders []Info) string {
	if len(folders) == 0 || folders[0].Delim == 0 {
		return DefaultDelimiter
	}
	return string(folders[0].Delim)
}

// EnsurePath makes sure path and all of its ancestors exist, creating the
// missing ones parent first, and returns the rendered folder name. When the
// full path already exists no folder is created.
//
// A failed create leaves the folders created so far in place; the next
// call resumes from the first missing one.
func (p *Provisioner) EnsurePath(ctx context.Context, path FolderPath) (string, error) {
	if len(path) == 0 {
		return "", fmt.Errorf("ensuring folder: empty path")
	}

	delim, err := p.Delimiter(ctx)
	if err != nil {
		return "", err
	}

	full := path.Join(delim)
	ok, err := p.exists(ctx, full)
	if err != nil {
		return "", err
	}
	if ok {
		return full, nil
	}

	prefixes := path.Prefixes()
	for i, prefix := range prefixes {
		name := prefix.Join(delim)
		// The full path is already known to be missing.
		if i < len(prefixes)-1 {
			ok, err := p.exists(ctx, name)
			if err != nil {
				return "", err
			}
			if ok {
				continue
			}
		}
		if err := p.session.Create(ctx, name); err != nil {
			return "", fmt.Errorf("creating folder %q: %w", name, err)
		}
	}

	return full, nil
}

func (p *Provisioner) exists(ctx context.Context, name string) (bool, error) {
	folders, err := p.session.List(ctx, "", name)
	if err != nil {
		return false, fmt.Errorf("listing folder %q: %w", name, err)
	}
	return len(folders) > 0, nil
}
