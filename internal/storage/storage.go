// Package storage creates, writes and deletes content inside logical
// folders. Each folders.Kind has a Backend; the Manager resolves the logical
// folder first and then delegates.
//
// Creating a file never overwrites existing content: when the requested name
// is taken, "name (1).ext", "name (2).ext", ... are tried in turn.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cgeo/cgeofiles/internal/filex"
	"github.com/cgeo/cgeofiles/internal/folders"
)

var (
	ErrNoUsableLocation  = errors.New("no usable location")
	ErrLocationNotUsable = errors.New("location not usable")
	ErrUnsupportedKind   = errors.New("unsupported storage kind")
	ErrNameExhausted     = errors.New("no free file name")
)

// maxNameAttempts bounds the collision renaming loop.
const maxNameAttempts = 1000

// Ref is a content reference: a file name inside a concrete folder.
type Ref struct {
	Location folders.Location
	Name     string
}

// String is the URI of the referenced content.
func (r Ref) String() string {
	return r.Location.Join(r.Name).String()
}

// Entry is a listed file.
type Entry struct {
	Ref     Ref
	Size    int64
	ModTime time.Time
}

// Aborter is implemented by writers that can drop pending content without
// publishing it.
type Aborter interface {
	Abort() error
}

// Abort releases w without committing what was written when w supports it,
// and closes it otherwise.
func Abort(w io.WriteCloser) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort()
	}
	return w.Close()
}

type Backend interface {
	// Usable reports whether loc exists or can be created.
	Usable(ctx context.Context, loc folders.Location) bool
	// Create reserves a unique name based on name inside loc.
	Create(ctx context.Context, loc folders.Location, name string) (Ref, error)
	OpenForWrite(ctx context.Context, ref Ref) (io.WriteCloser, error)
	Open(ctx context.Context, ref Ref) (io.ReadCloser, error)
	// Delete removes ref; a missing ref is not an error.
	Delete(ctx context.Context, ref Ref) error
	Exists(ctx context.Context, ref Ref) (bool, error)
	// List returns the files directly inside loc.
	List(ctx context.Context, loc folders.Location) ([]Entry, error)
}

// Backends maps a storage kind to its backend. It implements folders.Prober.
type Backends map[folders.Kind]Backend

func (b Backends) For(kind folders.Kind) (Backend, error) {
	be, ok := b[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrUnsupportedKind)
	}
	return be, nil
}

func (b Backends) Usable(ctx context.Context, loc folders.Location) bool {
	be, err := b.For(loc.Kind)
	if err != nil {
		return false
	}
	return be.Usable(ctx, loc)
}

// candidateName returns name for attempt 0 and "base (n).ext" afterwards.
func candidateName(name string, attempt int) string {
	if attempt == 0 {
		return name
	}
	base, ext := filex.SplitExt(name)
	return base + " (" + strconv.Itoa(attempt) + ")" + ext
}
