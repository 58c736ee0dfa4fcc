package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/cgeo/cgeofiles/internal/folders"
	"github.com/cgeo/cgeofiles/internal/logging"
)

// Manager resolves logical folders and delegates to the backend of the
// resolved location. It is the only component that changes folder overrides.
type Manager struct {
	resolver *folders.Resolver
	backends Backends
	log      logging.Logger
}

func NewManager(resolver *folders.Resolver, backends Backends, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{resolver: resolver, backends: backends, log: log}
}

func (m *Manager) Resolver() *folders.Resolver {
	return m.resolver
}

// Create reserves a new file named after name in the active location of id.
func (m *Manager) Create(ctx context.Context, id folders.ID, name string) (Ref, error) {
	loc, ok := m.resolver.Location(ctx, id)
	if !ok {
		return Ref{}, fmt.Errorf("%s: %w", id, ErrNoUsableLocation)
	}
	b, err := m.backends.For(loc.Kind)
	if err != nil {
		return Ref{}, err
	}
	ref, err := b.Create(ctx, loc, name)
	if err != nil {
		return Ref{}, err
	}
	m.log.Debug(ctx, "created file", "folder", id, "ref", ref.String())
	return ref, nil
}

func (m *Manager) OpenForWrite(ctx context.Context, ref Ref) (io.WriteCloser, error) {
	b, err := m.backends.For(ref.Location.Kind)
	if err != nil {
		return nil, err
	}
	return b.OpenForWrite(ctx, ref)
}

func (m *Manager) Open(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	b, err := m.backends.For(ref.Location.Kind)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, ref)
}

func (m *Manager) Delete(ctx context.Context, ref Ref) error {
	b, err := m.backends.For(ref.Location.Kind)
	if err != nil {
		return err
	}
	return b.Delete(ctx, ref)
}

func (m *Manager) Exists(ctx context.Context, ref Ref) (bool, error) {
	b, err := m.backends.For(ref.Location.Kind)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, ref)
}

// List returns the files in the active location of id, together with that
// location.
func (m *Manager) List(ctx context.Context, id folders.ID) ([]Entry, folders.Location, error) {
	loc, ok := m.resolver.Location(ctx, id)
	if !ok {
		return nil, folders.Location{}, fmt.Errorf("%s: %w", id, ErrNoUsableLocation)
	}
	b, err := m.backends.For(loc.Kind)
	if err != nil {
		return nil, loc, err
	}
	entries, err := b.List(ctx, loc)
	return entries, loc, err
}

// SetUserDefinedFolder sets (or, with nil, clears) the override of id. A
// location no backend can use is rejected before anything is persisted.
func (m *Manager) SetUserDefinedFolder(ctx context.Context, id folders.ID, loc *folders.Location) error {
	if loc != nil && !m.backends.Usable(ctx, *loc) {
		return fmt.Errorf("%s: %w", loc, ErrLocationNotUsable)
	}
	return m.resolver.SetUserDefined(ctx, id, loc)
}
