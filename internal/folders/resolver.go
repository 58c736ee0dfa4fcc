// Package folders resolves logical application folders (offline maps, GPX,
// backups, ...) to concrete locations.
//
// Every logical folder has an ordered chain of default candidates and an
// optional user-defined override persisted in settings. The override wins
// when present; otherwise the first candidate the Prober accepts is used.
// Candidates may be relative to another logical folder, so a change of BASE
// is also reported to OFFLINE_MAPS, GPX and the other children.
//
// Listener lifetime is explicit: Subscribe returns a Subscription to cancel,
// and Release drops all listeners registered under an owner.
package folders

import (
	"context"
	"fmt"
	"sync"

	"github.com/cgeo/cgeofiles/internal/common"
	"github.com/cgeo/cgeofiles/internal/i18n"
	"github.com/cgeo/cgeofiles/internal/logging"
)

// Settings persists user-defined locations keyed by preference key. An empty
// value means "no override".
type Settings interface {
	FolderLocation(ctx context.Context, prefKey string) (string, error)
	SetFolderLocation(ctx context.Context, prefKey, value string) error
}

// Prober decides whether a candidate location can be used on this device,
// e.g. it exists or can be created.
type Prober interface {
	Usable(ctx context.Context, loc Location) bool
}

// Labels resolves display-name keys.
type Labels interface {
	Label(key string) (string, bool)
}

// Listener is called with the folder whose active location changed.
type Listener func(id ID)

type listenerEntry struct {
	seq uint64
	fn  Listener
}

// derivedOwner keys the listeners a child folder registers on its parents.
type derivedOwner struct {
	child ID
}

type Resolver struct {
	roots    Roots
	settings Settings
	prober   Prober
	labels   Labels
	log      logging.Logger

	mu          sync.RWMutex
	userDefined map[ID]Location

	lmu       sync.Mutex
	seq       uint64
	listeners map[ID]map[any][]listenerEntry
}

type Option func(*Resolver)

func WithLabels(l Labels) Option {
	return func(r *Resolver) { r.labels = l }
}

func WithLogger(l logging.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// NewResolver loads the persisted overrides and wires derived-folder
// propagation. Stored values that do not parse are logged and ignored.
func NewResolver(ctx context.Context, roots Roots, settings Settings, prober Prober, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		roots:       roots,
		settings:    settings,
		prober:      prober,
		labels:      i18n.English,
		log:         logging.Nop(),
		userDefined: make(map[ID]Location),
		listeners:   make(map[ID]map[any][]listenerEntry),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, def := range table {
		raw, err := settings.FolderLocation(ctx, def.PrefKey)
		if err != nil {
			return nil, fmt.Errorf("load location of %s: %w", def.ID, err)
		}
		if raw == "" {
			continue
		}
		loc, err := ParseLocation(raw)
		if err != nil {
			r.log.Warn(ctx, "ignoring stored folder location", "folder", def.ID, "value", raw, "err", err)
			continue
		}
		r.userDefined[def.ID] = loc
	}

	for _, def := range table {
		child := def.ID
		for _, parent := range def.Parents() {
			r.Subscribe(derivedOwner{child: child}, parent, func(ID) {
				r.notify(child)
			})
		}
	}

	return r, nil
}

// Location returns the concrete folder id currently points to. The boolean
// is false when there is no override and no default candidate is usable.
func (r *Resolver) Location(ctx context.Context, id ID) (Location, bool) {
	r.mu.RLock()
	loc, ok := r.userDefined[id]
	r.mu.RUnlock()
	if ok {
		return loc, true
	}
	return r.DefaultLocation(ctx, id)
}

// DefaultLocation walks the default chain of id, ignoring any override.
func (r *Resolver) DefaultLocation(ctx context.Context, id ID) (Location, bool) {
	def, ok := Lookup(id)
	if !ok {
		return Location{}, false
	}
	for _, c := range def.Candidates {
		loc, ok := r.candidate(ctx, c)
		if !ok {
			continue
		}
		if r.prober == nil || r.prober.Usable(ctx, loc) {
			return loc, true
		}
	}
	return Location{}, false
}

func (r *Resolver) candidate(ctx context.Context, c Candidate) (Location, bool) {
	if c.Parent != "" {
		parent, ok := r.Location(ctx, c.Parent)
		if !ok {
			return Location{}, false
		}
		return parent.Join(c.Sub), true
	}
	root := r.roots.get(c.Root)
	if root.IsZero() {
		return Location{}, false
	}
	return root.Join(c.Sub), true
}

func (r *Resolver) IsUserDefined(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.userDefined[id]
	return ok
}

// SetUserDefined persists a new override for id, or clears it when loc is
// nil, and notifies the listeners of id and of every folder derived from it.
// Only the storage manager should call this; it checks usability first.
func (r *Resolver) SetUserDefined(ctx context.Context, id ID, loc *Location) error {
	def, ok := Lookup(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, common.ErrorUnknownFolder)
	}

	value := ""
	if loc != nil {
		if loc.IsZero() {
			return fmt.Errorf("%s: %w", id, common.ErrorInvalidLocation)
		}
		value = loc.String()
	}
	if err := r.settings.SetFolderLocation(ctx, def.PrefKey, value); err != nil {
		return fmt.Errorf("persist location of %s: %w", id, err)
	}

	r.mu.Lock()
	if loc == nil {
		delete(r.userDefined, id)
	} else {
		r.userDefined[id] = *loc
	}
	r.mu.Unlock()

	r.log.Info(ctx, "folder location changed", "folder", id, "location", value)
	r.notify(id)
	return nil
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	r     *Resolver
	id    ID
	owner any
	seq   uint64
}

// Cancel removes this one listener. Cancelling twice is a no-op.
func (s Subscription) Cancel() {
	if s.r == nil {
		return
	}
	s.r.lmu.Lock()
	defer s.r.lmu.Unlock()

	byOwner := s.r.listeners[s.id]
	list := byOwner[s.owner]
	for i, e := range list {
		if e.seq == s.seq {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(byOwner, s.owner)
	} else {
		byOwner[s.owner] = list
	}
}

// Subscribe registers fn to be called whenever the active location of id
// changes. Listeners of the same owner accumulate. owner must be comparable.
func (r *Resolver) Subscribe(owner any, id ID, fn Listener) Subscription {
	r.lmu.Lock()
	defer r.lmu.Unlock()

	r.seq++
	byOwner, ok := r.listeners[id]
	if !ok {
		byOwner = make(map[any][]listenerEntry)
		r.listeners[id] = byOwner
	}
	byOwner[owner] = append(byOwner[owner], listenerEntry{seq: r.seq, fn: fn})

	return Subscription{r: r, id: id, owner: owner, seq: r.seq}
}

// Release drops every listener registered by owner, on all folders.
func (r *Resolver) Release(owner any) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	for _, byOwner := range r.listeners {
		delete(byOwner, owner)
	}
}

// notify calls the listeners of id synchronously. The snapshot is taken under
// the lock and the calls happen outside it, so listeners may subscribe or
// cancel.
func (r *Resolver) notify(id ID) {
	r.lmu.Lock()
	var fns []Listener
	for _, list := range r.listeners[id] {
		for _, e := range list {
			fns = append(fns, e.fn)
		}
	}
	r.lmu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}

// DisplayName returns the translated name of id, e.g. "Offline Maps". Folders
// without a label key fall back to the ID.
func (r *Resolver) DisplayName(id ID) string {
	def, ok := Lookup(id)
	if !ok || def.NameKey == "" || r.labels == nil {
		return string(id)
	}
	if s, ok := r.labels.Label(def.NameKey); ok {
		return s
	}
	return string(id)
}

// DisplayValue returns the active location for display with a qualifier,
// e.g. "/sdcard/cgeo/maps (Default)".
func (r *Resolver) DisplayValue(ctx context.Context, id ID) string {
	value := "-"
	if loc, ok := r.Location(ctx, id); ok {
		value = loc.Display()
	}
	if r.IsUserDefined(id) {
		return value + " (" + r.label(i18n.FolderUserDefined, "User-Defined") + ")"
	}
	return value + " (" + r.label(i18n.FolderDefault, "Default") + ")"
}

// Describe is a debug representation.
func (r *Resolver) Describe(ctx context.Context, id ID) string {
	loc, _ := r.Location(ctx, id)
	def := "(same)"
	if r.IsUserDefined(id) {
		d, _ := r.DefaultLocation(ctx, id)
		def = d.String()
	}
	return fmt.Sprintf("%s: %s[%s, default: %s]", id, r.DisplayValue(ctx, id), loc, def)
}

func (r *Resolver) label(key, fallback string) string {
	if r.labels == nil {
		return fallback
	}
	if s, ok := r.labels.Label(key); ok {
		return s
	}
	return fallback
}

// Info is a snapshot of one folder for listings.
type Info struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Location    string `json:"location,omitempty"`
	Display     string `json:"display"`
	UserDefined bool   `json:"user_defined"`
	Default     string `json:"default,omitempty"`
}

func (r *Resolver) Info(ctx context.Context, id ID) Info {
	info := Info{
		ID:          id,
		Name:        r.DisplayName(id),
		Display:     r.DisplayValue(ctx, id),
		UserDefined: r.IsUserDefined(id),
	}
	if loc, ok := r.Location(ctx, id); ok {
		info.Location = loc.String()
	}
	if def, ok := r.DefaultLocation(ctx, id); ok {
		info.Default = def.String()
	}
	return info
}
