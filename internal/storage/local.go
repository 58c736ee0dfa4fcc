package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cgeo/cgeofiles/internal/filex"
	"github.com/cgeo/cgeofiles/internal/folders"
)

// LocalBackend stores content on the local filesystem.
type LocalBackend struct{}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

func (b *LocalBackend) Usable(ctx context.Context, loc folders.Location) bool {
	if loc.Kind != folders.KindFile || loc.IsZero() {
		return false
	}
	_, err := filex.EnsureDir(loc.Root)
	return err == nil
}

func (b *LocalBackend) Create(ctx context.Context, loc folders.Location, name string) (Ref, error) {
	dir, err := filex.EnsureDir(loc.Root)
	if err != nil {
		return Ref{}, err
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		candidate := candidateName(name, attempt)
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o660)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return Ref{}, fmt.Errorf("create %s: %w", candidate, err)
		}
		if err := f.Close(); err != nil {
			return Ref{}, fmt.Errorf("close %s: %w", candidate, err)
		}
		return Ref{Location: folders.FileLocation(dir), Name: candidate}, nil
	}

	return Ref{}, fmt.Errorf("%s in %s: %w", name, dir, ErrNameExhausted)
}

func (b *LocalBackend) OpenForWrite(ctx context.Context, ref Ref) (io.WriteCloser, error) {
	p, err := localPath(ref)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o660)
}

func (b *LocalBackend) Open(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	p, err := localPath(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (b *LocalBackend) Delete(ctx context.Context, ref Ref) error {
	p, err := localPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (b *LocalBackend) Exists(ctx context.Context, ref Ref) (bool, error) {
	p, err := localPath(ref)
	if err != nil {
		return false, err
	}
	return filex.Exists(p)
}

func (b *LocalBackend) List(ctx context.Context, loc folders.Location) ([]Entry, error) {
	entries, err := os.ReadDir(loc.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Ref:     Ref{Location: loc, Name: e.Name()},
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

func localPath(ref Ref) (string, error) {
	if ref.Location.Kind != folders.KindFile {
		return "", fmt.Errorf("%s: %w", ref.Location.Kind, ErrUnsupportedKind)
	}
	return filepath.Join(ref.Location.Root, ref.Name), nil
}
