// Package source opens inbound content handed over by another party: a local
// path, a file: URI, an http(s) URL or an object in a configured S3 bucket.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cgeo/cgeofiles/internal/folders"
	"github.com/cgeo/cgeofiles/internal/netx"
	"github.com/cgeo/cgeofiles/internal/storage"
)

var (
	ErrNotFound    = errors.New("source not found")
	ErrUnsupported = errors.New("unsupported source")
)

type Opener struct {
	client   *http.Client
	backends storage.Backends
}

type Option func(*Opener)

func WithHTTPClient(c *http.Client) Option {
	return func(o *Opener) { o.client = c }
}

// WithBackends enables s3:// sources through the given storage backends.
func WithBackends(b storage.Backends) Option {
	return func(o *Opener) { o.backends = b }
}

func NewOpener(opts ...Option) *Opener {
	o := &Opener{client: http.DefaultClient}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type scheme int

const (
	schemeFile scheme = iota
	schemeHTTP
	schemeS3
	schemeOther
)

func classify(uri string) scheme {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return schemeHTTP
	case strings.HasPrefix(uri, "s3://"):
		return schemeS3
	case strings.HasPrefix(uri, "file:"), filepath.IsAbs(uri):
		return schemeFile
	case strings.Contains(uri, "://"):
		return schemeOther
	default:
		return schemeFile
	}
}

// Open returns a reader over the content of uri. A missing source yields an
// error matching ErrNotFound.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	switch classify(uri) {
	case schemeFile:
		f, err := os.Open(localPath(uri))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return f, err
	case schemeHTTP:
		rc, err := netx.Get(ctx, o.client, uri)
		if errors.Is(err, netx.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return rc, err
	case schemeS3:
		b, ref, err := o.s3Ref(uri)
		if err != nil {
			return nil, err
		}
		rc, err := b.Open(ctx, ref)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return rc, err
	default:
		return nil, fmt.Errorf("%s: %w", uri, ErrUnsupported)
	}
}

// Delete removes the source. Remote http sources cannot be deleted.
func (o *Opener) Delete(ctx context.Context, uri string) error {
	switch classify(uri) {
	case schemeFile:
		err := os.Remove(localPath(uri))
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return err
	case schemeS3:
		b, ref, err := o.s3Ref(uri)
		if err != nil {
			return err
		}
		return b.Delete(ctx, ref)
	default:
		return fmt.Errorf("delete %s: %w", uri, ErrUnsupported)
	}
}

// Path returns the path component of uri.
func (o *Opener) Path(uri string) string {
	return Path(uri)
}

// Path returns the path component of uri, used to guess a file name.
func Path(uri string) string {
	switch classify(uri) {
	case schemeFile:
		return localPath(uri)
	case schemeHTTP:
		u, err := url.Parse(uri)
		if err != nil {
			return ""
		}
		return u.Path
	case schemeS3:
		return "/" + strings.TrimPrefix(uri, "s3://")
	default:
		return ""
	}
}

func localPath(uri string) string {
	if !strings.HasPrefix(uri, "file:") {
		return uri
	}
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		return u.Path
	}
	return strings.TrimPrefix(uri, "file:")
}

func (o *Opener) s3Ref(uri string) (storage.Backend, storage.Ref, error) {
	loc, err := folders.ParseLocation(uri)
	if err != nil {
		return nil, storage.Ref{}, err
	}
	b, err := o.backends.For(folders.KindS3)
	if err != nil {
		return nil, storage.Ref{}, fmt.Errorf("%s: %w", uri, ErrUnsupported)
	}
	name := path.Base(loc.Root)
	if loc.Prefix() == "" || name == "" {
		return nil, storage.Ref{}, fmt.Errorf("%s has no object key: %w", uri, ErrUnsupported)
	}
	dir := path.Dir(loc.Prefix())
	if dir == "." {
		dir = ""
	}
	return b, storage.Ref{Location: folders.S3Location(loc.Bucket(), dir), Name: name}, nil
}
