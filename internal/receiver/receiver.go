// Package receiver moves a map file handed over by another party into the
// offline maps folder.
//
// A receive runs PENDING -> COPYING -> SUCCESS | CANCELLED | IO_ERROR |
// NOT_FOUND | UNKNOWN. The copy goes in fixed-size chunks; cancellation is
// checked before every chunk read and removes the partial destination. On
// success the source is deleted (best-effort) before the registry learns
// about the new file, since source and destination may be the same folder.
//
// The destination is resolved once, when the copy starts. A later change of
// the offline maps folder does not move or abort a copy in flight.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"sync/atomic"
	"time"

	"github.com/cgeo/cgeofiles/internal/common"
	"github.com/cgeo/cgeofiles/internal/cryptox"
	"github.com/cgeo/cgeofiles/internal/folders"
	"github.com/cgeo/cgeofiles/internal/i18n"
	"github.com/cgeo/cgeofiles/internal/logging"
	"github.com/cgeo/cgeofiles/internal/offlinemaps"
	"github.com/cgeo/cgeofiles/internal/source"
	"github.com/cgeo/cgeofiles/internal/storage"
)

// ChunkSize is the copy buffer size.
const ChunkSize = 32 << 10

// Request is an inbound file delivery.
type Request struct {
	// Source is the content reference: a path, file:, http(s) or s3 URI.
	Source string `json:"source"`
	// Filename is an optional name hint.
	Filename string `json:"filename,omitempty"`
	// OriginURL and OriginDate describe where an upstream download came from.
	OriginURL  string    `json:"origin_url,omitempty"`
	OriginDate time.Time `json:"origin_date,omitempty"`
}

type Progress struct {
	Bytes int64  `json:"bytes"`
	Text  string `json:"text"`
}

type ProgressFunc func(Progress)

type Storage interface {
	Create(ctx context.Context, id folders.ID, name string) (storage.Ref, error)
	OpenForWrite(ctx context.Context, ref storage.Ref) (io.WriteCloser, error)
	Delete(ctx context.Context, ref storage.Ref) error
}

type Source interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
	Delete(ctx context.Context, uri string) error
	// Path is the path component of uri, "" when it has none.
	Path(uri string) string
}

type Registry interface {
	NotifyNewMapFile(ctx context.Context, ref storage.Ref, size int64, digest string) error
	WriteInfo(ctx context.Context, url, filename, displayName string, date time.Time) error
}

// FolderNames resolves folder display names, see folders.Resolver.
type FolderNames interface {
	DisplayName(id folders.ID) string
}

type Receiver struct {
	storage  Storage
	source   Source
	registry Registry
	names    FolderNames
	catalog  i18n.Catalog
	log      logging.Logger
	now      func() time.Time
	chunk    int

	running atomic.Bool
}

type Option func(*Receiver)

func WithLogger(l logging.Logger) Option {
	return func(r *Receiver) { r.log = l }
}

func WithCatalog(c i18n.Catalog) Option {
	return func(r *Receiver) { r.catalog = c }
}

func WithFolderNames(n FolderNames) Option {
	return func(r *Receiver) { r.names = n }
}

func WithClock(now func() time.Time) Option {
	return func(r *Receiver) { r.now = now }
}

func WithChunkSize(n int) Option {
	return func(r *Receiver) {
		if n > 0 {
			r.chunk = n
		}
	}
}

func New(st Storage, src Source, reg Registry, opts ...Option) *Receiver {
	r := &Receiver{
		storage:  st,
		source:   src,
		registry: reg,
		catalog:  i18n.English,
		log:      logging.Nop(),
		now:      time.Now,
		chunk:    ChunkSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the catalog used for progress and result texts.
func (r *Receiver) Catalog() i18n.Catalog {
	return r.catalog
}

// Receive runs one receive to completion on the calling goroutine. Only one
// receive per Receiver runs at a time; a second one fails with
// common.ErrorBusy and state UNKNOWN.
func (r *Receiver) Receive(ctx context.Context, req Request, onProgress ProgressFunc) Result {
	if !r.running.CompareAndSwap(false, true) {
		return Result{State: StateUnknown, Err: common.ErrorBusy}
	}
	defer r.running.Store(false)
	return r.receive(ctx, req, nil, onProgress, nil)
}

func (r *Receiver) folderName() string {
	if r.names == nil {
		return string(folders.OfflineMaps)
	}
	return r.names.DisplayName(folders.OfflineMaps)
}

// receive does the work. cancelled may be nil; onCopying is called once the
// destination exists.
func (r *Receiver) receive(ctx context.Context, req Request, cancelled *atomic.Bool, onProgress ProgressFunc, onCopying func()) (res Result) {
	filename := GuessFilename(req.Filename, r.source.Path(req.Source), func() string {
		return SynthesizeName(r.now())
	})
	res = Result{
		State:    StateUnknown,
		Filename: filename,
		FileInfo: FileInfo(filename),
		Folder:   r.folderName(),
	}
	log := r.log.With("source", req.Source, "filename", filename)

	defer func() {
		if p := recover(); p != nil {
			log.Error(ctx, "receiving map file panicked", "panic", p)
			res.State = StateUnknown
			res.Err = fmt.Errorf("panic: %v", p)
		}
	}()

	isCancelled := func() bool {
		return (cancelled != nil && cancelled.Load()) || ctx.Err() != nil
	}

	log.Debug(ctx, "start receiving map file")

	src, err := r.source.Open(ctx, req.Source)
	if err != nil {
		return r.failSource(ctx, log, res, err)
	}
	srcClosed := false
	closeSrc := func() {
		if !srcClosed {
			srcClosed = true
			_ = src.Close()
		}
	}
	defer closeSrc()

	ref, err := r.storage.Create(ctx, folders.OfflineMaps, filename)
	if err != nil {
		return r.fail(ctx, log, res, err)
	}
	dst, err := r.storage.OpenForWrite(ctx, ref)
	if err != nil {
		r.discard(ctx, log, ref)
		return r.fail(ctx, log, res, err)
	}
	dstClosed := false
	defer func() {
		if !dstClosed {
			_ = dst.Close()
		}
	}()

	if onCopying != nil {
		onCopying()
	}

	hasher := cryptox.NewDigest()
	n, err := r.copy(dst, src, hasher, isCancelled, onProgress)
	res.Bytes = n
	if err != nil || isCancelled() {
		dstClosed = true
		_ = storage.Abort(dst)
		r.discard(ctx, log, ref)
		if err == nil || errors.Is(err, errCancelled) {
			log.Info(ctx, "receiving map file cancelled", "bytes", n)
			res.State = StateCancelled
			return res
		}
		return r.fail(ctx, log, res, err)
	}

	dstClosed = true
	if err := dst.Close(); err != nil {
		r.discard(ctx, log, ref)
		return r.fail(ctx, log, res, err)
	}

	res.State = StateSuccess
	res.Ref = ref
	res.Digest = cryptox.Hex(hasher)

	// release the source before deleting it
	closeSrc()
	if err := r.source.Delete(ctx, req.Source); err != nil {
		log.Warn(ctx, "deleting received source failed, ignored", "err", err)
	}

	if r.registry != nil {
		if err := r.registry.NotifyNewMapFile(ctx, ref, n, res.Digest); err != nil {
			log.Warn(ctx, "registering offline map failed", "ref", ref.String(), "err", err)
		}
		if req.OriginURL != "" {
			display := offlinemaps.DisplayName(res.FileInfo)
			if err := r.registry.WriteInfo(ctx, req.OriginURL, ref.Name, display, req.OriginDate); err != nil {
				log.Warn(ctx, "writing map provenance failed", "ref", ref.String(), "err", err)
			}
		}
	}

	log.Info(ctx, "map file received", "ref", ref.String(), "bytes", n)
	return res
}

var errCancelled = errors.New("cancelled")

func (r *Receiver) copy(dst io.Writer, src io.Reader, h hash.Hash, cancelled func() bool, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, r.chunk)
	var total int64
	for {
		if cancelled() {
			return total, errCancelled
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, err
			}
			h.Write(buf[:n])
			total += int64(n)
			if onProgress != nil {
				onProgress(Progress{Bytes: total, Text: r.catalog.Format(i18n.ReceiveKBCopied, total>>10)})
			}
		}
		if errors.Is(rerr, io.EOF) {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// failSource classifies an error opening the source.
func (r *Receiver) failSource(ctx context.Context, log logging.Logger, res Result, err error) Result {
	switch {
	case errors.Is(err, source.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		res.State = StateNotFound
		res.Err = err
		log.Error(ctx, "map file to receive not found", "err", err)
		return res
	case errors.Is(err, source.ErrUnsupported):
		res.State = StateUnknown
		res.Err = err
		log.Error(ctx, "map file source not supported", "err", err)
		return res
	}
	return r.fail(ctx, log, res, err)
}

func (r *Receiver) fail(ctx context.Context, log logging.Logger, res Result, err error) Result {
	res.State = StateIOError
	res.Err = err
	log.Error(ctx, "receiving map file failed", "err", err)
	return res
}

// discard removes a partial destination.
func (r *Receiver) discard(ctx context.Context, log logging.Logger, ref storage.Ref) {
	if err := r.storage.Delete(ctx, ref); err != nil {
		log.Warn(ctx, "removing partial map file failed", "ref", ref.String(), "err", err)
	}
}
