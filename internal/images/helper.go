// Package images acquires images from a camera or from the user's storage
// through a request/result protocol, like an Android activity helper.
//
// The platform starts the chooser or camera for an Intent and later reports
// back through OnResult with the same request code. Selected images may be
// scaled; scaled images are written as JPEG copies into the IMAGES folder.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cgeo/cgeofiles/internal/folders"
	"github.com/cgeo/cgeofiles/internal/i18n"
	"github.com/cgeo/cgeofiles/internal/logging"
	"github.com/cgeo/cgeofiles/internal/storage"
)

const (
	ActionGetContent   = "android.intent.action.GET_CONTENT"
	ActionImageCapture = "android.media.action.IMAGE_CAPTURE"
)

// Intent asks the platform for images.
type Intent struct {
	Action        string
	Type          string
	Title         string
	AllowMultiple bool
	// Output is where the camera should store the picture.
	Output string
}

type ResultCode int

const (
	ResultCancelled ResultCode = 0
	ResultOK        ResultCode = -1
)

// ResultData carries the selected content: URI for a single pick, URIs for
// a multi pick.
type ResultData struct {
	URI  string
	URIs []string
}

// Image is an acquired image.
type Image struct {
	URI string
}

type Launcher interface {
	Launch(requestCode int, intent Intent) error
}

type Notifier interface {
	Toast(msg string)
}

// Source reads selected content, see source.Opener.
type Source interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Storage writes image copies, see storage.Manager.
type Storage interface {
	Create(ctx context.Context, id folders.ID, name string) (storage.Ref, error)
	OpenForWrite(ctx context.Context, ref storage.Ref) (io.WriteCloser, error)
	Delete(ctx context.Context, ref storage.Ref) error
}

type pending struct {
	maxXY         int
	callOnFailure bool
	single        func(*Image)
	multi         func([]Image)
	// camera output, zero for storage selections
	output storage.Ref
}

type Helper struct {
	launcher Launcher
	notifier Notifier
	source   Source
	storage  Storage
	catalog  i18n.Catalog
	log      logging.Logger
	now      func() time.Time

	requestCodeCamera        int
	requestCodeStorageSelect int
	requestCodeStorageMulti  int

	mu      sync.Mutex
	running map[int]pending
}

type Option func(*Helper)

func WithLogger(l logging.Logger) Option {
	return func(h *Helper) { h.log = l }
}

func WithCatalog(c i18n.Catalog) Option {
	return func(h *Helper) { h.catalog = c }
}

func WithClock(now func() time.Time) Option {
	return func(h *Helper) { h.now = now }
}

// NewHelper uses requestCodeStart, requestCodeStart+1 and requestCodeStart+2
// as request codes for camera, single and multiple selection.
func NewHelper(launcher Launcher, notifier Notifier, src Source, st Storage, requestCodeStart int, opts ...Option) *Helper {
	h := &Helper{
		launcher:                 launcher,
		notifier:                 notifier,
		source:                   src,
		storage:                  st,
		catalog:                  i18n.English,
		log:                      logging.Nop(),
		now:                      time.Now,
		requestCodeCamera:        requestCodeStart,
		requestCodeStorageSelect: requestCodeStart + 1,
		requestCodeStorageMulti:  requestCodeStart + 2,
		running:                  make(map[int]pending),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// FromStorage lets the user pick one image. With maxXY > 0 the image is
// scaled and copied. callOnFailure makes cb receive nil on failure.
func (h *Helper) FromStorage(maxXY int, callOnFailure bool, cb func(*Image)) {
	h.start(h.requestCodeStorageSelect, Intent{
		Action: ActionGetContent,
		Type:   "image/*",
		Title:  "Select Image",
	}, pending{maxXY: maxXY, callOnFailure: callOnFailure, single: cb})
}

// MultipleFromStorage is FromStorage for several images.
func (h *Helper) MultipleFromStorage(maxXY int, callOnFailure bool, cb func([]Image)) {
	h.start(h.requestCodeStorageMulti, Intent{
		Action:        ActionGetContent,
		Type:          "image/*",
		Title:         "Select Multiple Images",
		AllowMultiple: true,
	}, pending{maxXY: maxXY, callOnFailure: callOnFailure, multi: cb})
}

// FromCamera pre-creates the output file in IMAGES and asks the camera to
// fill it.
func (h *Helper) FromCamera(ctx context.Context, maxXY int, callOnFailure bool, cb func(*Image)) {
	ref, err := h.storage.Create(ctx, folders.Images, h.newImageName())
	if err != nil {
		h.log.Warn(ctx, "creating camera output failed", "err", err)
		h.fail(callOnFailure, cb)
		return
	}
	h.start(h.requestCodeCamera, Intent{
		Action: ActionImageCapture,
		Output: ref.String(),
	}, pending{maxXY: maxXY, callOnFailure: callOnFailure, single: cb, output: ref})
}

func (h *Helper) start(code int, intent Intent, p pending) {
	h.mu.Lock()
	h.running[code] = p
	h.mu.Unlock()

	if err := h.launcher.Launch(code, intent); err != nil {
		h.mu.Lock()
		delete(h.running, code)
		h.mu.Unlock()
		h.log.Warn(context.Background(), "launching image intent failed", "action", intent.Action, "err", err)
		h.failPending(p)
	}
}

// OnResult handles a platform result. It returns false when requestCode does
// not belong to a pending request of this helper.
func (h *Helper) OnResult(ctx context.Context, requestCode int, resultCode ResultCode, data *ResultData) bool {
	h.mu.Lock()
	p, ok := h.running[requestCode]
	delete(h.running, requestCode)
	h.mu.Unlock()
	if !ok {
		return false
	}

	if !h.checkBasicResult(resultCode) {
		if !p.output.Location.IsZero() {
			_ = h.storage.Delete(ctx, p.output)
		}
		return true
	}

	switch requestCode {
	case h.requestCodeCamera:
		h.onCameraResult(ctx, p)
	case h.requestCodeStorageSelect:
		h.onStorageResult(ctx, p, data, false)
	case h.requestCodeStorageMulti:
		h.onStorageResult(ctx, p, data, true)
	}
	return true
}

func (h *Helper) checkBasicResult(code ResultCode) bool {
	switch code {
	case ResultOK:
		return true
	case ResultCancelled:
		h.toast(h.catalog.Get(i18n.ImageSelectCancel))
	default:
		h.toast(h.catalog.Get(i18n.ImageAcquireFailed))
	}
	return false
}

func (h *Helper) onCameraResult(ctx context.Context, p pending) {
	img := h.imageFrom(ctx, p.output.String(), p.maxXY, false)
	if img == nil {
		h.failPending(p)
		return
	}
	if p.single != nil {
		p.single(img)
	}
}

func (h *Helper) onStorageResult(ctx context.Context, p pending, data *ResultData, multi bool) {
	if data == nil {
		h.failPending(p)
		return
	}

	var result []Image
	if data.URI != "" {
		if img := h.imageFrom(ctx, data.URI, p.maxXY, true); img != nil {
			result = append(result, *img)
			h.toast(h.catalog.Get(i18n.ImageStored) + "\n" + img.URI)
		}
	}
	for _, uri := range data.URIs {
		if img := h.imageFrom(ctx, uri, p.maxXY, true); img != nil {
			result = append(result, *img)
		}
	}

	switch {
	case len(result) == 0:
		h.failPending(p)
	case multi:
		if p.multi != nil {
			p.multi(result)
		}
	default:
		if p.single != nil {
			p.single(&result[0])
		}
	}
}

// imageFrom returns the image for uri, scaled into a copy when maxXY > 0.
// nil means failure; the reason is logged or toasted.
func (h *Helper) imageFrom(ctx context.Context, uri string, maxXY int, checkContent bool) *Image {
	if uri == "" {
		h.toast(h.catalog.Get(i18n.ImageAcquireFailed))
		return nil
	}
	if !checkContent && maxXY <= 0 {
		return &Image{URI: uri}
	}

	data, err := h.read(ctx, uri)
	if err != nil {
		h.log.Warn(ctx, "reading image failed", "uri", uri, "err", err)
		if errors.Is(err, ErrImageTooLarge) {
			h.toast(h.catalog.Get(i18n.ImageAcquireFailed))
		}
		return nil
	}
	if checkContent && !IsSupported(data) {
		h.toast(h.catalog.Get(i18n.ImageAcquireFailed))
		return nil
	}
	if maxXY <= 0 {
		return &Image{URI: uri}
	}

	ref, err := h.writeScaled(ctx, data, maxXY)
	if err != nil {
		h.log.Warn(ctx, "scaling image failed", "uri", uri, "err", err)
		return nil
	}
	return &Image{URI: ref.String()}
}

func (h *Helper) read(ctx context.Context, uri string) ([]byte, error) {
	rc, err := h.source.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxImageBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, maxImageBytes)
	}
	return data, nil
}

func (h *Helper) writeScaled(ctx context.Context, data []byte, maxXY int) (storage.Ref, error) {
	ref, err := h.storage.Create(ctx, folders.Images, h.newImageName())
	if err != nil {
		return storage.Ref{}, err
	}
	w, err := h.storage.OpenForWrite(ctx, ref)
	if err != nil {
		_ = h.storage.Delete(ctx, ref)
		return storage.Ref{}, err
	}
	if err := ScaleJPEG(w, data, maxXY); err != nil {
		_ = w.Close()
		_ = h.storage.Delete(ctx, ref)
		return storage.Ref{}, err
	}
	if err := w.Close(); err != nil {
		_ = h.storage.Delete(ctx, ref)
		return storage.Ref{}, err
	}
	return ref, nil
}

func (h *Helper) newImageName() string {
	return fmt.Sprintf("img_%s_%s.jpg", h.now().Format("20060102_150405"), uuid.NewString()[:8])
}

func (h *Helper) failPending(p pending) {
	if p.multi != nil {
		h.toast(h.catalog.Get(i18n.ImageAcquireFailed))
		if p.callOnFailure {
			p.multi(nil)
		}
		return
	}
	h.fail(p.callOnFailure, p.single)
}

func (h *Helper) fail(callOnFailure bool, cb func(*Image)) {
	h.toast(h.catalog.Get(i18n.ImageAcquireFailed))
	if callOnFailure && cb != nil {
		cb(nil)
	}
}

func (h *Helper) toast(msg string) {
	if h.notifier != nil {
		h.notifier.Toast(msg)
	}
}
