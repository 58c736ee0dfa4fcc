package receiver

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/cgeo/cgeofiles/internal/common"
	"github.com/cgeo/cgeofiles/internal/folders"
	"github.com/cgeo/cgeofiles/internal/source"
	"github.com/cgeo/cgeofiles/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource is a content provider without paths, like an Android content URI.
type memSource struct {
	mu        sync.Mutex
	files     map[string][]byte
	readers   map[string]io.Reader
	deleteErr error
	opened    int
	closed    int
}

func newMemSource() *memSource {
	return &memSource{files: map[string][]byte{}, readers: map[string]io.Reader{}}
}

type trackedReader struct {
	io.Reader
	s *memSource
}

func (r *trackedReader) Close() error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.closed++
	return nil
}

func (s *memSource) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.readers[uri]; ok {
		s.opened++
		return &trackedReader{Reader: r, s: s}, nil
	}
	data, ok := s.files[uri]
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, source.ErrNotFound)
	}
	s.opened++
	return &trackedReader{Reader: bytes.NewReader(data), s: s}, nil
}

func (s *memSource) Delete(ctx context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.files, uri)
	delete(s.readers, uri)
	return nil
}

func (s *memSource) Path(uri string) string { return "" }

func (s *memSource) exists(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[uri]
	return ok
}

type provenance struct {
	url, filename, displayName string
	date                       time.Time
}

type fakeRegistry struct {
	mu       sync.Mutex
	notified []storage.Ref
	digests  []string
	infos    []provenance
	// onNotify runs inside NotifyNewMapFile
	onNotify func(ref storage.Ref)
}

func (r *fakeRegistry) NotifyNewMapFile(ctx context.Context, ref storage.Ref, size int64, digest string) error {
	if r.onNotify != nil {
		r.onNotify(ref)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, ref)
	r.digests = append(r.digests, digest)
	return nil
}

func (r *fakeRegistry) WriteInfo(ctx context.Context, url, filename, displayName string, date time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, provenance{url, filename, displayName, date})
	return nil
}

type settingsMap map[string]string

func (m settingsMap) FolderLocation(ctx context.Context, key string) (string, error) {
	return m[key], nil
}

func (m settingsMap) SetFolderLocation(ctx context.Context, key, value string) error {
	m[key] = value
	return nil
}

type fixture struct {
	receiver *Receiver
	manager  *storage.Manager
	source   *memSource
	registry *fakeRegistry
	mapsDir  string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()
	backends := storage.Backends{folders.KindFile: storage.NewLocalBackend()}
	resolver, err := folders.NewResolver(context.Background(), folders.Roots{
		LegacyPublic: folders.FileLocation(filepath.Join(root, "cgeo")),
	}, settingsMap{}, backends)
	require.NoError(t, err)

	f := &fixture{
		manager:  storage.NewManager(resolver, backends, nil),
		source:   newMemSource(),
		registry: &fakeRegistry{},
		mapsDir:  filepath.Join(root, "cgeo", "maps"),
	}
	opts = append([]Option{WithFolderNames(resolver)}, opts...)
	f.receiver = New(f.manager, f.source, f.registry, opts...)
	return f
}

func (f *fixture) mapFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.mapsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestReceive_LargeFileWithoutHint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithClock(func() time.Time { return time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC) }))
	data := randomBytes(t, 10<<20)
	f.source.files["content://downloads/42"] = data

	var progress []Progress
	res := f.receiver.Receive(ctx, Request{Source: "content://downloads/42"}, func(p Progress) {
		progress = append(progress, p)
	})

	require.Equal(t, StateSuccess, res.State, "err: %v", res.Err)
	assert.Regexp(t, `^map_2024-05-01_10-30-00_[0-9a-f]{8}\.map$`, res.Ref.Name)
	assert.Equal(t, int64(len(data)), res.Bytes)
	assert.False(t, f.source.exists("content://downloads/42"), "source must be gone")

	_, err := f.source.Open(ctx, "content://downloads/42")
	assert.ErrorIs(t, err, source.ErrNotFound)

	written, err := os.ReadFile(filepath.Join(f.mapsDir, res.Ref.Name))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, written))

	sum := blake2b.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Digest)

	require.Len(t, progress, (10<<20)/ChunkSize)
	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i].Bytes, progress[i-1].Bytes)
	}
	last := progress[len(progress)-1]
	assert.Equal(t, int64(len(data)), last.Bytes)
	assert.Equal(t, "10240 KB copied", last.Text)

	assert.Equal(t, 1, f.source.opened)
	assert.Equal(t, f.source.opened, f.source.closed)
	require.Len(t, f.registry.notified, 1)
	assert.Equal(t, res.Ref, f.registry.notified[0])
	assert.Equal(t, res.Digest, f.registry.digests[0])
	assert.Empty(t, f.registry.infos)
}

func TestReceive_RegistryNotifiedAfterSourceDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.source.files["content://a"] = []byte("map")

	var sourceGoneAtNotify bool
	f.registry.onNotify = func(storage.Ref) {
		sourceGoneAtNotify = !f.source.exists("content://a")
	}

	res := f.receiver.Receive(ctx, Request{Source: "content://a", Filename: "a"}, nil)
	require.Equal(t, StateSuccess, res.State)
	assert.Equal(t, "a.map", res.Ref.Name)
	assert.True(t, sourceGoneAtNotify)
}

func TestReceive_SourceDeleteFailureIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.source.files["content://a"] = []byte("map")
	f.source.deleteErr = errors.New("permission denied")

	res := f.receiver.Receive(ctx, Request{Source: "content://a", Filename: "a.map"}, nil)
	require.Equal(t, StateSuccess, res.State)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"a.map"}, f.mapFiles(t))
	assert.Len(t, f.registry.notified, 1)
}

func TestReceive_Provenance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	date := time.Unix(1700000000, 0)
	f.source.files["content://a"] = []byte("map")
	f.source.files["content://b"] = []byte("map")

	res := f.receiver.Receive(ctx, Request{
		Source:     "content://a",
		Filename:   "germany_berlin.map",
		OriginURL:  "https://download.example.org/germany/berlin.map",
		OriginDate: date,
	}, nil)
	require.Equal(t, StateSuccess, res.State)
	require.Len(t, f.registry.infos, 1)
	assert.Equal(t, provenance{
		url:         "https://download.example.org/germany/berlin.map",
		filename:    "germany_berlin.map",
		displayName: "Germany Berlin",
		date:        date,
	}, f.registry.infos[0])

	// no provenance without origin
	res = f.receiver.Receive(ctx, Request{Source: "content://b", Filename: "other"}, nil)
	require.Equal(t, StateSuccess, res.State)
	assert.Len(t, f.registry.infos, 1)
}

func TestReceive_ExistingNameIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.mapsDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(f.mapsDir, "berlin.map"), []byte("old"), 0o600))
	f.source.files["content://a"] = []byte("new")

	res := f.receiver.Receive(ctx, Request{Source: "content://a", Filename: "berlin"}, nil)
	require.Equal(t, StateSuccess, res.State)
	assert.Equal(t, "berlin (1).map", res.Ref.Name)

	old, err := os.ReadFile(filepath.Join(f.mapsDir, "berlin.map"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestReceive_NotFoundLeavesDestinationUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.receiver.Receive(ctx, Request{Source: "content://missing", Filename: "x"}, nil)
	assert.Equal(t, StateNotFound, res.State)
	assert.ErrorIs(t, res.Err, source.ErrNotFound)
	assert.Empty(t, f.mapFiles(t))
	assert.Empty(t, f.registry.notified)
	assert.Equal(t, "Map file could not be found.", res.Message(f.receiver.Catalog()))
}

func TestReceive_CancelBeforeCopy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture(t)
	f.source.files["content://a"] = randomBytes(t, 100<<10)

	res := f.receiver.Receive(ctx, Request{Source: "content://a", Filename: "a"}, nil)
	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, int64(0), res.Bytes)
	assert.Empty(t, f.mapFiles(t))
	assert.True(t, f.source.exists("content://a"), "cancelled receive keeps the source")
	assert.Empty(t, f.registry.notified)
	assert.Equal(t, f.source.opened, f.source.closed)
}

// gatedReader hands out one chunk, then waits for gate before each further one.
type gatedReader struct {
	data  []byte
	first bool
	gate  chan struct{}
}

func (g *gatedReader) Read(p []byte) (int, error) {
	if len(g.data) == 0 {
		return 0, io.EOF
	}
	if g.first {
		<-g.gate
	}
	g.first = true
	n := copy(p, g.data)
	g.data = g.data[n:]
	return n, nil
}

func TestTask_CancelMidCopy(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.source.readers["content://slow"] = &gatedReader{data: randomBytes(t, 4*ChunkSize), gate: gate}

	task, err := f.receiver.Start(context.Background(), Request{Source: "content://slow", Filename: "slow"})
	require.NoError(t, err)

	ev := <-task.Events()
	require.NotNil(t, ev.Progress)
	assert.Equal(t, int64(ChunkSize), ev.Progress.Bytes)

	state, _ := task.Snapshot()
	assert.Equal(t, StateCopying, state)

	task.Cancel()
	close(gate)

	res := task.Wait()
	assert.Equal(t, StateCancelled, res.State)
	assert.Less(t, res.Bytes, int64(4*ChunkSize))
	assert.Empty(t, f.mapFiles(t))
	assert.Empty(t, f.registry.notified)

	var last Event
	for e := range task.Events() {
		last = e
	}
	require.NotNil(t, last.Result)
	assert.Equal(t, StateCancelled, last.Result.State)
}

func TestTask_EventsEndWithResult(t *testing.T) {
	f := newFixture(t)
	data := randomBytes(t, 200*ChunkSize)
	f.source.files["content://a"] = data

	task, err := f.receiver.Start(context.Background(), Request{Source: "content://a"})
	require.NoError(t, err)

	// drain only after the copy finished so progress events overflow
	<-task.Done()

	var events []Event
	for e := range task.Events() {
		events = append(events, e)
	}
	require.NotEmpty(t, events)
	require.LessOrEqual(t, len(events), eventBuffer)

	last := events[len(events)-1]
	require.NotNil(t, last.Result)
	assert.Equal(t, StateSuccess, last.Result.State)
	for i, e := range events[:len(events)-1] {
		require.NotNil(t, e.Progress)
		if i > 0 {
			assert.Greater(t, e.Progress.Bytes, events[i-1].Progress.Bytes)
		}
	}

	state, p := task.Snapshot()
	assert.Equal(t, StateSuccess, state)
	assert.Equal(t, int64(len(data)), p.Bytes)
}

func TestReceiver_OneAtATime(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.source.readers["content://slow"] = &gatedReader{data: randomBytes(t, 2*ChunkSize), gate: gate}
	f.source.files["content://b"] = []byte("b")

	task, err := f.receiver.Start(context.Background(), Request{Source: "content://slow"})
	require.NoError(t, err)
	<-task.Events()

	_, err = f.receiver.Start(context.Background(), Request{Source: "content://b"})
	assert.ErrorIs(t, err, common.ErrorBusy)
	res := f.receiver.Receive(context.Background(), Request{Source: "content://b"}, nil)
	assert.ErrorIs(t, res.Err, common.ErrorBusy)

	close(gate)
	assert.Equal(t, StateSuccess, task.Wait().State)

	res = f.receiver.Receive(context.Background(), Request{Source: "content://b"}, nil)
	assert.Equal(t, StateSuccess, res.State)
}

type failingStorage struct {
	*storage.Manager
	writer  *failingWriter
	deleted []storage.Ref
}

type failingWriter struct {
	closed bool
}

func (w *failingWriter) Write(p []byte) (int, error) { return 0, errors.New("no space left on device") }
func (w *failingWriter) Close() error               { w.closed = true; return nil }

func (s *failingStorage) OpenForWrite(ctx context.Context, ref storage.Ref) (io.WriteCloser, error) {
	return s.writer, nil
}

func (s *failingStorage) Delete(ctx context.Context, ref storage.Ref) error {
	s.deleted = append(s.deleted, ref)
	return s.Manager.Delete(ctx, ref)
}

func TestReceive_IOError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	st := &failingStorage{Manager: f.manager, writer: &failingWriter{}}
	r := New(st, f.source, f.registry, WithFolderNames(f.manager.Resolver()))
	f.source.files["content://a"] = []byte("map")

	res := r.Receive(ctx, Request{Source: "content://a", Filename: "a"}, nil)
	assert.Equal(t, StateIOError, res.State)
	assert.Error(t, res.Err)
	assert.Equal(t, "Error copying map file to Offline Maps. Check free space and permissions.", res.Message(r.Catalog()))

	assert.True(t, st.writer.closed)
	assert.Equal(t, f.source.opened, f.source.closed)
	require.Len(t, st.deleted, 1)
	assert.Empty(t, f.mapFiles(t))
	assert.True(t, f.source.exists("content://a"))
	assert.Empty(t, f.registry.notified)
}

func TestReceive_NoUsableLocation(t *testing.T) {
	ctx := context.Background()
	resolver, err := folders.NewResolver(ctx, folders.Roots{}, settingsMap{}, storage.Backends{})
	require.NoError(t, err)
	src := newMemSource()
	src.files["content://a"] = []byte("map")
	r := New(storage.NewManager(resolver, storage.Backends{}, nil), src, &fakeRegistry{})

	res := r.Receive(ctx, Request{Source: "content://a"}, nil)
	assert.Equal(t, StateIOError, res.State)
	assert.ErrorIs(t, res.Err, storage.ErrNoUsableLocation)
	assert.Equal(t, src.opened, src.closed)
}

func TestReceive_LocalFileSource(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	backends := storage.Backends{folders.KindFile: storage.NewLocalBackend()}
	resolver, err := folders.NewResolver(ctx, folders.Roots{
		LegacyPublic: folders.FileLocation(filepath.Join(root, "cgeo")),
	}, settingsMap{}, backends)
	require.NoError(t, err)

	download := filepath.Join(root, "Download", "saxony.map")
	require.NoError(t, os.MkdirAll(filepath.Dir(download), 0o700))
	require.NoError(t, os.WriteFile(download, []byte("saxony"), 0o600))

	r := New(storage.NewManager(resolver, backends, nil), source.NewOpener(), nil)
	res := r.Receive(ctx, Request{Source: "file://" + download}, nil)
	require.Equal(t, StateSuccess, res.State, "err: %v", res.Err)
	assert.Equal(t, "saxony.map", res.Ref.Name)
	assert.Equal(t, "Map file 'saxony' successfully copied to map directory.", res.Message(r.Catalog()))

	_, err = os.Stat(download)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(filepath.Join(root, "cgeo", "maps", "saxony.map"))
	require.NoError(t, err)
	assert.Equal(t, "saxony", string(data))
}

// abortingWriter records whether pending content was committed or dropped.
type abortingWriter struct {
	bytes.Buffer
	committed bool
	aborted   bool
}

func (w *abortingWriter) Close() error { w.committed = true; return nil }
func (w *abortingWriter) Abort() error { w.aborted = true; return nil }

type abortingStorage struct {
	*storage.Manager
	writer  *abortingWriter
	deleted []storage.Ref
}

func (s *abortingStorage) OpenForWrite(ctx context.Context, ref storage.Ref) (io.WriteCloser, error) {
	return s.writer, nil
}

func (s *abortingStorage) Delete(ctx context.Context, ref storage.Ref) error {
	s.deleted = append(s.deleted, ref)
	return s.Manager.Delete(ctx, ref)
}

func TestReceive_CancelAbortsPendingWrite(t *testing.T) {
	f := newFixture(t)
	st := &abortingStorage{Manager: f.manager, writer: &abortingWriter{}}
	r := New(st, f.source, f.registry, WithChunkSize(8))
	f.source.files["content://a"] = randomBytes(t, 256)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res := r.Receive(ctx, Request{Source: "content://a", Filename: "a"}, func(Progress) { cancel() })

	assert.Equal(t, StateCancelled, res.State)
	assert.True(t, st.writer.aborted)
	assert.False(t, st.writer.committed, "cancelled content is not published")
	require.Len(t, st.deleted, 1)
	assert.Empty(t, f.mapFiles(t))
	assert.Equal(t, 1, f.source.opened)
	assert.Equal(t, 1, f.source.closed)
}

func TestReceive_SuccessClosesSourceOnce(t *testing.T) {
	f := newFixture(t)
	f.source.files["content://a"] = randomBytes(t, 1<<10)

	res := f.receiver.Receive(context.Background(), Request{Source: "content://a", Filename: "a"}, nil)
	require.Equal(t, StateSuccess, res.State)
	assert.Equal(t, 1, f.source.opened)
	assert.Equal(t, 1, f.source.closed)
	assert.False(t, f.source.exists("content://a"))
}
