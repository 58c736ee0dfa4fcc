package offlinemaps

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cgeo/cgeofiles/internal/common"
	"github.com/cgeo/cgeofiles/internal/cryptox"
	"github.com/cgeo/cgeofiles/internal/database"
	"github.com/cgeo/cgeofiles/internal/folders"
	"github.com/cgeo/cgeofiles/internal/settings"
	"github.com/cgeo/cgeofiles/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	registry *Registry
	manager  *storage.Manager
	resolver *folders.Resolver
	root     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, filepath.Join(t.TempDir(), "cgeofiles.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	root := t.TempDir()
	backends := storage.Backends{folders.KindFile: storage.NewLocalBackend()}
	resolver, err := folders.NewResolver(ctx, folders.Roots{
		LegacyPublic: folders.FileLocation(filepath.Join(root, "cgeo")),
	}, settings.NewStore(database.NewRepositories(db).Metadata), backends)
	require.NoError(t, err)

	manager := storage.NewManager(resolver, backends, nil)
	return &fixture{
		registry: NewRegistry(db, manager, nil),
		manager:  manager,
		resolver: resolver,
		root:     root,
	}
}

func writeMap(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"germany_berlin-2024": "Germany Berlin 2024",
		"berlin":              "Berlin",
		"__odd--name_":        "Odd Name",
		"":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, DisplayName(in), in)
	}
}

func TestNotifyNewMapFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registry.now = func() time.Time { return time.Unix(1700000000, 0) }

	ref, err := f.manager.Create(ctx, folders.OfflineMaps, "berlin.map")
	require.NoError(t, err)
	require.NoError(t, f.registry.NotifyNewMapFile(ctx, ref, 42, "abc"))

	list, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ref.String(), list[0].URI)
	assert.Equal(t, "berlin.map", list[0].Name)
	assert.Equal(t, int64(42), list[0].Size)
	assert.Equal(t, "abc", list[0].Digest)
	assert.Equal(t, int64(1700000000), list[0].AddedAt.Unix())
}

func TestNotifyNewMapFile_PrunesVanishedFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mapsDir := filepath.Join(f.root, "cgeo", "maps")

	writeMap(t, mapsDir, "dl.map", "download")
	_, err := f.registry.Rescan(ctx)
	require.NoError(t, err)

	// the handed-over file is copied next to itself and then removed
	ref, err := f.manager.Create(ctx, folders.OfflineMaps, "dl.map")
	require.NoError(t, err)
	require.Equal(t, "dl (1).map", ref.Name)
	require.NoError(t, os.Remove(filepath.Join(mapsDir, "dl.map")))

	require.NoError(t, f.registry.NotifyNewMapFile(ctx, ref, 8, "d"))

	list, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "dl (1).map", list[0].Name)
}

func TestWriteInfo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	date := time.Unix(1690000000, 0)

	require.NoError(t, f.registry.WriteInfo(ctx, "https://example.org/berlin.map", "germany_berlin.map", "", date))
	src, err := f.registry.Source(ctx, "germany_berlin.map")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/berlin.map", src.URL)
	assert.Equal(t, "Germany Berlin", src.DisplayName)
	assert.Equal(t, date.Unix(), src.Date.Unix())

	require.NoError(t, f.registry.WriteInfo(ctx, "https://example.org/b.map", "b.map", "Custom", date))
	src, err = f.registry.Source(ctx, "b.map")
	require.NoError(t, err)
	assert.Equal(t, "Custom", src.DisplayName)

	_, err = f.registry.Source(ctx, "missing.map")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRescan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mapsDir := filepath.Join(f.root, "cgeo", "maps")

	writeMap(t, mapsDir, "a.map", "aaaa")
	writeMap(t, mapsDir, "b.MAP", "bb")
	writeMap(t, mapsDir, "notes.txt", "x")

	res, err := f.registry.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Found)
	assert.Equal(t, int64(0), res.Removed)
	assert.Equal(t, folders.FileLocation(mapsDir), res.Location)

	ref := storage.Ref{Location: folders.FileLocation(mapsDir), Name: "a.map"}
	stored, err := f.registry.repo.GetByURI(ctx, ref.String())
	require.NoError(t, err)
	digestA, _, err := cryptox.Digest(strings.NewReader("aaaa"))
	require.NoError(t, err)
	assert.Equal(t, digestA, stored.Digest)

	// digest of an unchanged file survives a rescan
	require.NoError(t, f.registry.NotifyNewMapFile(ctx, ref, 4, "digest-a"))

	require.NoError(t, os.Remove(filepath.Join(mapsDir, "b.MAP")))
	res, err = f.registry.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Found)
	assert.Equal(t, int64(1), res.Removed)

	list, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "digest-a", list[0].Digest)

	// changed content replaces the stale digest
	writeMap(t, mapsDir, "a.map", "aaaaaaaa")
	_, err = f.registry.Rescan(ctx)
	require.NoError(t, err)
	list, err = f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(8), list[0].Size)
	want, _, err := cryptox.Digest(strings.NewReader("aaaaaaaa"))
	require.NoError(t, err)
	assert.Equal(t, want, list[0].Digest)
}

func TestWatch_RescansOnFolderChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registry.Watch(ctx, f.resolver)
	t.Cleanup(func() { f.registry.Close(f.resolver) })

	other := filepath.Join(f.root, "elsewhere")
	writeMap(t, other, "c.map", "ccc")

	loc := folders.FileLocation(other)
	require.NoError(t, f.manager.SetUserDefinedFolder(ctx, folders.OfflineMaps, &loc))

	list, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c.map", list[0].Name)
	assert.Equal(t, loc.String(), list[0].Folder)

	// no rescans once the registry let go of its subscriptions
	f.registry.Close(f.resolver)
	writeMap(t, other, "d.map", "d")
	base := folders.FileLocation(filepath.Join(f.root, "newbase"))
	require.NoError(t, f.manager.SetUserDefinedFolder(ctx, folders.Base, &base))
	list, err = f.registry.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
