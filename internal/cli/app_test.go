package cli

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	fcolor "github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgeo/cgeofiles/internal/app"
	"github.com/cgeo/cgeofiles/internal/config"
	"github.com/cgeo/cgeofiles/internal/folders"
)

type harness struct {
	cli    *App
	app    *app.App
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

func (h *harness) run(args ...string) int {
	h.out.Reset()
	h.errOut.Reset()
	return h.cli.Run(context.Background(), args)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fcolor.NoColor = true

	c := &config.Config{DataDir: t.TempDir()}
	c.LoadDefaults()

	a, err := app.NewApp(context.Background(), c, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return &harness{cli: NewApp(a, out, errOut), app: a, out: out, errOut: errOut}
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestRun_Usage(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, exitUsage, h.run())
	assert.Contains(t, h.errOut.String(), "Usage: cgeofiles")

	assert.Equal(t, exitUsage, h.run("frobnicate"))
	assert.Contains(t, h.errOut.String(), "unknown command: frobnicate")

	assert.Equal(t, exitOK, h.run("help"))
	assert.Contains(t, h.out.String(), "set-folder")
}

func TestRun_Version(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, exitOK, h.run("version"))
	assert.Contains(t, h.out.String(), "Build version:")
}

func TestReceive_ThenMaps(t *testing.T) {
	h := newHarness(t)
	src := writeFile(t, "download.bin", bytes.Repeat([]byte("m"), 2048))

	code := h.run("receive", "-name", "germany_berlin.map", "-url", "https://example.org/berlin", "-date", "1700000000", src)
	require.Equal(t, exitOK, code, h.errOut.String())
	assert.Contains(t, h.out.String(), "SUCC: Map file 'germany_berlin' successfully copied to map directory.")

	_, err := os.Stat(src)
	assert.ErrorIs(t, err, os.ErrNotExist, "source is removed after a successful copy")

	require.Equal(t, exitOK, h.run("maps"))
	out := h.out.String()
	assert.Contains(t, out, "germany_berlin.map")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "https://example.org/berlin")
}

func TestReceive_NotFound(t *testing.T) {
	h := newHarness(t)

	code := h.run("receive", filepath.Join(t.TempDir(), "missing.map"))
	assert.Equal(t, exitError, code)
	assert.Contains(t, h.errOut.String(), "Map file could not be found.")
}

func TestReceive_BadArgs(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, exitUsage, h.run("receive"))
	assert.Equal(t, exitUsage, h.run("receive", "-date", "yesterday", "x"))
}

func TestMaps_Empty(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, exitOK, h.run("maps"))
	assert.Contains(t, h.out.String(), "no offline maps")
}

func TestFolders_SetAndReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, exitOK, h.run("folders"))
	lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	assert.Len(t, lines, len(folders.All())+1)
	assert.Contains(t, h.out.String(), "Offline Maps")
	assert.Contains(t, h.out.String(), "(Default)")

	custom := filepath.Join(t.TempDir(), "my-gpx")
	require.Equal(t, exitOK, h.run("set-folder", "gpx", custom), h.errOut.String())
	assert.Contains(t, h.out.String(), "(User-Defined)")

	loc, ok := h.app.Resolver.Location(ctx, folders.GPX)
	require.True(t, ok)
	assert.Equal(t, folders.FileLocation(custom), loc)

	require.Equal(t, exitOK, h.run("reset-folder", "GPX"))
	assert.False(t, h.app.Resolver.IsUserDefined(folders.GPX))
}

func TestFolders_Errors(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, exitUsage, h.run("set-folder", "nope", "/tmp/x"))
	assert.Contains(t, h.errOut.String(), "unknown folder")

	assert.Equal(t, exitUsage, h.run("set-folder", "gpx"))
	assert.Equal(t, exitUsage, h.run("reset-folder"))
}

func TestRescan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	loc, ok := h.app.Resolver.Location(ctx, folders.OfflineMaps)
	require.True(t, ok)
	require.NoError(t, os.MkdirAll(loc.Root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(loc.Root, "a.map"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(loc.Root, "notes.txt"), []byte("x"), 0o600))

	require.Equal(t, exitOK, h.run("rescan"))
	assert.Contains(t, h.out.String(), "1 map files in "+loc.Display())
}

func pngBytes(t *testing.T, w, hgt int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, hgt))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImages_ScaledCopies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := writeFile(t, "a.png", pngBytes(t, 400, 200))
	b := writeFile(t, "b.png", pngBytes(t, 100, 300))

	require.Equal(t, exitOK, h.run("images", "-max", "50", a, b), h.errOut.String())

	imagesLoc, ok := h.app.Resolver.Location(ctx, folders.Images)
	require.True(t, ok)
	uris := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	require.Len(t, uris, 2)
	for _, u := range uris {
		assert.True(t, strings.HasPrefix(u, imagesLoc.String()+"/"), u)
	}
}

func TestImages_RejectsNonImages(t *testing.T) {
	h := newHarness(t)

	txt := writeFile(t, "notes.txt", []byte("just text"))
	assert.Equal(t, exitError, h.run("images", txt))
	assert.Contains(t, h.out.String(), "Could not acquire image")
	assert.Contains(t, h.errOut.String(), "no image could be imported")

	assert.Equal(t, exitUsage, h.run("images"))
}
