package receiver

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MapExtension is the only extension a received file is stored with.
const MapExtension = ".map"

// GuessFilename picks the target name: the hint when not blank, else the
// last element of sourcePath, else synth(). ".map" is appended unless the
// name already ends in exactly that extension.
func GuessFilename(hint, sourcePath string, synth func() string) string {
	name := strings.TrimSpace(hint)
	if name == "" {
		name = sourcePath
	}
	name = lastElement(name)

	if name == "" {
		return synth()
	}
	if pos := strings.LastIndexByte(name, '.'); pos == -1 || name[pos:] != MapExtension {
		name += MapExtension
	}
	return name
}

// FileInfo strips the map extension from name.
func FileInfo(name string) string {
	return strings.TrimSuffix(name, MapExtension)
}

// SynthesizeName returns a unique map file name like
// "map_2024-05-01_10-30-00_1a2b3c4d.map".
func SynthesizeName(now time.Time) string {
	return fmt.Sprintf("map_%s_%s%s", now.Format("2006-01-02_15-04-05"), uuid.NewString()[:8], MapExtension)
}

func lastElement(p string) string {
	p = strings.TrimRight(filepath.ToSlash(p), "/")
	if p == "" {
		return ""
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
