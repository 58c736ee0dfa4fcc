package folders

import (
	"fmt"
	"strings"

	"github.com/cgeo/cgeofiles/internal/common"
	"github.com/cgeo/cgeofiles/internal/i18n"
)

// ID names a logical folder.
type ID string

const (
	Base             ID = "BASE"
	OfflineMaps      ID = "OFFLINE_MAPS"
	OfflineMapThemes ID = "OFFLINE_MAP_THEMES"
	Logfiles         ID = "LOGFILES"
	GPX              ID = "GPX"
	Backup           ID = "BACKUP"
	FieldNotes       ID = "FIELD_NOTES"
	Images           ID = "IMAGES"
	TestFolder       ID = "TEST_FOLDER"
)

// Root selects one of the well-known device roots.
type Root int

const (
	RootLegacyPublic Root = iota
	RootDocuments
	RootPrivate
)

// Roots are the device locations default candidates are built from.
type Roots struct {
	LegacyPublic Location
	Documents    Location
	Private      Location
}

func (r Roots) get(root Root) Location {
	switch root {
	case RootLegacyPublic:
		return r.LegacyPublic
	case RootDocuments:
		return r.Documents
	case RootPrivate:
		return r.Private
	}
	return Location{}
}

// Candidate is one entry of a default chain: a subfolder of a device root,
// or of another logical folder's active location.
type Candidate struct {
	Root   Root
	Parent ID
	Sub    string
}

func FromRoot(root Root, sub string) Candidate {
	return Candidate{Root: root, Sub: sub}
}

func Under(parent ID, sub string) Candidate {
	return Candidate{Parent: parent, Sub: sub}
}

func (c Candidate) String() string {
	if c.Parent != "" {
		return fmt.Sprintf("%s/%s", c.Parent, c.Sub)
	}
	return fmt.Sprintf("root(%d)/%s", c.Root, c.Sub)
}

// Definition is the static record of a logical folder.
type Definition struct {
	ID         ID
	PrefKey    string
	NameKey    string
	Candidates []Candidate
}

// Parents returns the distinct logical folders the default chain depends on.
func (d Definition) Parents() []ID {
	var out []ID
	seen := map[ID]bool{}
	for _, c := range d.Candidates {
		if c.Parent != "" && !seen[c.Parent] {
			seen[c.Parent] = true
			out = append(out, c.Parent)
		}
	}
	return out
}

var table = []Definition{
	{ID: Base, PrefKey: "pref_persistablefolder_basedir", NameKey: i18n.FolderBase,
		Candidates: []Candidate{FromRoot(RootLegacyPublic, ""), FromRoot(RootDocuments, "cgeo")}},
	{ID: OfflineMaps, PrefKey: "pref_persistablefolder_offlinemaps", NameKey: i18n.FolderOfflineMaps,
		Candidates: []Candidate{Under(Base, "maps")}},
	{ID: OfflineMapThemes, PrefKey: "pref_persistablefolder_offlinemapthemes", NameKey: i18n.FolderOfflineMapThemes,
		Candidates: []Candidate{Under(Base, "themes")}},
	{ID: Logfiles, PrefKey: "pref_persistablefolder_logfiles", NameKey: i18n.FolderLogfiles,
		Candidates: []Candidate{Under(Base, "logfiles")}},
	{ID: GPX, PrefKey: "pref_persistablefolder_gpx", NameKey: i18n.FolderGPX,
		Candidates: []Candidate{Under(Base, "gpx")}},
	{ID: Backup, PrefKey: "pref_persistablefolder_backup", NameKey: i18n.FolderBackup,
		Candidates: []Candidate{Under(Base, "backup")}},
	{ID: FieldNotes, PrefKey: "pref_persistablefolder_fieldnotes", NameKey: i18n.FolderFieldNotes,
		Candidates: []Candidate{Under(Base, "field-notes")}},
	{ID: Images, PrefKey: "pref_persistablefolder_images", NameKey: i18n.FolderImages,
		Candidates: []Candidate{Under(Base, "images")}},
	{ID: TestFolder, PrefKey: "pref_persistablefolder_testdir",
		Candidates: []Candidate{FromRoot(RootPrivate, "unittest")}},
}

// All returns every logical folder in table order.
func All() []ID {
	ids := make([]ID, len(table))
	for i, d := range table {
		ids[i] = d.ID
	}
	return ids
}

// Lookup returns the definition of id.
func Lookup(id ID) (Definition, bool) {
	for _, d := range table {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// Parse maps a user-typed name ("offline_maps", "GPX") to an ID.
func Parse(name string) (ID, error) {
	id := ID(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_")))
	if _, ok := Lookup(id); !ok {
		return "", fmt.Errorf("%q: %w", name, common.ErrorUnknownFolder)
	}
	return id, nil
}
