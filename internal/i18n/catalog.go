// Package i18n holds the user-facing strings of cgeofiles, keyed the same
// way the Android resources are so translations can be dropped in.
package i18n

import "fmt"

// Catalog maps a message key to its text. Texts may contain fmt verbs.
type Catalog map[string]string

// Label returns the text for key.
func (c Catalog) Label(key string) (string, bool) {
	s, ok := c[key]
	return s, ok
}

// Get returns the text for key, or the key itself when it is missing.
func (c Catalog) Get(key string) string {
	if s, ok := c[key]; ok {
		return s
	}
	return key
}

// Format is Get followed by fmt.Sprintf.
func (c Catalog) Format(key string, args ...any) string {
	return fmt.Sprintf(c.Get(key), args...)
}

// Merge returns a new catalog with the entries of other overriding c.
func (c Catalog) Merge(other Catalog) Catalog {
	out := make(Catalog, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

const (
	FolderBase             = "persistablefolder_base"
	FolderOfflineMaps      = "persistablefolder_offline_maps"
	FolderOfflineMapThemes = "persistablefolder_offline_maps_themes"
	FolderLogfiles         = "persistablefolder_logfiles"
	FolderGPX              = "persistablefolder_gpx"
	FolderBackup           = "persistablefolder_backup"
	FolderFieldNotes       = "persistablefolder_fieldnotes"
	FolderImages           = "persistablefolder_images"
	FolderUserDefined      = "persistablefolder_usertype_userdefined"
	FolderDefault          = "persistablefolder_usertype_default"

	ReceiveTitle        = "receivemapfile_intenttitle"
	ReceiveKBCopied     = "receivemapfile_kb_copied"
	ReceiveSuccess      = "receivemapfile_success"
	ReceiveCancelled    = "receivemapfile_cancelled"
	ReceiveIOError      = "receivemapfile_error_io_exception"
	ReceiveFileNotFound = "receivemapfile_error_filenotfound_exception"
	ReceiveError        = "receivemapfile_error"

	ImageStored        = "info_stored_image"
	ImageSelectCancel  = "info_select_logimage_cancelled"
	ImageAcquireFailed = "err_acquire_image_failed"
)

// English is the built-in catalog.
var English = Catalog{
	FolderBase:             "Base Folder",
	FolderOfflineMaps:      "Offline Maps",
	FolderOfflineMapThemes: "Offline Map Themes",
	FolderLogfiles:         "Log Files",
	FolderGPX:              "GPX",
	FolderBackup:           "Backup",
	FolderFieldNotes:       "Field Notes",
	FolderImages:           "Images",
	FolderUserDefined:      "User-Defined",
	FolderDefault:          "Default",

	ReceiveTitle:        "Receive map file",
	ReceiveKBCopied:     "%d KB copied",
	ReceiveSuccess:      "Map file '%s' successfully copied to map directory.",
	ReceiveCancelled:    "Copying map file cancelled.",
	ReceiveIOError:      "Error copying map file to %s. Check free space and permissions.",
	ReceiveFileNotFound: "Map file could not be found.",
	ReceiveError:        "Error while receiving map file.",

	ImageStored:        "Image stored",
	ImageSelectCancel:  "Image selection cancelled",
	ImageAcquireFailed: "Could not acquire image",
}
