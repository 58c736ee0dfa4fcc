// Package models defines the records persisted in the local database.
package models

import "time"

// Map is an indexed offline map file.
type Map struct {
	URI     string
	Folder  string
	Name    string
	Size    int64
	Digest  string
	AddedAt time.Time
}

// MapSource records where a downloaded map came from.
type MapSource struct {
	Filename    string
	URL         string
	DisplayName string
	Date        time.Time
}
