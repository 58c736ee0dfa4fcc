package folders

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/cgeo/cgeofiles/internal/common"
)

// Kind marks the storage mechanism a Location addresses.
type Kind string

const (
	KindFile Kind = "file"
	KindS3   Kind = "s3"
)

// Location is a concrete folder: an absolute filesystem path for KindFile,
// or "bucket/prefix" for KindS3.
type Location struct {
	Kind Kind
	Root string
}

// FileLocation returns a KindFile location for dir.
func FileLocation(dir string) Location {
	return Location{Kind: KindFile, Root: filepath.Clean(dir)}
}

// S3Location returns a KindS3 location for bucket and an optional prefix.
func S3Location(bucket, prefix string) Location {
	root := bucket
	if p := strings.Trim(prefix, "/"); p != "" {
		root = bucket + "/" + p
	}
	return Location{Kind: KindS3, Root: root}
}

func (l Location) IsZero() bool {
	return l.Root == ""
}

// Join returns the child location sub below l.
func (l Location) Join(sub string) Location {
	if sub == "" {
		return l
	}
	switch l.Kind {
	case KindS3:
		return Location{Kind: l.Kind, Root: path.Join(l.Root, sub)}
	default:
		return Location{Kind: l.Kind, Root: filepath.Join(l.Root, sub)}
	}
}

// Bucket and Prefix split a KindS3 root.
func (l Location) Bucket() string {
	b, _, _ := strings.Cut(l.Root, "/")
	return b
}

func (l Location) Prefix() string {
	_, p, _ := strings.Cut(l.Root, "/")
	return p
}

// String is the persisted form: "file:/abs/path" or "s3://bucket/prefix".
func (l Location) String() string {
	switch l.Kind {
	case KindS3:
		return "s3://" + l.Root
	default:
		return "file:" + l.Root
	}
}

// Display is the form shown to users.
func (l Location) Display() string {
	if l.Kind == KindFile {
		return l.Root
	}
	return l.String()
}

// ParseLocation parses the persisted form. A bare absolute path is accepted
// as a file location since older settings stored plain paths.
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Location{}, fmt.Errorf("empty location: %w", common.ErrorInvalidLocation)
	case strings.HasPrefix(s, "s3://"):
		rest := strings.Trim(strings.TrimPrefix(s, "s3://"), "/")
		if rest == "" {
			return Location{}, fmt.Errorf("%q has no bucket: %w", s, common.ErrorInvalidLocation)
		}
		bucket, prefix, _ := strings.Cut(rest, "/")
		return S3Location(bucket, prefix), nil
	case strings.HasPrefix(s, "file://"):
		return parseFilePath(s, strings.TrimPrefix(s, "file://"))
	case strings.HasPrefix(s, "file:"):
		return parseFilePath(s, strings.TrimPrefix(s, "file:"))
	default:
		return parseFilePath(s, s)
	}
}

func parseFilePath(orig, p string) (Location, error) {
	if !filepath.IsAbs(p) {
		return Location{}, fmt.Errorf("%q is not absolute: %w", orig, common.ErrorInvalidLocation)
	}
	return FileLocation(p), nil
}
