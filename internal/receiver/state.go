package receiver

import (
	"errors"
	"fmt"

	"github.com/cgeo/cgeofiles/internal/i18n"
	"github.com/cgeo/cgeofiles/internal/storage"
)

var ErrUnknownState = errors.New("unknown receive state")

type State int

const (
	StatePending State = iota
	StateCopying
	StateSuccess
	StateCancelled
	StateIOError
	StateNotFound
	StateUnknown
)

var stateNames = map[State]string{
	StatePending:   "PENDING",
	StateCopying:   "COPYING",
	StateSuccess:   "SUCCESS",
	StateCancelled: "CANCELLED",
	StateIOError:   "IO_ERROR",
	StateNotFound:  "NOT_FOUND",
	StateUnknown:   "UNKNOWN",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s ends an operation.
func (s State) Terminal() bool {
	return s >= StateSuccess
}

func ParseState(s string) (State, error) {
	for st, n := range stateNames {
		if n == s {
			return st, nil
		}
	}
	return StateUnknown, fmt.Errorf("%q: %w", s, ErrUnknownState)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Result is the outcome of one receive operation.
type Result struct {
	State State
	// Filename is the guessed target name, FileInfo the same without ".map".
	Filename string
	FileInfo string
	// Ref is where the content ended up; only set on success.
	Ref    storage.Ref
	Bytes  int64
	Digest string
	// Folder is the display name of the target folder.
	Folder string
	Err    error
}

// Message is the text shown to the user for the outcome.
func (r Result) Message(c i18n.Catalog) string {
	switch r.State {
	case StateSuccess:
		return c.Format(i18n.ReceiveSuccess, r.FileInfo)
	case StateCancelled:
		return c.Get(i18n.ReceiveCancelled)
	case StateIOError:
		return c.Format(i18n.ReceiveIOError, r.Folder)
	case StateNotFound:
		return c.Get(i18n.ReceiveFileNotFound)
	default:
		return c.Get(i18n.ReceiveError)
	}
}
