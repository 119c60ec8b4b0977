package drain

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means the watched root is missing or not a directory; the cycle is skipped
	ErrSourceUnavailable = errors.New("source folder does not exist or is not a directory")
	// ErrCycleInProgress is returned when a cycle is requested while another one is running
	ErrCycleInProgress = errors.New("drain cycle already in progress")
	// ErrDestinationExists is the fail-if-exists conflict outcome
	ErrDestinationExists = errors.New("destination file already exists")
	// ErrInsufficientSpace is returned by the free-space preflight
	ErrInsufficientSpace = errors.New("insufficient free space at destination")
	// ErrUnsupportedType is reported for entries that are neither files nor directories
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrSymlinkLoop is reported for directory links that point back at an ancestor
	ErrSymlinkLoop = errors.New("symbolic link loop")
)

// TransferError means one entry could not be moved. The source is left in
// place and the rest of the tree keeps moving.
type TransferError struct {
	Path string
	Op   string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// DeleteError means a file was copied but its source could not be removed.
// The copy is not rolled back, so the data now exists in both places until
// a later cycle succeeds.
type DeleteError struct {
	Path string
	Dest string
	Err  error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("copied %s to %s but failed to delete source: %v", e.Path, e.Dest, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// PruneError means an emptied directory could not be removed
type PruneError struct {
	Path string
	Err  error
}

func (e *PruneError) Error() string {
	return fmt.Sprintf("remove empty folder %s: %v", e.Path, e.Err)
}

func (e *PruneError) Unwrap() error { return e.Err }
