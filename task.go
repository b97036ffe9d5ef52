package haul

import (
	"fmt"
	"path/filepath"
)

// Task is an immutable description of one model download. Tasks are never
// mutated; issuing a new task with the same ID supersedes (and interrupts)
// any prior one.
type Task struct {

	// ID identifies the model, e.g. "gemma-2b". At most one session is
	// active per ID at any time.
	ID string

	// URL to download.
	URL string

	// Dest is the destination file name. Derived from the URL when empty.
	Dest string

	// Dir is the directory the file is downloaded into.
	Dir string

	// TotalSize is the expected size in bytes, 0 when unknown. Unknown size
	// disables percentage progress and percentage-based resumption.
	TotalSize int64

	// Archive marks the file as a compressed archive to extract after the
	// transfer completes.
	Archive bool

	// ExtractDir is the extraction target, required when Archive is set.
	ExtractDir string

	// Token is an optional bearer credential sent as an Authorization
	// header.
	Token string

	// Generation tags the task with the process generation that issued it.
	// Run returns OutcomeAbandoned when it does not match the engine's own
	// generation, so stale work is requeued rather than silently dropped.
	Generation string

	// ResumeOffset is an explicit byte offset to resume from. Zero or
	// negative means consult the persisted progress store instead.
	ResumeOffset int64
}

// Validate checks the required task fields.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrConfig)
	}
	if t.URL == "" {
		return fmt.Errorf("%w: missing url", ErrConfig)
	}
	if t.Archive && t.ExtractDir == "" {
		return fmt.Errorf("%w: archived task %q has no extract dir", ErrConfig, t.ID)
	}
	return nil
}

// Path returns the destination file path, deriving the file name from the
// URL when the task does not name one.
func (t *Task) Path() string {
	name := t.Dest
	if name == "" {
		name = GetFilename(t.URL)
	}
	return filepath.Join(t.Dir, name)
}
