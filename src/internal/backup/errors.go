package backup

import "errors"

// ErrJobBusy is returned when a trigger arrives while the same job already
// has an execution in flight. The caller simply tries again later; nothing
// is recorded in history.
var ErrJobBusy = errors.New("job already has an execution in flight")

// ConfigurationError indicates the job cannot run until its connection is
// re-authenticated: a missing API domain or connection record. Never
// retried automatically.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// NoRestorePointError indicates the job has no successful backup in its
// history to restore from.
type NoRestorePointError struct {
	Reason string
}

func (e *NoRestorePointError) Error() string {
	return "no restore point: " + e.Reason
}

// ArchiveMissingError indicates a recorded archive path is absent from
// local storage, typically external interference or retention cleanup.
type ArchiveMissingError struct {
	Path string
}

func (e *ArchiveMissingError) Error() string {
	return "backup archive missing from local storage: " + e.Path
}
