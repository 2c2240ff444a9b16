package state

import "fmt"

// DeserializationError reports a checkpoint whose shape does not match the
// document. Field is the dotted JSON path of the offending field when known.
type DeserializationError struct {
	Field string
	Err   error
}

func (e *DeserializationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode pipeline state: %v", e.Err)
	}
	return fmt.Sprintf("decode pipeline state field %q: %v", e.Field, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// StorageError reports a failed checkpoint read or write. The store never
// retries; re-invoking the step is the recovery path.
type StorageError struct {
	Op  string // load, transfer, save
	URI string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s pipeline state %s: %v", e.Op, e.URI, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
