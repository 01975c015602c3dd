package cache

import (
	"errors"
	"fmt"
)

// ErrInvalidKey is returned for empty or oversized keys and reach identifiers.
var ErrInvalidKey = errors.New("cache: invalid key")

// ErrInvalidPayload is returned when a forecast payload is not a JSON document.
var ErrInvalidPayload = errors.New("cache: payload is not valid JSON")

// StorageError reports a failure of the backing store or the cache directory.
// It is the only error kind the cache propagates to callers.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// DecodeError reports a cached payload that could not be decoded. It never leaves the package.
type DecodeError struct {
	Kind string
	Key  string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cache: decode %s %q: %v", e.Kind, e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FileMissingError reports a file-cache row whose backing file vanished. It never leaves the package.
type FileMissingError struct {
	Key  string
	Path string
}

func (e *FileMissingError) Error() string {
	return fmt.Sprintf("cache: file for %q missing at %s", e.Key, e.Path)
}
