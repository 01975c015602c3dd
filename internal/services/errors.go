package services

import (
	"errors"
	"fmt"

	"github.com/charlesng35/flowcache/internal/policy"
)

var (
	// ErrNoData indicates neither fresh nor stale data exists and the upstream could not supply it.
	ErrNoData = errors.New("forecast service: no data available")
	// ErrOffline is the cause recorded when the connectivity probe reports offline.
	ErrOffline = errors.New("forecast service: offline")
	// ErrInvalidReach indicates an empty or malformed reach identifier.
	ErrInvalidReach = errors.New("forecast service: invalid reach id")
)

// FetchError reports an upstream failure: transport error, timeout, non-success status or an
// unusable document. It is recovered by falling back to stale data and only surfaces, wrapped
// with ErrNoData, when there is none.
type FetchError struct {
	Category policy.Category
	ReachID  string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for reach %s: %v", e.Category, e.ReachID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
