package domain

import "errors"

// Sentinel errors for domain operations
var (
	// ErrServerOffline indicates the media server is unreachable
	ErrServerOffline = errors.New("media server is unreachable")

	// ErrAuthFailed indicates authentication failed
	ErrAuthFailed = errors.New("authentication token is invalid")

	// ErrAdapterUnavailable indicates no adapter can currently service the operation
	ErrAdapterUnavailable = errors.New("no adapter available for this operation")

	// ErrNotSupported indicates the adapter never supports the requested capability.
	// Callers should check capabilities instead of catching this.
	ErrNotSupported = errors.New("operation not supported by this adapter")

	// ErrNotFound indicates the requested entity does not exist on the server
	ErrNotFound = errors.New("entity not found")

	// ErrDownloadTimeout indicates a waiter gave up on another caller's in-flight download
	ErrDownloadTimeout = errors.New("timed out waiting for in-flight download")

	// ErrCancelled indicates an async computation was cancelled before it started
	ErrCancelled = errors.New("operation cancelled")
)

// CacheMissError reports that a read could not be satisfied locally.
// Partial carries stale or incomplete data that callers may render while a
// refresh is in flight; it may be nil.
type CacheMissError struct {
	Partial any
}

func (e *CacheMissError) Error() string {
	if e.Partial != nil {
		return "cache miss (partial data available)"
	}
	return "cache miss"
}

// AsCacheMiss extracts a CacheMissError from an error chain
func AsCacheMiss(err error) (*CacheMissError, bool) {
	var miss *CacheMissError
	if errors.As(err, &miss) {
		return miss, true
	}
	return nil, false
}
