// internal/iperrors/errors.go
package iperrors

import "errors"

// Sentinel errors for allocation and sync failures. Callers wrap these with
// fmt.Errorf("...: %w", err) so errors.Is still matches at any depth.
var (
	// Address space rules
	ErrAddressSpaceConflict = errors.New("address space conflict")
	ErrSubnetOverlap        = errors.New("subnet overlaps a sibling")
	ErrParentMismatch       = errors.New("subnet not contained in parent")

	// Allocation
	ErrSubnetExhausted = errors.New("subnet has no free addresses")
	ErrAddressInUse    = errors.New("address already in use")

	// Deletion preconditions
	ErrSubnetNotEmpty = errors.New("subnet is not empty")
	ErrDomainNotEmpty = errors.New("layer3domain is not empty")

	// Contention and sync
	ErrLockTimeout            = errors.New("lock acquisition timed out")
	ErrSyncBackendUnavailable = errors.New("sync backend unavailable")
	ErrSyncFailed             = errors.New("sync failed after retries")

	// General
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// IsRetryable reports whether the caller can usefully retry the operation.
// Lock timeouts and transient backend failures qualify; topology and
// precondition violations do not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrSyncBackendUnavailable)
}

// IsConflict reports whether the error is an address-space or topology
// conflict rather than an operational failure.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAddressSpaceConflict) ||
		errors.Is(err, ErrSubnetOverlap) ||
		errors.Is(err, ErrParentMismatch) ||
		errors.Is(err, ErrAddressInUse)
}

// IsNotFound reports whether the error indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
