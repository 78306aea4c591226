// Provides common mirror error definitions.
package mirror_errors

import "errors"

var (
	// ErrConsistency is the category of every protocol or consistency
	// violation detected while applying a batch. The batch is abandoned and
	// the mirror is expected to ask for a full resync.
	ErrConsistency = errors.New("mirror: consistency check failed")
	// ErrIntegration marks defects in the way element and container types
	// are wired together. These are never retried.
	ErrIntegration = errors.New("mirror: integration defect")

	ErrOrphanedElement      = errors.New("mirror: orphaned element")
	ErrElementNotFound      = errors.New("mirror: element not found")
	ErrContainerExists      = errors.New("mirror: container already exists")
	ErrElementExists        = errors.New("mirror: element already exists")
	ErrPayloadNotConsumed   = errors.New("mirror: payload not fully consumed")
	ErrDigestMismatch       = errors.New("mirror: validation packet not matched")
	ErrBadCommand           = errors.New("mirror: malformed command")
	ErrUnknownContainerType = errors.New("mirror: unknown container type")
	ErrClosed               = errors.New("mirror: no mirror open")
)
