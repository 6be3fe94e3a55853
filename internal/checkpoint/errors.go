// internal/checkpoint/errors.go
package checkpoint

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an unknown checkpoint, blob or session
var ErrNotFound = errors.New("not found")

// ErrInvalidLineage indicates a fork or restore referencing a checkpoint
// outside any known lineage for the source session
var ErrInvalidLineage = errors.New("checkpoint not in session lineage")

// ErrProjectMismatch indicates a manager was requested for a session that
// is already bound to a different project path
var ErrProjectMismatch = errors.New("session already bound to a different project path")

// InvalidStrategyError reports an unrecognized strategy name
type InvalidStrategyError struct {
	Value string
}

func (e *InvalidStrategyError) Error() string {
	return fmt.Sprintf("invalid checkpoint strategy: %q", e.Value)
}
