package engine

import (
	"errors"
	"fmt"
	"strings"

	"taxline/internal/domain"
	"taxline/internal/repo"
)

var (
	ErrEngagementNotFound   = fmt.Errorf("engagement %w", repo.ErrNotFound)
	ErrChecklistItemMissing = fmt.Errorf("checklist item %w", repo.ErrNotFound)
	ErrInvalidInput         = errors.New("invalid input")
)

// BlockedTransitionError is returned when a readiness gate refuses a
// transition. Reasons lists every unmet gate in reporting order.
type BlockedTransitionError struct {
	From    domain.Status
	To      domain.Status
	Reasons []string
}

func (e *BlockedTransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s blocked: %s", e.From, e.To, strings.Join(e.Reasons, "; "))
}

// IsBlocked reports whether err carries a BlockedTransitionError.
func IsBlocked(err error) (*BlockedTransitionError, bool) {
	var blocked *BlockedTransitionError
	if errors.As(err, &blocked) {
		return blocked, true
	}
	return nil, false
}
