// Package confirm holds service calls on confirm-tier entities until a human
// approves or denies them.
package confirm

import (
	"fmt"
	"strings"
	"time"

	"github.com/clawbridge/clawbridge/internal/models"
)

// Notification action id prefixes. The action id follows the prefix.
const (
	ApprovePrefix = "CLAWBRIDGE_APPROVE_"
	DenyPrefix    = "CLAWBRIDGE_DENY_"
)

// IsExpired reports whether an action created at createdAt has outlived timeout.
func IsExpired(now, createdAt time.Time, timeout time.Duration) bool {
	return now.After(createdAt.Add(timeout))
}

// Transition validates a status change. Only pending may move, and only to a
// terminal status.
func Transition(from, to models.PendingStatus) error {
	if from != models.StatusPending || !to.Terminal() {
		return fmt.Errorf("%w: %s to %s", models.ErrInvalidTransition, from, to)
	}

	return nil
}

// ParseActionID splits a notification action id into the pending action id
// and the decision it carries.
func ParseActionID(s string) (id string, approve bool, ok bool) {
	if rest, found := strings.CutPrefix(s, ApprovePrefix); found && rest != "" {
		return rest, true, true
	}
	if rest, found := strings.CutPrefix(s, DenyPrefix); found && rest != "" {
		return rest, false, true
	}

	return "", false, false
}
