package models

import "fmt"

// AccessLevel is the tier of interaction permitted on an entity.
type AccessLevel string

// Access tiers ordered none < read < confirm < control. AccessNone is an
// explicit revocation and never appears in an effective access map.
const (
	AccessNone    AccessLevel = "none"
	AccessRead    AccessLevel = "read"
	AccessConfirm AccessLevel = "confirm"
	AccessControl AccessLevel = "control"
)

// Rank returns the ordering position of the level; unknown levels rank below none.
func (a AccessLevel) Rank() int {
	switch a {
	case AccessNone:
		return 0
	case AccessRead:
		return 1
	case AccessConfirm:
		return 2
	case AccessControl:
		return 3
	default:
		return -1
	}
}

// Valid reports whether a is a known tier.
func (a AccessLevel) Valid() bool {
	return a.Rank() >= 0
}

// Grants reports whether a is an exposing tier, i.e. anything above none.
func (a AccessLevel) Grants() bool {
	return a.Rank() > 0
}

// AtLeast reports whether a is at or above the required tier.
func (a AccessLevel) AtLeast(required AccessLevel) bool {
	return a.Rank() >= required.Rank()
}

// MinAccess returns the lower of two tiers.
func MinAccess(a, b AccessLevel) AccessLevel {
	if a.Rank() <= b.Rank() {
		return a
	}

	return b
}

// ParseAccessLevel validates a client-supplied tier. "off" is accepted as an
// alias for none.
func ParseAccessLevel(s string) (AccessLevel, error) {
	if s == "off" {
		return AccessNone, nil
	}

	level := AccessLevel(s)
	if !level.Valid() {
		return "", fmt.Errorf("%w: unknown access level %q", ErrInvalidRequest, s)
	}

	return level, nil
}
