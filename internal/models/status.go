package models

import "fmt"

// Status is the account lifecycle state shared by users and admins. The
// numeric values are persisted and returned to clients as-is.
type Status int

const (
	StatusInactive Status = 0
	StatusActive   Status = 1
	StatusBlocked  Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) Valid() bool {
	return s == StatusInactive || s == StatusActive || s == StatusBlocked
}
