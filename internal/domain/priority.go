package domain

import "fmt"

// Priority is the admission tier of a work item. Tiers are ordered:
// PriorityLow < PriorityNormal < PriorityCritical. The zero value is invalid.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityCritical
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityCritical:
		return true
	}
	return false
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityCritical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority maps the wire names used by the HTTP API onto a Priority.
// An empty string defaults to PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "critical":
		return PriorityCritical, nil
	}
	return 0, ErrInvalidPriority
}

// MarshalText lets Priority appear as its name in JSON payloads.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.IsValid() {
		return nil, ErrInvalidPriority
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
