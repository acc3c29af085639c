package scheduler

import "fmt"

// Policy decides what happens when a key already has executions.
type Policy int

const (
	Keep Policy = iota
	Replace
	Append
)

func (p Policy) String() string {
	switch p {
	case Keep:
		return "keep"
	case Replace:
		return "replace"
	case Append:
		return "append"
	default:
		return "unknown"
	}
}

// ParsePolicy parses keep, replace or append.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "keep":
		return Keep, nil
	case "replace":
		return Replace, nil
	case "append":
		return Append, nil
	}
	return Keep, fmt.Errorf("unknown policy %q", s)
}
