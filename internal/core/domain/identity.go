package domain

import "strings"

// Identity is an opaque caller identity supplied by the execution context.
type Identity string

func (i Identity) IsZero() bool {
	return strings.TrimSpace(string(i)) == ""
}

func (i Identity) String() string {
	return string(i)
}
