package sim

import (
	"fmt"
	"regexp"
)

// Named is an object that has a name.
type Named interface {
	Name() string
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_:.\[\]-]+$`)

// NameMustBeValid panics if the name is not usable as an element name.
// Names appear in telemetry tables and monitor URLs, so only a restricted
// character set is allowed.
func NameMustBeValid(name string) {
	if name == "" {
		panic("name must not be empty")
	}

	if !namePattern.MatchString(name) {
		panic(fmt.Sprintf("invalid name %q", name))
	}
}
