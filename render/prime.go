package render

import (
	"fmt"
	"os"
	"strings"
)

// PrimeMethod is one buffer-allocation strategy. Methods are attempted in
// order until one produces a working buffer; drivers differ in which they
// get right, so the order is configurable.
type PrimeMethod int

const (
	// MethodModifiers allocates with the full negotiated modifier list and
	// lets the driver pick the best layout.
	MethodModifiers PrimeMethod = iota + 1
	// MethodImplicit allocates without explicit modifiers (implicit
	// modifier negotiation via usage flags only).
	MethodImplicit
	// MethodLinear restricts the allocation to a linear layout.
	MethodLinear
)

func (m PrimeMethod) String() string {
	switch m {
	case MethodModifiers:
		return "modifiers"
	case MethodImplicit:
		return "implicit"
	case MethodLinear:
		return "linear"
	}
	return fmt.Sprintf("method%d", int(m))
}

// PrimeMethodsEnv is the environment variable holding the allow/deny list.
const PrimeMethodsEnv = "SCANOUT_PRIME_METHODS"

var defaultMethods = []PrimeMethod{MethodModifiers, MethodImplicit, MethodLinear}

var methodNames = map[string]PrimeMethod{
	"modifiers": MethodModifiers,
	"implicit":  MethodImplicit,
	"linear":    MethodLinear,
}

// PrimeMethods returns the configured allocation order. The list is
// comma-separated method names; a leading '-' denies a method. Allowed
// methods come first in list order, then any default method neither allowed
// nor denied. Unknown names are an error so typos don't silently change
// allocation behavior.
func PrimeMethods() ([]PrimeMethod, error) {
	return parsePrimeMethods(os.Getenv(PrimeMethodsEnv))
}

func parsePrimeMethods(spec string) ([]PrimeMethod, error) {
	if strings.TrimSpace(spec) == "" {
		return defaultMethods, nil
	}

	var (
		allowed []PrimeMethod
		denied  = map[PrimeMethod]bool{}
	)
	for _, field := range strings.Split(spec, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		deny := strings.HasPrefix(field, "-")
		name := strings.TrimPrefix(field, "-")
		m, ok := methodNames[name]
		if !ok {
			return nil, fmt.Errorf("%s: unknown prime method %q", PrimeMethodsEnv, name)
		}
		if deny {
			denied[m] = true
		} else {
			allowed = append(allowed, m)
		}
	}

	out := make([]PrimeMethod, 0, len(defaultMethods))
	seen := map[PrimeMethod]bool{}
	for _, m := range allowed {
		if !denied[m] && !seen[m] {
			out = append(out, m)
			seen[m] = true
		}
	}
	for _, m := range defaultMethods {
		if !denied[m] && !seen[m] {
			out = append(out, m)
			seen[m] = true
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: every allocation method denied", PrimeMethodsEnv)
	}
	return out, nil
}
