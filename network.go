package x402

import "strings"

// Network is a CAIP-2 chain identifier such as "eip155:84532".
// A trailing "*" in the reference part acts as a wildcard ("eip155:*").
type Network string

// Namespace returns the part before the colon ("eip155")
func (n Network) Namespace() string {
	ns, _, _ := strings.Cut(string(n), ":")
	return ns
}

// Match reports whether n is matched by pattern.
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	p := string(pattern)
	if !strings.HasSuffix(p, "*") {
		return false
	}
	return strings.HasPrefix(string(n), strings.TrimSuffix(p, "*"))
}
