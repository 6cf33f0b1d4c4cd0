package proxvoice

import "strings"

// Version is the protocol version advertised in Login and PingInfo.
const Version = "proxvoice 1.2.0"

// CompatibleVersion reports whether two version strings agree on major
// and minor. Patch differences interoperate.
func CompatibleVersion(a, b string) bool {
	amaj, amin, ok := splitVersion(a)
	if !ok {
		return false
	}
	bmaj, bmin, ok := splitVersion(b)
	if !ok {
		return false
	}
	return amaj == bmaj && amin == bmin
}

func splitVersion(v string) (major, minor string, ok bool) {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return "", "", false
	}

	parts := strings.Split(fields[len(fields)-1], ".")
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
