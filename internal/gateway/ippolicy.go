package gateway

// UnknownIP is the source address used when a request carries no forwarding
// headers. It never matches a non-empty allowlist.
const UnknownIP = "0.0.0.0"

// IPAllowed reports whether ip passes rules. An empty rule set allows every
// address.
func IPAllowed(rules []IPRule, ip string) bool {
	if len(rules) == 0 {
		return true
	}
	if ip == UnknownIP || ip == "" {
		return false
	}
	for _, r := range rules {
		if r.Matches(ip) {
			return true
		}
	}
	return false
}
