package router

import "strings"

// normalizeHost brings the Host header value to the form server names are stored in:
// lowercased, without the port, the www. prefix and the trailing dot.
func normalizeHost(host string) string {
	host = strings.ToLower(host)
	if strings.HasPrefix(host, "[") {
		// IPv6 literals are never matched against server names, but must not lose
		// their colons
		if end := strings.IndexByte(host, ']'); end != -1 {
			return host[:end+1]
		}

		return host
	}

	if colon := strings.IndexByte(host, ':'); colon != -1 {
		host = host[:colon]
	}

	host = strings.TrimPrefix(host, "www.")
	return strings.TrimSuffix(host, ".")
}
