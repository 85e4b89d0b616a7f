package proto

import "github.com/indigo-web/utils/uf"

type Proto uint8

const (
	Unknown Proto = 0
	HTTP10  Proto = 1 << iota
	HTTP11

	HTTP1 = HTTP10 | HTTP11
)

// String returns protocol as a string WITH A TRAILING SPACE
func (p Proto) String() string {
	switch p {
	case HTTP10:
		return "HTTP/1.0 "
	case HTTP11:
		return "HTTP/1.1 "
	default:
		return ""
	}
}

const (
	protoTokenLength   = len("HTTP/x.x")
	majorVersionOffset = len("HTTP/x") - 1
	minorVersionOffset = len("HTTP/x.x") - 1
	httpScheme         = "HTTP/"
)

// FromBytes recognizes the protocol token. Only HTTP/1.0 and HTTP/1.1 are known,
// other well-formed tokens are reported as Unknown, so the caller is able to tell
// a malformed token (ok=false) from a not supported one.
func FromBytes(raw []byte) (p Proto, ok bool) {
	if len(raw) != protoTokenLength || uf.B2S(raw[:majorVersionOffset]) != httpScheme ||
		raw[majorVersionOffset+1] != '.' {
		return Unknown, false
	}

	major, minor := raw[majorVersionOffset]-'0', raw[minorVersionOffset]-'0'
	if major > 9 || minor > 9 {
		return Unknown, false
	}

	return Parse(major, minor), true
}

func Parse(major, minor uint8) Proto {
	if major != 1 {
		return Unknown
	}

	switch minor {
	case 0:
		return HTTP10
	case 1:
		return HTTP11
	default:
		return Unknown
	}
}
