package http

import "github.com/indigo-web/utils/uf"

// Escape makes the path safe to be logged: non-printable characters are replaced by
// their backslash-escaped form, or by a question mark if they don't have one.
func Escape(p string) string {
	var (
		buff   []byte
		offset int
	)

	for i := 0; i < len(p); i++ {
		if p[i] >= 0x20 && p[i] <= 0x7e {
			continue
		}

		if buff == nil {
			buff = make([]byte, 0, len(p)+len(p)/2)
		}

		buff = append(buff, p[offset:i]...)
		buff = append(buff, '\\', escapeByte(p[i]))
		offset = i + 1
	}

	if buff == nil {
		return p
	}

	return uf.B2S(append(buff, p[offset:]...))
}

func escapeByte(b byte) byte {
	switch b {
	case 0:
		return '0'
	case '\a':
		return 'a'
	case '\b':
		return 'b'
	case '\t':
		return 't'
	case '\n':
		return 'n'
	case '\v':
		return 'v'
	case '\f':
		return 'f'
	case '\r':
		return 'r'
	default:
		return '?'
	}
}
