package uridecode

import (
	"bytes"

	"github.com/42ship/serverx/http/status"
	"github.com/42ship/serverx/internal/hexconv"
)

// Decode normalizes the URI by translating escaped characters into their
// true form. Decoded NUL bytes are rejected, as no file name is able to carry them.
func Decode(src, buff []byte) ([]byte, error) {
	for i := bytes.IndexByte(src, '%'); i != -1; i = bytes.IndexByte(src, '%') {
		if i >= len(src)-2 {
			return nil, status.ErrURIDecoding
		}

		hi, lo := hexconv.Halfbyte[src[i+1]], hexconv.Halfbyte[src[i+2]]
		if hi == 0xFF || lo == 0xFF || hi|lo == 0 {
			return nil, status.ErrURIDecoding
		}

		buff = append(buff, src[:i]...)
		buff = append(buff, hi<<4|lo)
		src = src[i+3:]
	}

	if len(buff) == 0 {
		return src, nil
	}

	return append(buff, src...), nil
}
