package http1

import (
	"io"

	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/status"
)

// Body decodes the request body according to the framing decided by the headers. The
// decoded bytes are appended to whatever destination the caller passes, so a body can
// be either buffered entirely or forwarded piece by piece.
type Body struct {
	request   *http.Request
	chunked   *ChunkedParser
	prealloc  int
	remaining int64
	isChunked bool
	done      bool
}

func NewBody(request *http.Request, prealloc int) *Body {
	return &Body{
		request:  request,
		chunked:  NewChunkedParser(),
		prealloc: prealloc,
	}
}

// Init must be called once request headers are parsed. Bodies, declared to be longer
// than maxSize, are rejected before a single byte of them is received.
func (b *Body) Init(maxSize int64) error {
	request := b.request
	b.isChunked = request.Chunked
	b.remaining = 0
	b.done = !request.HasBody()

	if b.isChunked {
		b.chunked.Reset()
		b.chunked.SetMaxBodySize(maxSize)
		return nil
	}

	if request.ContentLength > maxSize {
		return status.ErrBodyTooLarge
	}

	b.remaining = request.ContentLength
	return nil
}

// Done reports whether the whole body is received.
func (b *Body) Done() bool {
	return b.done
}

// Feed decodes the data, appending the result to dst. Once done, extra contains bytes
// belonging to the next request.
func (b *Body) Feed(dst, data []byte) (out []byte, done bool, extra []byte, err error) {
	if b.done {
		return dst, true, data, nil
	}

	if cap(dst) == 0 {
		dst = make([]byte, 0, b.prealloc)
	}

	if b.isChunked {
		dst, extra, err = b.chunked.Parse(dst, data)
		switch err {
		case nil:
			return dst, false, nil, nil
		case io.EOF:
			b.done = true
			return dst, true, extra, nil
		default:
			return dst, false, nil, err
		}
	}

	n := min(int64(len(data)), b.remaining)
	dst = append(dst, data[:n]...)
	b.remaining -= n
	b.done = b.remaining == 0

	return dst, b.done, data[n:], nil
}
