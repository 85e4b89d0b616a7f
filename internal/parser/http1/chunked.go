package http1

import (
	"fmt"
	"io"
	"math"

	"github.com/42ship/serverx/http/status"
	"github.com/42ship/serverx/internal/hexconv"
)

// ChunkedState is the observable state of the ChunkedParser.
type ChunkedState uint8

const (
	// ChunkSize is the state of reading a chunk-size line, including extensions.
	ChunkSize ChunkedState = iota + 1
	// ChunkData is the state of copying the chunk payload.
	ChunkData
	// ChunkDataCRLF is the state of consuming the CRLF terminating the chunk payload.
	ChunkDataCRLF
	// FinalCRLF is the state after the last chunk: trailer fields (discarded) followed
	// by an empty line.
	FinalCRLF
	Done
	Failed
)

func (c ChunkedState) String() string {
	switch c {
	case ChunkSize:
		return "reading-size"
	case ChunkData:
		return "reading-data"
	case ChunkDataCRLF:
		return "reading-trailer-CRLF"
	case FinalCRLF:
		return "reading-final-CRLF"
	case Done:
		return "done"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

type chunkedState uint8

const (
	eSize chunkedState = iota + 1
	eSizeNext
	eExtension
	eSizeLF
	eData
	eDataCR
	eDataLF
	eTrailerLine
	eTrailerField
	eTrailerFieldLF
	eFinalLF
	eDone
	eError
)

const (
	// maxSizeDigits keeps the chunk size within 64 bits.
	maxSizeDigits = 15
	// maxLineExtra limits chunk extensions and every trailer field.
	maxLineExtra = 4096
)

// ChunkedParser decodes the chunked transfer coding incrementally. Data may be fed
// split at arbitrary boundaries, the result is always the same.
type ChunkedParser struct {
	state       chunkedState
	remaining   int64
	size        int64
	digits      int
	lineLen     int
	written     int64
	maxBodySize int64
	err         error
}

// NewChunkedParser returns a parser not limiting the body size.
func NewChunkedParser() *ChunkedParser {
	return &ChunkedParser{
		state:       eSize,
		maxBodySize: math.MaxInt64,
	}
}

// SetMaxBodySize limits the decoded body length. It must be called before the body
// is fed, otherwise it panics.
func (c *ChunkedParser) SetMaxBodySize(n int64) {
	if c.state != eSize || c.digits != 0 || c.written != 0 {
		panic(fmt.Sprintf("BUG: max body size changed in the middle of parsing (state=%s)", c.State()))
	}

	c.maxBodySize = n
}

// Reset prepares the parser for a new body. The maximal body size stays.
func (c *ChunkedParser) Reset() {
	*c = ChunkedParser{
		state:       eSize,
		maxBodySize: c.maxBodySize,
	}
}

// Written returns the number of decoded bytes so far.
func (c *ChunkedParser) Written() int64 {
	return c.written
}

func (c *ChunkedParser) State() ChunkedState {
	switch c.state {
	case eSize, eSizeNext, eExtension, eSizeLF:
		return ChunkSize
	case eData:
		return ChunkData
	case eDataCR, eDataLF:
		return ChunkDataCRLF
	case eTrailerLine, eTrailerField, eTrailerFieldLF, eFinalLF:
		return FinalCRLF
	case eDone:
		return Done
	default:
		return Failed
	}
}

// Parse decodes data, appending the payload to dst. The returned err is nil if more
// data is needed, io.EOF if the body is complete (extra holds bytes following the
// body then) and status.HTTPError otherwise. Once completed or failed, the parser
// keeps returning the same outcome until reset.
func (c *ChunkedParser) Parse(dst, data []byte) (out, extra []byte, err error) {
	for i := 0; i < len(data); i++ {
		char := data[i]

		switch c.state {
		case eSize:
			if !hexconv.Valid(char) {
				return c.fail(dst, status.ErrBadChunk)
			}

			c.size = c.size<<4 | int64(hexconv.Halfbyte[char])
			c.digits++
			c.state = eSizeNext
		case eSizeNext:
			switch {
			case hexconv.Valid(char):
				if c.digits++; c.digits > maxSizeDigits {
					return c.fail(dst, status.ErrBadChunk)
				}

				c.size = c.size<<4 | int64(hexconv.Halfbyte[char])
			case char == '\r':
				c.state = eSizeLF
			case char == ';', char == ' ', char == '\t':
				c.lineLen = 0
				c.state = eExtension
			default:
				return c.fail(dst, status.ErrBadChunk)
			}

			if c.written+c.size > c.maxBodySize {
				return c.fail(dst, status.ErrBodyTooLarge)
			}
		case eExtension:
			switch char {
			case '\r':
				c.state = eSizeLF
			case '\n':
				return c.fail(dst, status.ErrBadChunk)
			default:
				if c.lineLen++; c.lineLen > maxLineExtra {
					return c.fail(dst, status.ErrBadChunk)
				}
			}
		case eSizeLF:
			if char != '\n' {
				return c.fail(dst, status.ErrBadChunk)
			}

			if c.size == 0 {
				c.state = eTrailerLine
				break
			}

			c.remaining = c.size
			c.size, c.digits = 0, 0
			c.state = eData
		case eData:
			n := int64(len(data) - i)
			if n > c.remaining {
				n = c.remaining
			}

			dst = append(dst, data[i:i+int(n)]...)
			c.remaining -= n
			c.written += n
			i += int(n) - 1

			if c.remaining == 0 {
				c.state = eDataCR
			}
		case eDataCR:
			if char != '\r' {
				return c.fail(dst, status.ErrBadChunk)
			}

			c.state = eDataLF
		case eDataLF:
			if char != '\n' {
				return c.fail(dst, status.ErrBadChunk)
			}

			c.state = eSize
		case eTrailerLine:
			if char == '\r' {
				c.state = eFinalLF
				break
			}

			c.lineLen = 1
			c.state = eTrailerField
		case eTrailerField:
			switch char {
			case '\r':
				c.state = eTrailerFieldLF
			case '\n':
				return c.fail(dst, status.ErrBadChunk)
			default:
				if c.lineLen++; c.lineLen > maxLineExtra {
					return c.fail(dst, status.ErrHeaderFieldsTooLarge)
				}
			}
		case eTrailerFieldLF:
			if char != '\n' {
				return c.fail(dst, status.ErrBadChunk)
			}

			c.state = eTrailerLine
		case eFinalLF:
			if char != '\n' {
				return c.fail(dst, status.ErrBadChunk)
			}

			c.state = eDone
			return dst, data[i+1:], io.EOF
		case eDone:
			return dst, data[i:], io.EOF
		case eError:
			return dst, nil, c.err
		default:
			panic(fmt.Sprintf("BUG: unexpected chunked parser state: %d", c.state))
		}
	}

	switch c.state {
	case eDone:
		return dst, nil, io.EOF
	case eError:
		return dst, nil, c.err
	}

	return dst, nil, nil
}

func (c *ChunkedParser) fail(dst []byte, err error) ([]byte, []byte, error) {
	c.state, c.err = eError, err
	return dst, nil, err
}
