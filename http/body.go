package http

import (
	"io"
	"os"
)

type BodyKind uint8

const (
	NoBody BodyKind = iota
	MemoryBody
	FileBody
	CGIBody
)

func (k BodyKind) String() string {
	switch k {
	case NoBody:
		return "none"
	case MemoryBody:
		return "memory"
	case FileBody:
		return "file"
	case CGIBody:
		return "cgi"
	default:
		return "unknown"
	}
}

// Body is a source of response body bytes. The set of implementations is closed: empty,
// in-memory, file and CGI output.
type Body interface {
	Kind() BodyKind
	// Size returns the total length of the body.
	Size() int64
	// Next returns the next portion of the body, no longer than len(buf). The returned slice
	// may or may not be backed by buf. io.EOF is returned after the body is exhausted.
	Next(buf []byte) ([]byte, error)
	Close() error
}

type emptyBody struct{}

// Empty is a body of zero length.
var Empty Body = emptyBody{}

func (emptyBody) Kind() BodyKind { return NoBody }
func (emptyBody) Size() int64 { return 0 }
func (emptyBody) Next([]byte) ([]byte, error) { return nil, io.EOF }
func (emptyBody) Close() error { return nil }

type memoryBody struct {
	kind   BodyKind
	data   []byte
	offset int
}

// NewMemoryBody wraps the bytes WITHOUT COPYING.
func NewMemoryBody(data []byte) Body {
	return &memoryBody{kind: MemoryBody, data: data}
}

// NewCGIBody wraps the body part of a CGI script's output.
func NewCGIBody(data []byte) Body {
	return &memoryBody{kind: CGIBody, data: data}
}

func (m *memoryBody) Kind() BodyKind {
	return m.kind
}

func (m *memoryBody) Size() int64 {
	return int64(len(m.data))
}

func (m *memoryBody) Next(buf []byte) ([]byte, error) {
	if m.offset >= len(m.data) {
		return nil, io.EOF
	}

	end := min(m.offset+len(buf), len(m.data))
	chunk := m.data[m.offset:end]
	m.offset = end

	return chunk, nil
}

// Bytes returns the not yet consumed part of the body.
func (m *memoryBody) Bytes() []byte {
	return m.data[m.offset:]
}

func (m *memoryBody) Close() error {
	m.data = nil
	return nil
}

type fileBody struct {
	file *os.File
	size int64
	read int64
}

// NewFileBody takes ownership over the file. The size must be the one the file had
// when the response headers were decided.
func NewFileBody(file *os.File, size int64) Body {
	return &fileBody{file: file, size: size}
}

func (f *fileBody) Kind() BodyKind {
	return FileBody
}

func (f *fileBody) Size() int64 {
	return f.size
}

func (f *fileBody) Next(buf []byte) ([]byte, error) {
	if f.read >= f.size {
		return nil, io.EOF
	}

	if rest := f.size - f.read; int64(len(buf)) > rest {
		buf = buf[:rest]
	}

	n, err := f.file.Read(buf)
	f.read += int64(n)
	switch {
	case n > 0:
		return buf[:n], nil
	case err == io.EOF:
		// the file was truncated in the middle of transmission. As the Content-Length is
		// already sent, the connection is unusable anymore.
		return nil, io.ErrUnexpectedEOF
	default:
		return nil, err
	}
}

func (f *fileBody) Close() error {
	return f.file.Close()
}
