package http

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/method"
	"github.com/42ship/serverx/http/mime"
	"github.com/42ship/serverx/http/proto"
	"github.com/42ship/serverx/http/status"
	"github.com/indigo-web/utils/strcomp"
	"github.com/klauspost/compress/gzip"
)

const (
	colonsp          = ": "
	crlf             = "\r\n"
	contentType      = "Content-Type: "
	contentLength    = "Content-Length: "
	connectionClose  = "Connection: close\r\n"
	connectionKeep   = "Connection: keep-alive\r\n"
	contentEncoding  = "Content-Encoding: gzip\r\n"
	varyOnEncoding   = "Vary: Accept-Encoding\r\n"
	defaultProtocol  = proto.HTTP11
	headBuffPrealloc = 512
)

// Serializer renders response heads. Bodies aren't copied, but may be replaced
// with compressed ones.
type Serializer struct {
	buff           []byte
	defaultHeaders defaultHeaders
	smallBody      int
	gzip           *gzip.Writer
	compressed     bytes.Buffer
}

func NewSerializer(defHeaders map[string]string, smallBody int) *Serializer {
	return &Serializer{
		buff:           make([]byte, 0, headBuffPrealloc),
		defaultHeaders: processDefaultHeaders(defHeaders),
		smallBody:      smallBody,
	}
}

// Render returns the head of the response and the body to be sent after it. The head
// stays valid until the next call. Responses to HEAD requests get no body, however
// Content-Length is still reported.
func (s *Serializer) Render(
	request *http.Request, response *http.Response, keepAlive bool,
) (head []byte, body http.Body) {
	s.buff = s.buff[:0]
	fields := response.Expose()
	body = fields.Body

	protocol := request.Protocol
	if protocol != proto.HTTP10 {
		protocol = defaultProtocol
	}

	s.buff = append(s.buff, protocol.String()...)
	s.buff = append(s.buff, status.Line(fields.Code)...)

	for key, value := range fields.Headers.Pairs() {
		s.renderHeader(key, value)
	}

	for _, header := range s.defaultHeaders {
		if !fields.Headers.Has(header.Key) {
			s.buff = append(s.buff, header.Full...)
		}
	}

	if s.compressible(request, fields) {
		if compressed, ok := s.compress(body); ok {
			body = compressed
			s.buff = append(s.buff, contentEncoding...)
			s.buff = append(s.buff, varyOnEncoding...)
		}
	}

	if len(fields.ContentType) > 0 {
		s.renderKnownHeader(contentType, fields.ContentType)
	}

	if hasContentLength(fields.Code) {
		s.buff = append(s.buff, contentLength...)
		s.buff = strconv.AppendInt(s.buff, body.Size(), 10)
		s.buff = append(s.buff, crlf...)
	}

	if keepAlive {
		if protocol == proto.HTTP10 {
			s.buff = append(s.buff, connectionKeep...)
		}
	} else {
		s.buff = append(s.buff, connectionClose...)
	}

	s.buff = append(s.buff, crlf...)

	if request.Method == method.HEAD || !hasContentLength(fields.Code) {
		return s.buff, http.Empty
	}

	return s.buff, body
}

func (s *Serializer) compressible(request *http.Request, fields *http.Fields) bool {
	kind := fields.Body.Kind()

	return request.AcceptsGzip &&
		request.Method != method.HEAD &&
		(kind == http.MemoryBody || kind == http.CGIBody) &&
		fields.Body.Size() >= int64(s.smallBody) &&
		mime.Compressible(fields.ContentType) &&
		!fields.Headers.Has("content-encoding")
}

// compress the in-memory body. The result is valid until the next call.
func (s *Serializer) compress(body http.Body) (http.Body, bool) {
	raw, ok := body.(interface{ Bytes() []byte })
	if !ok {
		return body, false
	}

	s.compressed.Reset()
	if s.gzip == nil {
		s.gzip = gzip.NewWriter(&s.compressed)
	} else {
		s.gzip.Reset(&s.compressed)
	}

	if _, err := s.gzip.Write(raw.Bytes()); err != nil {
		return body, false
	}

	if err := s.gzip.Close(); err != nil {
		return body, false
	}

	return http.NewMemoryBody(s.compressed.Bytes()), true
}

func (s *Serializer) renderHeader(key, value string) {
	s.buff = append(s.buff, key...)
	s.buff = append(s.buff, colonsp...)
	s.buff = appendFieldValue(s.buff, value)
	s.buff = append(s.buff, crlf...)
}

func (s *Serializer) renderKnownHeader(key, value string) {
	s.buff = append(s.buff, key...)
	s.buff = appendFieldValue(s.buff, value)
	s.buff = append(s.buff, crlf...)
}

// appendFieldValue never lets a value terminate the header line.
func appendFieldValue(buff []byte, value string) []byte {
	if strings.IndexAny(value, "\r\n") == -1 {
		return append(buff, value...)
	}

	for i := 0; i < len(value); i++ {
		switch char := value[i]; char {
		case '\r', '\n':
			buff = append(buff, ' ')
		default:
			buff = append(buff, char)
		}
	}

	return buff
}

// hasContentLength reports whether responses with the code may carry a body.
func hasContentLength(code status.Code) bool {
	return code >= 200 && code != status.NoContent && code != status.NotModified
}

type defaultHeader struct {
	Key  string
	Full string
}

type defaultHeaders []defaultHeader

func processDefaultHeaders(hdrs map[string]string) defaultHeaders {
	processed := make(defaultHeaders, 0, len(hdrs))
	for key, value := range hdrs {
		if strcomp.EqualFold(key, "content-length") || strcomp.EqualFold(key, "connection") {
			continue
		}

		processed = append(processed, defaultHeader{
			Key:  key,
			Full: key + colonsp + value + crlf,
		})
	}

	return processed
}
