package http

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/method"
	"github.com/42ship/serverx/http/mime"
	"github.com/42ship/serverx/http/proto"
	"github.com/42ship/serverx/http/status"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func render(s *Serializer, request *http.Request, response *http.Response, keepAlive bool) (string, string) {
	head, body := s.Render(request, response, keepAlive)
	var (
		buf  = make([]byte, 16)
		data []byte
	)

	for {
		chunk, err := body.Next(buf)
		data = append(data, chunk...)
		if err == io.EOF {
			return string(head), string(data)
		}
	}
}

func newGET() *http.Request {
	request := http.NewRequest(5)
	request.Method = method.GET
	request.MethodName = "GET"
	return request
}

func TestSerializer(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		s := NewSerializer(nil, 1024)
		response := http.NewResponse().ContentType(mime.Plain).String("Hello, world!")
		head, body := render(s, newGET(), response, true)
		require.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 13\r\n\r\n", head)
		require.Equal(t, "Hello, world!", body)
	})

	t.Run("headers", func(t *testing.T) {
		s := NewSerializer(map[string]string{"Server": "serverx", "X-Default": "1"}, 1024)
		response := http.NewResponse().
			Code(status.Created).
			Header("Location", "/a").
			Header("X-Default", "2")
		head, _ := render(s, newGET(), response, false)
		require.True(t, strings.HasPrefix(head, "HTTP/1.1 201 Created\r\nLocation: /a\r\nX-Default: 2\r\n"))
		require.Contains(t, head, "Server: serverx\r\n")
		require.NotContains(t, head, "X-Default: 1")
		require.True(t, strings.HasSuffix(head, "Content-Length: 0\r\nConnection: close\r\n\r\n"))
	})

	t.Run("line breaks in values", func(t *testing.T) {
		s := NewSerializer(nil, 1024)
		response := http.NewResponse().
			Code(status.Found).
			Header("Location", "/a\r\nSet-Cookie: x=1").
			ContentType("text/plain\nX-Injected: 1")
		head, _ := render(s, newGET(), response, true)
		require.Contains(t, head, "Location: /a  Set-Cookie: x=1\r\n")
		require.Contains(t, head, "Content-Type: text/plain X-Injected: 1\r\n")
		require.NotContains(t, head, "\r\nSet-Cookie")
		require.NotContains(t, head, "\nX-Injected")
	})

	t.Run("head", func(t *testing.T) {
		s := NewSerializer(nil, 1024)
		request := newGET()
		request.Method = method.HEAD
		head, body := render(s, request, http.NewResponse().String("hello"), true)
		require.Contains(t, head, "Content-Length: 5\r\n")
		require.Empty(t, body)
	})

	t.Run("no content", func(t *testing.T) {
		s := NewSerializer(nil, 1024)
		head, body := render(s, newGET(), http.NewResponse().Code(status.NoContent), true)
		require.Equal(t, "HTTP/1.1 204 No Content\r\n\r\n", head)
		require.Empty(t, body)
	})

	t.Run("http/1.0", func(t *testing.T) {
		s := NewSerializer(nil, 1024)
		request := newGET()
		request.Protocol = proto.HTTP10
		head, _ := render(s, request, http.NewResponse(), true)
		require.Equal(t, "HTTP/1.0 200 OK\r\nContent-Length: 0\r\nConnection: keep-alive\r\n\r\n", head)
	})

	t.Run("unknown protocol", func(t *testing.T) {
		s := NewSerializer(nil, 1024)
		request := newGET()
		request.Protocol = proto.Unknown
		head, _ := render(s, request, http.NewResponse().Code(status.HTTPVersionNotSupported), false)
		require.True(t, strings.HasPrefix(head, "HTTP/1.1 505 HTTP Version Not Supported\r\n"))
	})

	t.Run("gzip", func(t *testing.T) {
		s := NewSerializer(nil, 16)
		request := newGET()
		request.AcceptsGzip = true
		content := strings.Repeat("compress me please ", 100)

		for range 2 {
			response := http.NewResponse().ContentType(mime.Plain).String(content)
			head, body := render(s, request, response, true)
			require.Contains(t, head, "Content-Encoding: gzip\r\n")
			require.Contains(t, head, "Vary: Accept-Encoding\r\n")
			require.Less(t, len(body), len(content))

			reader, err := gzip.NewReader(bytes.NewReader([]byte(body)))
			require.NoError(t, err)
			decompressed, err := io.ReadAll(reader)
			require.NoError(t, err)
			require.Equal(t, content, string(decompressed))
		}
	})

	t.Run("no gzip", func(t *testing.T) {
		s := NewSerializer(nil, 16)
		request := newGET()
		request.AcceptsGzip = true

		for _, response := range []*http.Response{
			// too small
			http.NewResponse().ContentType(mime.Plain).String("tiny"),
			// not compressible
			http.NewResponse().ContentType(mime.PNG).String(strings.Repeat("a", 64)),
			// already encoded
			http.NewResponse().ContentType(mime.Plain).
				Header("Content-Encoding", "br").String(strings.Repeat("a", 64)),
		} {
			head, _ := render(s, request, response, true)
			require.NotContains(t, head, "Content-Encoding: gzip")
		}
	})
}
