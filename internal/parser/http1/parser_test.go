package http1

import (
	"strconv"
	"strings"
	"testing"

	"github.com/42ship/serverx/config"
	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/method"
	"github.com/42ship/serverx/http/proto"
	"github.com/42ship/serverx/http/status"
	"github.com/42ship/serverx/internal/parser"
	"github.com/dchest/uniuri"
	"github.com/stretchr/testify/require"
)

func getParser(cfg *config.Config) (*Parser, *http.Request) {
	if cfg == nil {
		cfg = config.Default()
	}

	request := http.NewRequest(cfg.Headers.Number.Default)
	return NewParser(request, cfg), request
}

func splitIntoParts(req []byte, n int) (parts [][]byte) {
	for i := 0; i < len(req); i += n {
		end := min(i+n, len(req))
		parts = append(parts, req[i:end])
	}

	return parts
}

func feedPartially(p *Parser, raw []byte, n int) (state parser.RequestState, extra []byte, err error) {
	for _, chunk := range splitIntoParts(raw, n) {
		state, extra, err = p.Parse(chunk)
		if state != parser.Pending {
			return state, extra, err
		}
	}

	return state, extra, err
}

func TestParser(t *testing.T) {
	t.Run("simple GET", func(t *testing.T) {
		p, request := getParser(nil)
		state, extra, err := p.Parse([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
		require.NoError(t, err)
		require.Equal(t, parser.HeadersCompleted, state)
		require.Empty(t, extra)
		require.Equal(t, method.GET, request.Method)
		require.Equal(t, "/", request.Path)
		require.Equal(t, proto.HTTP11, request.Protocol)
		require.Equal(t, "example.com", request.Host)
		require.False(t, request.HasBody())
	})

	t.Run("partial feeds", func(t *testing.T) {
		raw := "POST /hello%20world/?a=b&c=d HTTP/1.1\r\n" +
			"Host: localhost:8080\r\n" +
			"Content-Type:text/plain \r\n" +
			"Content-Length: 13\r\n" +
			"Accept-Encoding: deflate, gzip;q=0.5\r\n" +
			"Connection: keep-alive\r\n\r\n" +
			"Hello, world!"

		for n := 1; n <= len(raw); n++ {
			p, request := getParser(nil)
			state, extra, err := feedPartially(p, []byte(raw), n)
			require.NoError(t, err, "n=%d", n)
			require.Equal(t, parser.HeadersCompleted, state, "n=%d", n)
			require.Equal(t, method.POST, request.Method)
			require.Equal(t, "/hello world/", request.Path)
			require.Equal(t, "a=b&c=d", request.Query)
			require.Equal(t, "/hello%20world/?a=b&c=d", request.Target)
			require.Equal(t, "text/plain", request.ContentType)
			require.Equal(t, int64(13), request.ContentLength)
			require.True(t, request.AcceptsGzip)
			require.True(t, request.KeepAlive())
			require.Equal(t, 5, request.Headers.Len())
			require.True(t, strings.HasPrefix("Hello, world!", string(extra)), "n=%d", n)
		}
	})

	t.Run("leading CRLF", func(t *testing.T) {
		p, request := getParser(nil)
		state, _, err := p.Parse([]byte("\r\n\r\nGET /index.html HTTP/1.0\r\n\r\n"))
		require.NoError(t, err)
		require.Equal(t, parser.HeadersCompleted, state)
		require.Equal(t, "/index.html", request.Path)
		require.Equal(t, proto.HTTP10, request.Protocol)
		require.False(t, request.KeepAlive())
	})

	t.Run("bare LF", func(t *testing.T) {
		p, request := getParser(nil)
		state, _, err := p.Parse([]byte("GET / HTTP/1.1\nHost: x\n\n"))
		require.NoError(t, err)
		require.Equal(t, parser.HeadersCompleted, state)
		require.Equal(t, "x", request.Host)
	})

	t.Run("unknown method", func(t *testing.T) {
		p, request := getParser(nil)
		state, _, err := p.Parse([]byte("PATCH /x HTTP/1.1\r\nHost: x\r\n\r\n"))
		require.NoError(t, err)
		require.Equal(t, parser.HeadersCompleted, state)
		require.Equal(t, method.Unknown, request.Method)
		require.Equal(t, "PATCH", request.MethodName)
	})

	t.Run("absolute form", func(t *testing.T) {
		p, request := getParser(nil)
		_, _, err := p.Parse([]byte("GET http://example.com/a/b?x=1 HTTP/1.1\r\nHost: example.com\r\n\r\n"))
		require.NoError(t, err)
		require.Equal(t, "/a/b", request.Path)
		require.Equal(t, "x=1", request.Query)
	})

	t.Run("pipelined", func(t *testing.T) {
		p, request := getParser(nil)
		first := "GET /first HTTP/1.1\r\nHost: x\r\n\r\n"
		second := "GET /second HTTP/1.1\r\nHost: x\r\n\r\n"

		state, extra, err := p.Parse([]byte(first + second))
		require.NoError(t, err)
		require.Equal(t, parser.HeadersCompleted, state)
		require.Equal(t, "/first", request.Path)
		require.Equal(t, second, string(extra))

		request.Reset()
		state, extra, err = p.Parse(extra)
		require.NoError(t, err)
		require.Equal(t, parser.HeadersCompleted, state)
		require.Equal(t, "/second", request.Path)
		require.Empty(t, extra)
		require.Equal(t, 1, request.Headers.Len())
	})

	t.Run("no leakage through the shared buffer", func(t *testing.T) {
		p, request := getParser(nil)
		buff := []byte("GET /first HTTP/1.1\r\nX-Secret: value\r\nHost: x\r\n\r\n")
		_, _, err := p.Parse(buff)
		require.NoError(t, err)

		for i := range buff {
			buff[i] = 'z'
		}

		require.Equal(t, "/first", request.Path)
		require.Equal(t, "value", request.Headers.Value("x-secret"))
	})

	t.Run("random headers", func(t *testing.T) {
		p, request := getParser(nil)
		want := map[string]string{}
		raw := "GET / HTTP/1.1\r\nHost: x\r\n"
		for range 20 {
			key, value := "X-"+uniuri.New(), uniuri.NewLen(64)
			want[key] = value
			raw += key + ": " + value + "\r\n"
		}

		state, _, err := feedPartially(p, []byte(raw+"\r\n"), 7)
		require.NoError(t, err)
		require.Equal(t, parser.HeadersCompleted, state)
		for key, value := range want {
			require.Equal(t, value, request.Headers.Value(key))
		}
	})

	t.Run("repeated equal content-length", func(t *testing.T) {
		p, request := getParser(nil)
		_, _, err := p.Parse([]byte("POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nContent-Length: 5\r\n\r\n"))
		require.NoError(t, err)
		require.Equal(t, int64(5), request.ContentLength)
	})

	t.Run("chunked", func(t *testing.T) {
		p, request := getParser(nil)
		_, _, err := p.Parse([]byte("POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: Chunked\r\n\r\n"))
		require.NoError(t, err)
		require.True(t, request.Chunked)
		require.True(t, request.HasBody())
	})
}

func TestParserErrors(t *testing.T) {
	cfg := config.Default()

	for _, tc := range []struct {
		Name    string
		Request string
		Code    status.Code
	}{
		{"missing host", "GET / HTTP/1.1\r\n\r\n", status.BadRequest},
		{"repeated host", "GET / HTTP/1.1\r\nHost: a\r\nHost: b\r\n\r\n", status.BadRequest},
		{"both framings", "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n", status.BadRequest},
		{"framings reversed", "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\nContent-Length: 5\r\n\r\n", status.BadRequest},
		{"unsupported coding", "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: gzip, chunked\r\n\r\n", status.NotImplemented},
		{"chunked not last", "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked, chunked\r\n\r\n", status.BadRequest},
		{"negative length", "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: -1\r\n\r\n", status.BadRequest},
		{"non-numeric length", "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 1a\r\n\r\n", status.BadRequest},
		{"conflicting length", "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\n", status.BadRequest},
		{"overflowing length", "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 99999999999999999999\r\n\r\n", status.BadRequest},
		{"unsupported protocol", "GET / HTTP/2.0\r\nHost: x\r\n\r\n", status.HTTPVersionNotSupported},
		{"malformed protocol", "GET / HTTQ/1.1\r\nHost: x\r\n\r\n", status.BadRequest},
		{"missing protocol", "GET /\r\nHost: x\r\n\r\n", status.BadRequest},
		{"double space", "GET  / HTTP/1.1\r\nHost: x\r\n\r\n", status.BadRequest},
		{"relative target", "GET index.html HTTP/1.1\r\nHost: x\r\n\r\n", status.BadRequest},
		{"bad escaping", "GET /%zz HTTP/1.1\r\nHost: x\r\n\r\n", status.BadRequest},
		{"escaped crlf", "POST /files/a%0D%0ASet-Cookie:%20x=1 HTTP/1.1\r\nHost: x\r\n\r\n", status.BadRequest},
		{"escaped control", "GET /a%1bb HTTP/1.1\r\nHost: x\r\n\r\n", status.BadRequest},
		{"escaped del", "GET /a%7F HTTP/1.1\r\nHost: x\r\n\r\n", status.BadRequest},
		{"bad method token", "G(T / HTTP/1.1\r\nHost: x\r\n\r\n", status.BadRequest},
		{"no colon", "GET / HTTP/1.1\r\nHost x\r\n\r\n", status.BadRequest},
		{"space before colon", "GET / HTTP/1.1\r\nHost : x\r\n\r\n", status.BadRequest},
		{"obs-fold", "GET / HTTP/1.1\r\nHost: x\r\nX-Foo: a\r\n b\r\n\r\n", status.BadRequest},
		{"long request line", "GET /" + strings.Repeat("a", cfg.URI.RequestLineSize.Maximal) + " HTTP/1.1\r\n\r\n", status.RequestURITooLong},
		{"too many headers", "GET / HTTP/1.1\r\n" + strings.Repeat("A: b\r\n", cfg.Headers.Number.Maximal+1) + "\r\n", status.RequestHeaderFieldsTooLarge},
		{"too large headers", "GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", cfg.Headers.Space) + "\r\n\r\n", status.RequestHeaderFieldsTooLarge},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			for _, n := range []int{1, 5, len(tc.Request)} {
				p, _ := getParser(cfg)
				state, _, err := feedPartially(p, []byte(tc.Request), n)
				require.Equal(t, parser.Error, state, "n=%d", n)
				require.Error(t, err)
				require.Equal(t, tc.Code, status.CodeOf(err), "n=%d: %s", n, err)
			}
		})
	}
}

func TestBody(t *testing.T) {
	parse := func(t *testing.T, raw string) (*Parser, *http.Request, []byte) {
		p, request := getParser(nil)
		state, extra, err := p.Parse([]byte(raw))
		require.NoError(t, err)
		require.Equal(t, parser.HeadersCompleted, state)
		return p, request, extra
	}

	t.Run("content-length", func(t *testing.T) {
		payload := uniuri.NewLen(100)
		raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: " + strconv.Itoa(len(payload)) + "\r\n\r\n"

		for _, n := range []int{1, 3, 100} {
			_, request, extra := parse(t, raw)
			body := NewBody(request, 16)
			require.NoError(t, body.Init(100))
			require.Empty(t, extra)

			var (
				done bool
				err  error
			)
			for _, part := range splitIntoParts([]byte(payload+"GET"), n) {
				request.Body, done, extra, err = body.Feed(request.Body, part)
				require.NoError(t, err)
				if done {
					break
				}
			}

			require.True(t, done)
			require.Equal(t, payload, string(request.Body))
			require.True(t, strings.HasPrefix("GET", string(extra)))
		}
	})

	t.Run("no body", func(t *testing.T) {
		_, request, _ := parse(t, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
		body := NewBody(request, 16)
		require.NoError(t, body.Init(0))
		require.True(t, body.Done())
		out, done, extra, err := body.Feed(nil, []byte("GET"))
		require.NoError(t, err)
		require.True(t, done)
		require.Empty(t, out)
		require.Equal(t, "GET", string(extra))
	})

	t.Run("declared too large", func(t *testing.T) {
		_, request, _ := parse(t, "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 11\r\n\r\n")
		require.ErrorIs(t, NewBody(request, 16).Init(10), status.ErrBodyTooLarge)
	})

	t.Run("chunked", func(t *testing.T) {
		_, request, extra := parse(t, "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n"+
			encodeChunked("Hello, ", "world!")+"GET /next")
		body := NewBody(request, 16)
		require.NoError(t, body.Init(100))
		out, done, extra, err := body.Feed(nil, extra)
		require.NoError(t, err)
		require.True(t, done)
		require.Equal(t, "Hello, world!", string(out))
		require.Equal(t, "GET /next", string(extra))
	})

	t.Run("chunked too large", func(t *testing.T) {
		_, request, extra := parse(t, "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n"+
			encodeChunked("Hello, ", "world!"))
		body := NewBody(request, 16)
		require.NoError(t, body.Init(12))
		_, _, _, err := body.Feed(nil, extra)
		require.Equal(t, status.RequestEntityTooLarge, status.CodeOf(err))
	})

	t.Run("reused between requests", func(t *testing.T) {
		_, request, extra := parse(t, "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n"+
			encodeChunked("first"))
		body := NewBody(request, 16)
		require.NoError(t, body.Init(100))
		_, done, _, err := body.Feed(nil, extra)
		require.NoError(t, err)
		require.True(t, done)

		request.Reset()
		request.Chunked = true
		require.NoError(t, body.Init(100))
		require.False(t, body.Done())
		out, done, _, err := body.Feed(nil, []byte(encodeChunked("second")))
		require.NoError(t, err)
		require.True(t, done)
		require.Equal(t, "second", string(out))
	})

	t.Run("streamed piece by piece", func(t *testing.T) {
		_, request, _ := parse(t, "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n")
		body := NewBody(request, 16)
		require.NoError(t, body.Init(100))

		// every portion is decoded into a fresh buffer, nothing is accumulated
		out, done, _, err := body.Feed(nil, []byte("5\r\nhello\r\n"))
		require.NoError(t, err)
		require.False(t, done)
		require.Equal(t, "hello", string(out))

		out, done, extra, err := body.Feed(out[:0], []byte("6\r\n world\r\n0\r\n\r\nGET"))
		require.NoError(t, err)
		require.True(t, done)
		require.Equal(t, " world", string(out))
		require.Equal(t, "GET", string(extra))
		require.Empty(t, request.Body)
	})

	t.Run("no upfront allocation", func(t *testing.T) {
		_, request, _ := parse(t, "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 1000000\r\n\r\n")
		body := NewBody(request, 16)
		require.NoError(t, body.Init(1000000))

		out, done, _, err := body.Feed(nil, []byte("abc"))
		require.NoError(t, err)
		require.False(t, done)
		require.Equal(t, "abc", string(out))
		require.Less(t, cap(out), 1024)
	})
}
