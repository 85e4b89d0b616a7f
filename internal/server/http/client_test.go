package http

import (
	"bufio"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/42ship/serverx/config"
	"github.com/42ship/serverx/internal/reactor"
	"github.com/42ship/serverx/internal/socket"
	"github.com/42ship/serverx/router"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const treeTemplate = `{
	"servers": [{
		"listen": "127.0.0.1:8080",
		"root": %q,
		"index": ["index.html"],
		"client_max_body_size": 64,
		"locations": [
			{"path": "/"},
			{"path": "/cgi", "cgi": {".sh": "/bin/sh"}, "client_max_body_size": 4096},
			{"path": "/stream", "cgi": {".sh": "/bin/sh"}, "client_max_body_size": 1048576}
		]
	}]
}`

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
}

// serve starts the whole stack on an ephemeral loopback port and returns its address.
func serve(t *testing.T, tune func(cfg *config.Config)) (addr string, root string) {
	root = t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), "<h1>hello</h1>")
	writeFile(t, filepath.Join(root, "cgi", "echo.sh"),
		"printf 'Content-Type: text/plain\\r\\n\\r\\n'\nprintf '%s:' \"$REQUEST_METHOD\"\ncat\n")
	writeFile(t, filepath.Join(root, "cgi", "fail.sh"), "exit 1\n")
	writeFile(t, filepath.Join(root, "cgi", "sleep.sh"), "echo $$ > pid\nexec sleep 30\n")
	writeFile(t, filepath.Join(root, "cgi", "garbage.sh"), "printf 'no headers at all'\n")
	writeFile(t, filepath.Join(root, "stream", "mark.sh"),
		"touch started\nprintf 'Content-Type: text/plain\\r\\n\\r\\n'\ncat\n")
	writeFile(t, filepath.Join(root, "stream", "lazy.sh"),
		"printf 'Content-Type: text/plain\\r\\n\\r\\n'\necho start\nsleep 0.2\ncat\n")

	cfg := config.Default()
	cfg.NET.PollInterval = 20 * time.Millisecond
	cfg.CGI.Timeout = 300 * time.Millisecond
	if tune != nil {
		tune(cfg)
	}

	tree, err := config.Parse([]byte(fmt.Sprintf(treeTemplate, root)), cfg)
	require.NoError(t, err)

	log := zerolog.Nop()
	d, err := reactor.New(cfg.NET.MaxEvents, cfg.NET.PollInterval, log)
	require.NoError(t, err)

	engine := NewEngine(d, router.New(tree), cfg, log)
	listener, err := socket.Listen(netip.MustParseAddrPort("127.0.0.1:0"), 16)
	require.NoError(t, err)
	acceptor, err := reactor.NewAcceptor(listener, d, 16, engine.OnAccept(tree.Servers[0].Addr), log)
	require.NoError(t, err)

	done := make(chan error)
	go func() {
		done <- d.Run()
	}()

	t.Cleanup(func() {
		d.Stop()
		require.NoError(t, <-done)
		engine.Reaper().Shutdown(time.Second)
	})

	return acceptor.Addr().String(), root
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn, bufio.NewReader(conn)
}

func roundTrip(t *testing.T, conn net.Conn, reader *bufio.Reader, raw string) (*nethttp.Response, string) {
	_, err := conn.Write([]byte(raw))
	require.NoError(t, err)
	return readResponse(t, reader)
}

func readResponse(t *testing.T, reader *bufio.Reader) (*nethttp.Response, string) {
	resp, err := nethttp.ReadResponse(reader, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, string(body)
}

func requireClosed(t *testing.T, reader *bufio.Reader) {
	_, err := reader.ReadByte()
	require.ErrorIs(t, err, io.EOF)
}

func TestClient(t *testing.T) {
	addr, _ := serve(t, nil)

	t.Run("static", func(t *testing.T) {
		conn, reader := dial(t, addr)
		resp, body := roundTrip(t, conn, reader, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, "<h1>hello</h1>", body)
		require.Equal(t, "text/html;charset=utf-8", resp.Header.Get("Content-Type"))
	})

	t.Run("not found", func(t *testing.T) {
		conn, reader := dial(t, addr)
		resp, body := roundTrip(t, conn, reader, "GET /missing HTTP/1.1\r\nHost: x\r\n\r\n")
		require.Equal(t, 404, resp.StatusCode)
		require.Equal(t, strconv.Itoa(len(body)), resp.Header.Get("Content-Length"))
	})

	t.Run("keep-alive", func(t *testing.T) {
		conn, reader := dial(t, addr)
		for range 3 {
			resp, body := roundTrip(t, conn, reader,
				"GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n")
			require.Equal(t, 200, resp.StatusCode)
			require.Equal(t, "<h1>hello</h1>", body)
		}
	})

	t.Run("pipelining", func(t *testing.T) {
		conn, reader := dial(t, addr)
		_, err := conn.Write([]byte(
			"GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n" +
				"GET /missing HTTP/1.1\r\nHost: x\r\n\r\n" +
				"HEAD /index.html HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n",
		))
		require.NoError(t, err)

		resp, body := readResponse(t, reader)
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, "<h1>hello</h1>", body)
		resp, _ = readResponse(t, reader)
		require.Equal(t, 404, resp.StatusCode)

		resp, err = nethttp.ReadResponse(reader, &nethttp.Request{Method: "HEAD"})
		require.NoError(t, err)
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, int64(14), resp.ContentLength)
		requireClosed(t, reader)
	})

	t.Run("http/1.0 closes", func(t *testing.T) {
		conn, reader := dial(t, addr)
		resp, _ := roundTrip(t, conn, reader, "GET / HTTP/1.0\r\n\r\n")
		require.Equal(t, 200, resp.StatusCode)
		requireClosed(t, reader)
	})

	t.Run("malformed", func(t *testing.T) {
		conn, reader := dial(t, addr)
		resp, _ := roundTrip(t, conn, reader, "GET / HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\n"+
			"Transfer-Encoding: chunked\r\n\r\n")
		require.Equal(t, 400, resp.StatusCode)
		require.Equal(t, "close", resp.Header.Get("Connection"))
		requireClosed(t, reader)
	})

	t.Run("body too large", func(t *testing.T) {
		conn, reader := dial(t, addr)
		resp, _ := roundTrip(t, conn, reader, "POST /cgi/echo.sh HTTP/1.1\r\nHost: x\r\n"+
			"Content-Length: 4097\r\n\r\n")
		require.Equal(t, 413, resp.StatusCode)
		requireClosed(t, reader)
	})

	t.Run("chunked body too large", func(t *testing.T) {
		conn, reader := dial(t, addr)
		resp, _ := roundTrip(t, conn, reader, "POST /cgi/echo.sh HTTP/1.1\r\nHost: x\r\n"+
			"Transfer-Encoding: chunked\r\n\r\n1001\r\n")
		require.Equal(t, 413, resp.StatusCode)
		requireClosed(t, reader)
	})

	t.Run("method not allowed", func(t *testing.T) {
		conn, reader := dial(t, addr)
		resp, _ := roundTrip(t, conn, reader, "DELETE /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
		require.Equal(t, 405, resp.StatusCode)

		// the connection survives
		resp, _ = roundTrip(t, conn, reader, "BREW / HTTP/1.1\r\nHost: x\r\n\r\n")
		require.Equal(t, 501, resp.StatusCode)
	})

	t.Run("cgi", func(t *testing.T) {
		conn, reader := dial(t, addr)
		resp, body := roundTrip(t, conn, reader, "POST /cgi/echo.sh HTTP/1.1\r\nHost: x\r\n"+
			"Transfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n")
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
		require.Equal(t, "POST:hello world", body)

		resp, body = roundTrip(t, conn, reader, "GET /cgi/echo.sh HTTP/1.1\r\nHost: x\r\n\r\n")
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, "GET:", body)
	})

	t.Run("cgi failure", func(t *testing.T) {
		conn, reader := dial(t, addr)
		resp, _ := roundTrip(t, conn, reader, "GET /cgi/fail.sh HTTP/1.1\r\nHost: x\r\n\r\n")
		require.Equal(t, 502, resp.StatusCode)
		resp, _ = roundTrip(t, conn, reader, "GET /cgi/garbage.sh HTTP/1.1\r\nHost: x\r\n\r\n")
		require.Equal(t, 502, resp.StatusCode)
		resp, _ = roundTrip(t, conn, reader, "GET /cgi/missing.sh HTTP/1.1\r\nHost: x\r\n\r\n")
		require.Equal(t, 404, resp.StatusCode)
	})

	t.Run("cgi timeout", func(t *testing.T) {
		conn, reader := dial(t, addr)
		resp, _ := roundTrip(t, conn, reader, "GET /cgi/sleep.sh HTTP/1.1\r\nHost: x\r\n\r\n")
		require.Equal(t, 504, resp.StatusCode)
	})
}

func TestIdleTimeout(t *testing.T) {
	addr, _ := serve(t, func(cfg *config.Config) {
		cfg.NET.ReadTimeout = 100 * time.Millisecond
	})

	t.Run("idle", func(t *testing.T) {
		_, reader := dial(t, addr)
		requireClosed(t, reader)
	})

	t.Run("partial request", func(t *testing.T) {
		conn, reader := dial(t, addr)
		_, err := conn.Write([]byte("GET / HTTP/1.1\r\nHo"))
		require.NoError(t, err)
		resp, _ := readResponse(t, reader)
		require.Equal(t, 408, resp.StatusCode)
		requireClosed(t, reader)
	})
}

func TestCGIChildIsGone(t *testing.T) {
	addr, root := serve(t, nil)

	conn, reader := dial(t, addr)
	resp, _ := roundTrip(t, conn, reader, "GET /cgi/sleep.sh HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Equal(t, 504, resp.StatusCode)

	raw, err := os.ReadFile(filepath.Join(root, "cgi", "pid"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return unix.Kill(pid, 0) == unix.ESRCH
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCGIStreaming(t *testing.T) {
	addr, root := serve(t, func(cfg *config.Config) {
		cfg.CGI.Timeout = 10 * time.Second
	})
	marker := filepath.Join(root, "stream", "started")

	t.Run("script starts before the body ends", func(t *testing.T) {
		defer os.Remove(marker)

		conn, reader := dial(t, addr)
		_, err := conn.Write([]byte("POST /stream/mark.sh HTTP/1.1\r\nHost: x\r\n" +
			"Transfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n"))
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			_, err := os.Stat(marker)
			return err == nil
		}, 2*time.Second, 10*time.Millisecond)

		resp, body := roundTrip(t, conn, reader, "6\r\n world\r\n0\r\n\r\n")
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, "hello world", body)

		// the connection stays usable
		resp, body = roundTrip(t, conn, reader, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, "<h1>hello</h1>", body)
	})

	t.Run("content-length body", func(t *testing.T) {
		defer os.Remove(marker)

		conn, reader := dial(t, addr)
		_, err := conn.Write([]byte("POST /stream/mark.sh HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\n\r\nhello"))
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			_, err := os.Stat(marker)
			return err == nil
		}, 2*time.Second, 10*time.Millisecond)

		resp, body := roundTrip(t, conn, reader, "world")
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, "helloworld", body)
	})

	t.Run("output interleaves with delayed input", func(t *testing.T) {
		// both directions exceed the pipe buffer, so neither side can be drained at once
		payload := strings.Repeat("0123456789abcdef", 16*1024)
		conn, reader := dial(t, addr)
		resp, body := roundTrip(t, conn, reader, "POST /stream/lazy.sh HTTP/1.1\r\nHost: x\r\n"+
			"Content-Length: "+strconv.Itoa(len(payload))+"\r\n\r\n"+payload)
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, len("start\n")+len(payload), len(body))
		require.Equal(t, "start\n"+payload, body)
	})

	t.Run("chunked input larger than the pipe", func(t *testing.T) {
		part := strings.Repeat("x", 8*1024)
		var raw strings.Builder
		raw.WriteString("POST /stream/lazy.sh HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n")
		for range 32 {
			raw.WriteString(strconv.FormatInt(int64(len(part)), 16) + "\r\n" + part + "\r\n")
		}
		raw.WriteString("0\r\n\r\n")

		conn, reader := dial(t, addr)
		resp, body := roundTrip(t, conn, reader, raw.String())
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, "start\n"+strings.Repeat(part, 32), body)
	})

	t.Run("script done before the body", func(t *testing.T) {
		conn, reader := dial(t, addr)
		resp, _ := roundTrip(t, conn, reader, "POST /cgi/fail.sh HTTP/1.1\r\nHost: x\r\n"+
			"Content-Length: 100\r\n\r\nonly a part")
		require.Equal(t, 502, resp.StatusCode)
		require.Equal(t, "close", resp.Header.Get("Connection"))
		requireClosed(t, reader)
	})
}

func TestSlowReader(t *testing.T) {
	addr, root := serve(t, func(cfg *config.Config) {
		cfg.NET.WriteBufferSize = 4096
	})

	// way larger than the socket buffers on both sides
	content := strings.Repeat("abcdefghijklmnopqrstuvwxyz012345", 512*1024)
	writeFile(t, filepath.Join(root, "large.txt"), content)

	conn, reader := dial(t, addr)
	require.NoError(t, conn.(*net.TCPConn).SetReadBuffer(4096))
	_, err := conn.Write([]byte("GET /large.txt HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	// the stalled connection doesn't block others
	time.Sleep(100 * time.Millisecond)
	other, otherReader := dial(t, addr)
	resp, body := roundTrip(t, other, otherReader, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "<h1>hello</h1>", body)

	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	resp, body = readResponse(t, reader)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, strconv.Itoa(len(content)), resp.Header.Get("Content-Length"))
	require.Equal(t, len(content), len(body))
	require.Equal(t, content, body)
}
