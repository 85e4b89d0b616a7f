package cgi

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/42ship/serverx/http"
	"github.com/indigo-web/utils/strcomp"
)

// defaultPath is passed to scripts, as the server's own environment is never inherited.
const defaultPath = "/usr/local/bin:/usr/bin:/bin"

// Params are the request metadata, exposed to a script.
type Params struct {
	Request *http.Request
	// ScriptName is the URL path of the script, and ScriptFilename is where it's found.
	ScriptName     string
	ScriptFilename string
	// PathInfo is the rest of the URL path, following the ScriptName.
	PathInfo     string
	DocumentRoot string
	ServerName   string
	ServerPort   uint16
	Software     string
}

// Env builds the CGI/1.1 environment.
func Env(p Params) []string {
	request := p.Request
	env := make([]string, 0, 20+request.Headers.Len())
	add := func(key, value string) {
		env = append(env, key+"="+value)
	}

	add("GATEWAY_INTERFACE", "CGI/1.1")
	add("SERVER_SOFTWARE", p.Software)
	add("SERVER_PROTOCOL", strings.TrimSpace(request.Protocol.String()))
	add("SERVER_NAME", p.ServerName)
	add("SERVER_PORT", strconv.Itoa(int(p.ServerPort)))
	add("REQUEST_METHOD", request.MethodName)
	add("REQUEST_URI", request.Target)
	add("QUERY_STRING", request.Query)
	add("SCRIPT_NAME", p.ScriptName)
	add("SCRIPT_FILENAME", p.ScriptFilename)
	add("DOCUMENT_ROOT", p.DocumentRoot)
	add("PATH_INFO", p.PathInfo)
	if len(p.PathInfo) > 0 {
		add("PATH_TRANSLATED", filepath.Join(p.DocumentRoot, p.PathInfo))
	}

	add("REMOTE_ADDR", request.Remote.Addr().String())
	add("REMOTE_PORT", strconv.Itoa(int(request.Remote.Port())))
	add("REDIRECT_STATUS", "200")
	add("PATH", defaultPath)

	// the body is streamed, so the length of a chunked one isn't known in advance.
	// Scripts read it until EOF then.
	if request.HasBody() && !request.Chunked {
		add("CONTENT_LENGTH", strconv.FormatInt(request.ContentLength, 10))
	}

	if len(request.ContentType) > 0 {
		add("CONTENT_TYPE", request.ContentType)
	}

	seen := make(map[string]struct{}, request.Headers.Len())
	for key := range request.Headers.Pairs() {
		if strcomp.EqualFold(key, "content-type") || strcomp.EqualFold(key, "content-length") ||
			// credentials must not be exposed
			strcomp.EqualFold(key, "authorization") || strcomp.EqualFold(key, "proxy") {
			continue
		}

		name, ok := headerVariable(key)
		if !ok {
			continue
		}

		if _, dup := seen[name]; dup {
			continue
		}

		seen[name] = struct{}{}
		add(name, request.Headers.Joined(key))
	}

	return env
}

// headerVariable converts the header name into HTTP_* form, e.g. X-Forwarded-For turns
// into HTTP_X_FORWARDED_FOR. Names with characters beyond letters, digits and dashes are
// rejected.
func headerVariable(key string) (string, bool) {
	var b strings.Builder
	b.Grow(len("HTTP_") + len(key))
	b.WriteString("HTTP_")

	for i := 0; i < len(key); i++ {
		switch c := key[i]; {
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 'a' + 'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-':
			b.WriteByte('_')
		default:
			return "", false
		}
	}

	return b.String(), true
}
