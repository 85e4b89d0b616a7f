package config

import (
	"net/netip"
	"strings"

	"github.com/42ship/serverx/http/method"
	"github.com/42ship/serverx/http/status"
)

// Return is a fixed response. 3xx codes redirect to the Target, others send it as a
// plain-text body.
type Return struct {
	Code   int    `json:"code"`
	Target string `json:"target"`
}

// Block holds the settings shared by servers and locations. Unset values of a
// location are inherited from its server.
type Block struct {
	// Root is prepended to the whole request path.
	Root  string   `json:"root"`
	Index []string `json:"index"`
	// Methods lists allowed methods. HEAD is implied by GET.
	Methods []string `json:"methods"`
	// ClientMaxBodySize limits request bodies, in bytes.
	ClientMaxBodySize *int64            `json:"client_max_body_size"`
	ErrorPages        map[string]string `json:"error_pages"`
	Autoindex         *bool             `json:"autoindex"`
}

type Location struct {
	Block
	Path string `json:"path"`
	// Alias replaces the matched location prefix, in contrast to Root.
	Alias string `json:"alias"`
	// CGI maps file extensions onto interpreters. An empty interpreter means the script
	// is executed directly.
	CGI       map[string]string `json:"cgi"`
	Return    *Return           `json:"return"`
	UploadDir string            `json:"upload_dir"`

	// the following are computed by Finalize.
	Allowed     method.Set             `json:"-"`
	MaxBodySize int64                  `json:"-"`
	AutoIndex   bool                   `json:"-"`
	Pages       map[status.Code]string `json:"-"`
}

type Server struct {
	Block
	// Listen is either a port, or host:port. A missing host means all the interfaces.
	Listen      string      `json:"listen"`
	ServerNames []string    `json:"server_name"`
	Locations   []*Location `json:"locations"`

	// Addr is the parsed Listen.
	Addr netip.AddrPort `json:"-"`
	// Fallback serves requests matching no location.
	Fallback *Location `json:"-"`
}

// Tree is the whole configuration, loaded once and never mutated afterward.
type Tree struct {
	Servers []*Server `json:"servers"`
}

// Addrs returns unique listen addresses in order of appearance.
func (t *Tree) Addrs() []netip.AddrPort {
	var addrs []netip.AddrPort
	for _, srv := range t.Servers {
		seen := false
		for _, addr := range addrs {
			if addr == srv.Addr {
				seen = true
				break
			}
		}

		if !seen {
			addrs = append(addrs, srv.Addr)
		}
	}

	return addrs
}

// Name returns the primary name of the server, used in SERVER_NAME.
func (s *Server) Name() string {
	if len(s.ServerNames) > 0 {
		return s.ServerNames[0]
	}

	return s.Addr.Addr().String()
}

// CGIInterpreter returns the interpreter for the file, and whether the file is a CGI script
// at all. The longest matching extension wins, so .cgi.py takes precedence over .py.
func (l *Location) CGIInterpreter(filename string) (interpreter string, ok bool) {
	longest := 0
	for ext, interp := range l.CGI {
		if len(ext) > longest && strings.HasSuffix(filename, ext) {
			interpreter, longest = interp, len(ext)
		}
	}

	return interpreter, longest > 0
}

// ErrorPage returns the path to the page overriding the code, if any.
func (l *Location) ErrorPage(code status.Code) (string, bool) {
	page, ok := l.Pages[code]
	return page, ok
}
