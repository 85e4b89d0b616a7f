package router

import (
	"net/netip"
	"path"
	"strings"

	"github.com/42ship/serverx/config"
	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/method"
	"github.com/42ship/serverx/http/status"
)

// Kind tells which handler must serve the request.
type Kind uint8

const (
	// Error means the request is refused by the routing itself, e.g. due to a method
	// not being allowed. Route.Err holds the reason.
	Error Kind = iota
	Return
	CGI
	Delete
	Upload
	Static
)

func (k Kind) String() string {
	switch k {
	case Error:
		return "error"
	case Return:
		return "return"
	case CGI:
		return "cgi"
	case Delete:
		return "delete"
	case Upload:
		return "upload"
	case Static:
		return "static"
	default:
		return "unknown"
	}
}

// Route is the routing decision. Handlers never re-derive any of it.
type Route struct {
	Kind     Kind
	Server   *config.Server
	Location *config.Location
	// Path is the cleaned request path. A trailing slash is preserved.
	Path string
	// Filename is the resolved filesystem path. For CGI routes it is the script, for
	// upload and delete routes it lies within the upload directory. Empty if the
	// location has neither a root nor an alias.
	Filename string
	// ScriptName and PathInfo split the Path for CGI routes.
	ScriptName  string
	PathInfo    string
	Interpreter string
	// Err is set for Error routes.
	Err error
}

// Router resolves requests into routes. It's read-only once built, as the configuration
// tree is.
type Router struct {
	servers map[netip.AddrPort][]*config.Server
}

func New(tree *config.Tree) *Router {
	servers := make(map[netip.AddrPort][]*config.Server)
	for _, srv := range tree.Servers {
		servers[srv.Addr] = append(servers[srv.Addr], srv)
	}

	return &Router{servers: servers}
}

// Server selects the virtual server by the Host header among those listening on the
// listen address. The first one serves as the default. Nil is returned only if no
// server listens on the address at all.
func (r *Router) Server(listen netip.AddrPort, host string) *config.Server {
	candidates := r.servers[listen]
	if len(candidates) == 0 {
		return nil
	}

	if host = normalizeHost(host); len(host) > 0 {
		for _, srv := range candidates {
			for _, name := range srv.ServerNames {
				if name == host {
					return srv
				}
			}
		}
	}

	return candidates[0]
}

// Location returns the location with the longest prefix matching the path. Among prefixes
// of equal length the first one wins. The server's fallback is returned if nothing matches.
func Location(srv *config.Server, reqPath string) *config.Location {
	var best *config.Location
	for _, loc := range srv.Locations {
		if matches(loc.Path, reqPath) && (best == nil || len(loc.Path) > len(best.Path)) {
			best = loc
		}
	}

	if best == nil {
		return srv.Fallback
	}

	return best
}

// matches reports whether the prefix matches the path on a segment boundary: /img matches
// /img and /img/cat.png, but not /imgs.
func matches(prefix, reqPath string) bool {
	if !strings.HasPrefix(reqPath, prefix) {
		return false
	}

	return len(reqPath) == len(prefix) ||
		prefix[len(prefix)-1] == '/' ||
		reqPath[len(prefix)] == '/'
}

// Clean normalizes the path, resolving dot-segments without ever escaping the root. The
// trailing slash is kept.
func Clean(reqPath string) string {
	cleaned := path.Clean("/" + reqPath)
	if cleaned != "/" && strings.HasSuffix(reqPath, "/") {
		cleaned += "/"
	}

	return cleaned
}

// Route makes the routing decision for the request, accepted on the listen address.
func (r *Router) Route(request *http.Request, listen netip.AddrPort) Route {
	srv := r.Server(listen, request.Host)
	if srv == nil {
		return Route{Kind: Error, Err: status.ErrMisdirectedRequest}
	}

	reqPath := Clean(request.Path)
	loc := Location(srv, reqPath)
	route := Route{
		Server:   srv,
		Location: loc,
		Path:     reqPath,
		Filename: resolve(loc, reqPath),
	}

	if request.Method == method.Unknown {
		route.Err = status.ErrMethodNotImplemented
		return route
	}

	if !loc.Allowed.Has(request.Method) {
		route.Err = status.ErrMethodNotAllowed
		return route
	}

	if loc.Return != nil {
		route.Kind = Return
		return route
	}

	if script, pathInfo, interpreter, ok := splitScript(loc, reqPath); ok {
		route.Kind = CGI
		route.ScriptName = script
		route.PathInfo = pathInfo
		route.Interpreter = interpreter
		route.Filename = resolve(loc, script)
		return route
	}

	switch request.Method {
	case method.DELETE, method.POST, method.PUT:
		if len(loc.UploadDir) == 0 {
			route.Err = status.ErrMethodNotAllowed
			return route
		}

		route.Kind = Upload
		if request.Method == method.DELETE {
			route.Kind = Delete
		}

		rel := strings.TrimPrefix(reqPath, strings.TrimSuffix(loc.Path, "/"))
		route.Filename = path.Join(loc.UploadDir, rel)
		if strings.HasSuffix(rel, "/") || len(rel) == 0 {
			route.Filename += "/"
		}
	default:
		route.Kind = Static
	}

	return route
}

// resolve maps the request path onto the filesystem. Root is prepended to the whole
// path, whereas alias replaces the location prefix.
func resolve(loc *config.Location, reqPath string) string {
	if len(loc.Alias) > 0 {
		rel := strings.TrimPrefix(reqPath, strings.TrimSuffix(loc.Path, "/"))
		return strings.TrimSuffix(loc.Alias, "/") + "/" + strings.TrimPrefix(rel, "/")
	}

	if len(loc.Root) == 0 {
		return ""
	}

	return strings.TrimSuffix(loc.Root, "/") + reqPath
}

// splitScript finds the first path segment, named like a CGI script. Everything after it
// is the PATH_INFO.
func splitScript(loc *config.Location, reqPath string) (script, pathInfo, interpreter string, ok bool) {
	if len(loc.CGI) == 0 {
		return "", "", "", false
	}

	for i := 1; i <= len(reqPath); i++ {
		if i < len(reqPath) && reqPath[i] != '/' {
			continue
		}

		if interpreter, ok = loc.CGIInterpreter(reqPath[:i]); ok {
			return reqPath[:i], reqPath[i:], interpreter, true
		}
	}

	return "", "", "", false
}
