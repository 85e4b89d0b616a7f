package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/42ship/serverx/http/method"
	"github.com/42ship/serverx/http/status"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.Config{
	EscapeHTML:             true,
	DisallowUnknownFields:  true,
	ValidateJsonRawMessage: true,
}.Froze()

// Load reads and parses the configuration file. Settings not presented in the file
// are taken from cfg.
func Load(path string, cfg *Config) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	tree, err := Parse(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return tree, nil
}

// Parse decodes, validates and finalizes the configuration tree.
func Parse(data []byte, cfg *Config) (*Tree, error) {
	tree := new(Tree)
	if err := json.Unmarshal(data, tree); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if len(tree.Servers) == 0 {
		return nil, fmt.Errorf("no servers defined")
	}

	for i, srv := range tree.Servers {
		if err := finalizeServer(srv, cfg); err != nil {
			return nil, fmt.Errorf("server #%d (%s): %w", i, srv.Listen, err)
		}
	}

	return tree, nil
}

func finalizeServer(srv *Server, cfg *Config) (err error) {
	if srv.Addr, err = ParseListen(srv.Listen); err != nil {
		return err
	}

	for i, name := range srv.ServerNames {
		srv.ServerNames[i] = strings.ToLower(name)
	}

	if srv.ClientMaxBodySize == nil {
		maxSize := cfg.Body.MaxSize
		srv.ClientMaxBodySize = &maxSize
	}

	seen := make(map[string]struct{}, len(srv.Locations))
	for _, loc := range srv.Locations {
		if !strings.HasPrefix(loc.Path, "/") {
			return fmt.Errorf("location path must start with a slash: %q", loc.Path)
		}

		if _, dup := seen[loc.Path]; dup {
			return fmt.Errorf("duplicate location: %s", loc.Path)
		}

		seen[loc.Path] = struct{}{}

		if err = finalizeLocation(loc, srv); err != nil {
			return fmt.Errorf("location %s: %w", loc.Path, err)
		}
	}

	srv.Fallback = &Location{Path: "/"}
	return finalizeLocation(srv.Fallback, srv)
}

func finalizeLocation(loc *Location, srv *Server) (err error) {
	if len(loc.Root) == 0 {
		loc.Root = srv.Root
	}

	if loc.Index == nil {
		loc.Index = srv.Index
	}

	if loc.Methods == nil {
		loc.Methods = srv.Methods
	}

	if loc.Allowed, err = parseMethods(loc.Methods); err != nil {
		return err
	}

	loc.MaxBodySize = *srv.ClientMaxBodySize
	if loc.ClientMaxBodySize != nil {
		loc.MaxBodySize = *loc.ClientMaxBodySize
	}

	if loc.MaxBodySize < 0 {
		return fmt.Errorf("negative client_max_body_size")
	}

	loc.AutoIndex = srv.Autoindex != nil && *srv.Autoindex
	if loc.Autoindex != nil {
		loc.AutoIndex = *loc.Autoindex
	}

	if loc.Return != nil {
		if loc.Return.Code == 0 {
			loc.Return.Code = int(status.Found)
		}

		if !status.IsValid(loc.Return.Code) {
			return fmt.Errorf("invalid return code: %d", loc.Return.Code)
		}

		if strings.ContainsFunc(loc.Return.Target, isControl) {
			return fmt.Errorf("control character in return target: %q", loc.Return.Target)
		}
	}

	for ext := range loc.CGI {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("cgi extension must start with a dot: %q", ext)
		}
	}

	loc.Pages = make(map[status.Code]string)
	if err = mergePages(loc.Pages, srv.ErrorPages, srv.Root); err != nil {
		return err
	}

	return mergePages(loc.Pages, loc.ErrorPages, loc.Root)
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}

func parseMethods(names []string) (method.Set, error) {
	if names == nil {
		return method.NewSet(method.List...), nil
	}

	var set method.Set
	for _, name := range names {
		m := method.Parse(strings.ToUpper(name))
		if m == method.Unknown {
			return 0, fmt.Errorf("unknown method: %s", name)
		}

		set = set.Add(m)
	}

	if set.Has(method.GET) {
		set = set.Add(method.HEAD)
	}

	return set, nil
}

func mergePages(dst map[status.Code]string, pages map[string]string, root string) error {
	for key, path := range pages {
		code, err := strconv.Atoi(key)
		if err != nil || code < 300 || code > 599 {
			return fmt.Errorf("invalid error page code: %q", key)
		}

		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}

		dst[status.Code(code)] = path
	}

	return nil
}

// ParseListen accepts "port", "host:port" and "*:port". localhost is resolved statically.
func ParseListen(listen string) (netip.AddrPort, error) {
	host, port, found := strings.Cut(listen, ":")
	if !found {
		host, port = "", listen
	}

	num, err := strconv.ParseUint(port, 10, 16)
	if err != nil || num == 0 {
		return netip.AddrPort{}, fmt.Errorf("invalid listen port: %q", listen)
	}

	var addr netip.Addr
	switch host {
	case "", "*", "0.0.0.0":
		addr = netip.IPv4Unspecified()
	case "localhost":
		addr = netip.AddrFrom4([4]byte{127, 0, 0, 1})
	default:
		if addr, err = netip.ParseAddr(host); err != nil || !addr.Is4() {
			return netip.AddrPort{}, fmt.Errorf("invalid listen address: %q", listen)
		}
	}

	return netip.AddrPortFrom(addr, uint16(num)), nil
}
