package handler

import (
	"os"
	"strings"

	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/status"
	"github.com/42ship/serverx/router"
)

// Static serves the file, or, if it's a directory, its index file. Directories without
// index files are listed if autoindex is on, and forbidden otherwise.
func Static(route router.Route, response *http.Response) (*http.Response, error) {
	if len(route.Filename) == 0 {
		return response, status.ErrNotFound
	}

	stat, err := os.Stat(route.Filename)
	if err != nil {
		return response, http.FSError(err)
	}

	if !stat.IsDir() {
		if strings.HasSuffix(route.Filename, "/") {
			return response, status.ErrNotFound
		}

		return response.TryFile(route.Filename)
	}

	if !strings.HasSuffix(route.Path, "/") {
		return Redirect(response, status.MovedPermanently, escapePath(route.Path+"/")), nil
	}

	dir := strings.TrimSuffix(route.Filename, "/") + "/"
	for _, index := range route.Location.Index {
		if resp, err := response.TryFile(dir + index); err == nil {
			return resp, nil
		}
	}

	if route.Location.AutoIndex {
		return Listing(response, dir, route.Path)
	}

	return response, status.ErrForbidden
}
