package handler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/method"
	"github.com/42ship/serverx/http/mime"
	"github.com/42ship/serverx/http/status"
	"github.com/42ship/serverx/router"
	"github.com/dchest/uniuri"
)

const uploadNameLen = 16

// Upload stores the request body into the upload directory. POST never overwrites
// existing files, PUT replaces them. A target naming a directory gets a generated
// file name.
func Upload(request *http.Request, route router.Route, response *http.Response) (*http.Response, error) {
	filename, urlPath := route.Filename, route.Path
	if strings.HasSuffix(filename, "/") {
		name := uniuri.NewLen(uploadNameLen)
		filename += name
		urlPath = strings.TrimSuffix(urlPath, "/") + "/" + name
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return response, http.FSError(err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if request.Method == method.PUT {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	_, statErr := os.Stat(filename)
	existed := statErr == nil

	file, err := os.OpenFile(filename, flags, 0o644)
	if err != nil {
		return response, http.FSError(err)
	}

	_, err = file.Write(request.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(filename)
		return response, http.FSError(err)
	}

	if existed {
		return response.Code(status.NoContent), nil
	}

	location := escapePath(urlPath)
	return response.
		Code(status.Created).
		Header("Location", location).
		ContentType(mime.Plain).
		String("created " + location + "\n"), nil
}

// Delete removes the file or the empty directory. The upload directory itself is
// never removed.
func Delete(route router.Route, response *http.Response) (*http.Response, error) {
	target := filepath.Clean(route.Filename)
	if target == filepath.Clean(route.Location.UploadDir) {
		return response, status.ErrForbidden
	}

	stat, err := os.Lstat(target)
	if err != nil {
		return response, http.FSError(err)
	}

	if strings.HasSuffix(route.Filename, "/") && !stat.IsDir() {
		return response, status.ErrNotFound
	}

	// non-empty directories result in ENOTEMPTY, thus 409 Conflict
	if err = os.Remove(target); err != nil {
		return response, http.FSError(err)
	}

	return response.Code(status.NoContent), nil
}
