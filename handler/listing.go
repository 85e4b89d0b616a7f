package handler

import (
	"html"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/mime"
)

const listingTimeFormat = "02-Jan-2006 15:04"

// Listing renders the directory entries as an HTML page. Directories go first, both
// groups are sorted by name.
func Listing(response *http.Response, dir, urlPath string) (*http.Response, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return response, http.FSError(err)
	}

	dirs := make([]os.DirEntry, 0, len(entries))
	files := make([]os.DirEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}

	title := html.EscapeString("Index of " + urlPath)

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head><title>")
	b.WriteString(title)
	b.WriteString("</title></head>\n<body>\n<h1>")
	b.WriteString(title)
	b.WriteString("</h1>\n<hr>\n<table>\n<tr><th>Name</th><th>Last modified</th><th>Size</th></tr>\n")
	if urlPath != "/" {
		b.WriteString("<tr><td><a href=\"../\">../</a></td><td></td><td>-</td></tr>\n")
	}

	for _, group := range [][]os.DirEntry{dirs, files} {
		for _, entry := range group {
			info, err := entry.Info()
			if err != nil {
				// removed in the meantime
				continue
			}

			name, size := entry.Name(), strconv.FormatInt(info.Size(), 10)
			if entry.IsDir() {
				name, size = name+"/", "-"
			}

			b.WriteString("<tr><td><a href=\"")
			b.WriteString((&url.URL{Path: name}).EscapedPath())
			b.WriteString("\">")
			b.WriteString(html.EscapeString(name))
			b.WriteString("</a></td><td>")
			b.WriteString(info.ModTime().UTC().Format(listingTimeFormat))
			b.WriteString("</td><td>")
			b.WriteString(size)
			b.WriteString("</td></tr>\n")
		}
	}

	b.WriteString("</table>\n<hr>\n</body>\n</html>\n")

	return response.
		ContentType(mime.HTML + ";charset=utf-8").
		String(b.String()), nil
}
