package mime

import (
	"path"
	"strings"
)

type MIME = string

const (
	OctetStream    MIME = "application/octet-stream"
	Plain          MIME = "text/plain"
	HTML           MIME = "text/html"
	XML            MIME = "text/xml"
	JSON           MIME = "application/json"
	PDF            MIME = "application/pdf"
	FormUrlencoded MIME = "application/x-www-form-urlencoded"
	Multipart      MIME = "multipart/form-data"
	ZIP            MIME = "application/zip"
	GZIP           MIME = "application/gzip"
	CSS            MIME = "text/css"
	GIF            MIME = "image/gif"
	JPEG           MIME = "image/jpeg"
	PNG            MIME = "image/png"
	SVG            MIME = "image/svg+xml"
	ICO            MIME = "image/x-icon"
	WEBP           MIME = "image/webp"
	MP4            MIME = "video/mp4"
	MPEG           MIME = "audio/mpeg"
	JS             MIME = "application/javascript"
	WASM           MIME = "application/wasm"
)

// Complies returns whether two MIMEs are compatible. Empty MIME is
// considered compatible with any other MIME
func Complies(mime MIME, with string) bool {
	// get rid of parameters if any
	with, _, _ = strings.Cut(with, ";")
	return len(with) == 0 || strings.TrimSpace(with) == mime
}

// ByPath guesses the MIME by the file extension, falling back to OctetStream.
// Textual types carry the utf-8 charset.
func ByPath(filename string) string {
	mime, found := Extension[strings.ToLower(path.Ext(filename))]
	if !found {
		return OctetStream
	}

	if charset, ok := DefaultCharset[mime]; ok {
		return mime + ";charset=" + charset
	}

	return mime
}

// Compressible reports whether the MIME is worth compressing.
func Compressible(mime string) bool {
	mime, _, _ = strings.Cut(mime, ";")
	return strings.HasPrefix(mime, "text/") || mime == JSON || mime == JS ||
		mime == XML || mime == SVG
}
