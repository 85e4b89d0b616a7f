package cgi

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/mime"
	"github.com/42ship/serverx/http/status"
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
)

// headerEnd returns the length of the header section and where the body begins. Both
// CRLF and bare LF line endings are recognized, even mixed ones.
func headerEnd(output []byte) (end, body int, found bool) {
	for i := 0; i < len(output); i++ {
		if output[i] != '\n' {
			continue
		}

		switch {
		case i+1 < len(output) && output[i+1] == '\n':
			return i + 1, i + 2, true
		case i+2 < len(output) && output[i+1] == '\r' && output[i+2] == '\n':
			return i + 1, i + 3, true
		}
	}

	return 0, 0, false
}

// ParseResponse turns the script's output into the response. The body is kept without
// copying. Absence of a header section, malformed header lines or a header section
// exceeding maxHeaderSize result in status.ErrBadGateway.
func ParseResponse(output []byte, maxHeaderSize int, response *http.Response) error {
	end, bodyOffset, found := headerEnd(output)
	if !found || end > maxHeaderSize {
		return status.ErrBadGateway
	}

	var (
		code        status.Code
		hasLocation bool
		hasType     bool
	)

	lines := strings.Split(uf.B2S(output[:end]), "\n")
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if len(line) == 0 {
			continue
		}

		if i == 0 && strings.HasPrefix(line, "HTTP/") {
			// non-parsed-header style status line
			_, rest, _ := strings.Cut(line, " ")
			c, ok := parseStatus(rest)
			if !ok {
				return status.ErrBadGateway
			}

			code = c
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok || len(key) == 0 || strings.ContainsAny(key, " \t") {
			return status.ErrBadGateway
		}

		value = strings.TrimSpace(value)
		switch {
		case strcomp.EqualFold(key, "status"):
			c, ok := parseStatus(value)
			if !ok {
				return status.ErrBadGateway
			}

			code = c
		case strcomp.EqualFold(key, "location"):
			hasLocation = true
			response.Header("Location", value)
		case strcomp.EqualFold(key, "content-type"):
			hasType = true
			response.ContentType(value)
		case strcomp.EqualFold(key, "content-length"),
			strcomp.EqualFold(key, "transfer-encoding"),
			strcomp.EqualFold(key, "connection"):
			// framing is up to the server
		default:
			response.Header(key, value)
		}
	}

	if code == 0 {
		code = status.OK
		if hasLocation {
			code = status.Found
		}
	}

	if !hasType && !hasLocation {
		response.ContentType(mime.HTML)
	}

	body := output[bodyOffset:]
	if len(body) == 0 {
		body = nil
	}

	response.Code(code).Body(http.NewCGIBody(bytes.Clone(body)))
	return nil
}

// parseStatus parses "NNN reason-phrase", where the phrase is optional.
func parseStatus(value string) (status.Code, bool) {
	digits, _, _ := strings.Cut(strings.TrimSpace(value), " ")
	if len(digits) != 3 {
		return 0, false
	}

	code, err := strconv.Atoi(digits)
	if err != nil || !status.IsValid(code) {
		return 0, false
	}

	return status.Code(code), true
}
