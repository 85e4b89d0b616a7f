package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/42ship/serverx/config"
	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/mime"
	"github.com/42ship/serverx/http/status"
	"github.com/indigo-web/utils/strcomp"
)

// pages caches generated error pages of known codes.
var pages = func() map[status.Code]string {
	m := make(map[status.Code]string, len(status.KnownCodes))
	for _, code := range status.KnownCodes {
		if code >= 400 {
			m[code] = renderPage(code)
		}
	}

	return m
}()

func renderPage(code status.Code) string {
	line := strconv.Itoa(int(code)) + " " + status.Text(code)
	return "<!DOCTYPE html>\n<html>\n<head><title>" + line + "</title></head>\n" +
		"<body>\n<center><h1>" + line + "</h1></center>\n<hr>\n</body>\n</html>\n"
}

type errorModel struct {
	Code    status.Code `json:"code"`
	Message string      `json:"message"`
}

// Error renders the error response. The location's error page is preferred, if any and
// readable. Otherwise, the body is a generated HTML page or, if the client prefers it, JSON.
// The loc may be nil, e.g. when the request was rejected before being routed.
func Error(request *http.Request, loc *config.Location, err error, response *http.Response) *http.Response {
	code := status.CodeOf(err)
	response.Clear().Code(code)

	if code == status.MethodNotAllowed && loc != nil {
		response.Header("Allow", loc.Allowed.Allow())
	}

	if loc != nil {
		if page, ok := loc.ErrorPage(code); ok {
			if resp, err := response.TryFile(page); err == nil {
				return resp
			}
		}
	}

	if request != nil && prefersJSON(request.Headers.Value("accept")) {
		message := status.Text(code)
		var httpErr status.HTTPError
		if errors.As(err, &httpErr) {
			message = httpErr.Message
		}

		return response.JSON(errorModel{
			Code:    code,
			Message: message,
		})
	}

	page, ok := pages[code]
	if !ok {
		page = renderPage(code)
	}

	return response.
		ContentType(mime.HTML + ";charset=utf-8").
		String(page)
}

// prefersJSON reports whether application/json is weighted higher than text/html in the
// Accept header value. Equal weights are decided by the order of appearance.
func prefersJSON(accept string) bool {
	jsonQ, htmlQ := -1.0, -1.0
	jsonFirst := false
	for accept != "" {
		var item string
		item, accept, _ = strings.Cut(accept, ",")
		media, params, _ := strings.Cut(item, ";")
		q := 1.0
		for params != "" {
			var param string
			param, params, _ = strings.Cut(params, ";")
			key, value, _ := strings.Cut(param, "=")
			if strcomp.EqualFold(strings.TrimSpace(key), "q") {
				if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
					q = parsed
				}
			}
		}

		switch media = strings.TrimSpace(media); {
		case strcomp.EqualFold(media, mime.JSON) && jsonQ < 0:
			jsonQ = q
		case strcomp.EqualFold(media, mime.HTML) && htmlQ < 0:
			htmlQ = q
			jsonFirst = jsonQ >= 0
		}
	}

	return jsonQ > 0 && (jsonQ > htmlQ || jsonQ == htmlQ && jsonFirst)
}
