package handler

import (
	"net/url"

	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/mime"
	"github.com/42ship/serverx/http/status"
	"github.com/42ship/serverx/router"
)

// Redirect points the client to the target.
func Redirect(response *http.Response, code status.Code, target string) *http.Response {
	return response.
		Code(code).
		Header("Location", target)
}

// escapePath percent-encodes the decoded request path back, so it's safe to be put
// into a header.
func escapePath(path string) string {
	return (&url.URL{Path: path}).EscapedPath()
}

// Return sends the location's fixed response. 3xx codes redirect to the target, others
// carry it as a plain-text body.
func Return(route router.Route, response *http.Response) *http.Response {
	ret := route.Location.Return
	code := status.Code(ret.Code)
	if code >= 300 && code < 400 {
		return Redirect(response, code, ret.Target)
	}

	response.Code(code)
	if len(ret.Target) > 0 {
		response.ContentType(mime.Plain).String(ret.Target)
	}

	return response
}
