// Package handler implements the synchronous request handlers. Each of them takes
// the routing decision as is, never re-deriving it.
package handler

import (
	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/router"
)

// Serve runs the handler of the route. Errors are rendered as error pages. CGI routes
// are served by the connection asynchronously, so they must never get here.
func Serve(request *http.Request, route router.Route, response *http.Response) *http.Response {
	var err error

	switch route.Kind {
	case router.Return:
		response = Return(route, response)
	case router.Static:
		response, err = Static(route, response)
	case router.Upload:
		response, err = Upload(request, route, response)
	case router.Delete:
		response, err = Delete(route, response)
	case router.Error:
		err = route.Err
	default:
		panic("BUG: no synchronous handler for " + route.Kind.String())
	}

	if err != nil {
		return Error(request, route.Location, err, response)
	}

	return response
}
