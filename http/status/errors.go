package status

import "errors"

type HTTPError struct {
	Message string
	Code    Code
}

func NewError(code Code, message string) error {
	return HTTPError{
		Code:    code,
		Message: message,
	}
}

func (h HTTPError) Error() string {
	return h.Message
}

// CodeOf extracts the status code out of the error. Errors not being HTTPError
// are considered internal ones.
func CodeOf(err error) Code {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}

	return InternalServerError
}

var (
	ErrBadRequest           = NewError(BadRequest, "bad request")
	ErrURIDecoding          = NewError(BadRequest, "invalid urlencoded sequence")
	ErrBadChunk             = NewError(BadRequest, "malformed chunk-encoded data")
	ErrBadContentLength     = NewError(BadRequest, "malformed or conflicting Content-Length")
	ErrAmbiguousFraming     = NewError(BadRequest, "both Content-Length and Transfer-Encoding are present")
	ErrMissingHost          = NewError(BadRequest, "missing or repeated Host header")
	ErrBadHeader            = NewError(BadRequest, "malformed header field")
	ErrNotFound             = NewError(NotFound, "not found")
	ErrForbidden            = NewError(Forbidden, "forbidden")
	ErrConflict             = NewError(Conflict, "conflict")
	ErrMethodNotAllowed     = NewError(MethodNotAllowed, "method not allowed")
	ErrRequestTimeout       = NewError(RequestTimeout, "request timeout")
	ErrMisdirectedRequest   = NewError(MisdirectedRequest, "no server is listening on the address")
	ErrBodyTooLarge         = NewError(RequestEntityTooLarge, "request body is too large")
	ErrURITooLong           = NewError(RequestURITooLong, "request URI too long")
	ErrHeaderFieldsTooLarge = NewError(RequestHeaderFieldsTooLarge, "too large headers section")
	ErrTooManyHeaders       = NewError(RequestHeaderFieldsTooLarge, "too many headers")
	ErrInternalServerError  = NewError(InternalServerError, "internal server error")
	ErrMethodNotImplemented = NewError(NotImplemented, "request method is not supported")
	ErrUnsupportedEncoding  = NewError(NotImplemented, "transfer coding is not supported")
	ErrBadGateway           = NewError(BadGateway, "bad gateway")
	ErrGatewayTimeout       = NewError(GatewayTimeout, "gateway timeout")
	ErrUnsupportedProtocol  = NewError(HTTPVersionNotSupported, "HTTP version not supported")
)
