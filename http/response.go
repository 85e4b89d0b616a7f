package http

import (
	"os"

	"github.com/42ship/serverx/http/mime"
	"github.com/42ship/serverx/http/status"
	"github.com/42ship/serverx/kv"
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
	json "github.com/json-iterator/go"
)

// why 7? There's no theory behind this number nor researches.
const preallocRespHeaders = 7

// Fields are the values filled by the Response builder.
type Fields struct {
	Code        status.Code
	ContentType string
	Headers     Headers
	Body        Body
}

type Response struct {
	fields *Fields
}

// NewResponse returns a new instance of the Response object with status code set to 200 OK,
// pre-allocated space for response headers and an empty body.
func NewResponse() *Response {
	return &Response{
		&Fields{
			Code:    status.OK,
			Headers: kv.NewPrealloc(preallocRespHeaders),
			Body:    Empty,
		},
	}
}

// Code sets a Response code.
func (r *Response) Code(code status.Code) *Response {
	r.fields.Code = code
	return r
}

// ContentType sets a custom Content-Type header value.
func (r *Response) ContentType(value string) *Response {
	r.fields.ContentType = value
	return r
}

// Header sets header values to a key. In case it already exists the value will
// be appended.
func (r *Response) Header(key string, values ...string) *Response {
	if strcomp.EqualFold(key, "content-type") {
		return r.ContentType(values[0])
	}

	for _, value := range values {
		r.fields.Headers.Add(key, value)
	}

	return r
}

// String sets the response's body to the passed string
func (r *Response) String(body string) *Response {
	return r.Bytes(uf.S2B(body))
}

// Bytes sets the response's body to passed slice WITHOUT COPYING. Changing
// the passed slice later will affect the response by itself
func (r *Response) Bytes(body []byte) *Response {
	return r.Body(NewMemoryBody(body))
}

// Body replaces the body of the response. The previous one is closed.
func (r *Response) Body(body Body) *Response {
	_ = r.fields.Body.Close()
	r.fields.Body = body
	return r
}

// TryFile tries to open a file for reading and returns a new Response with the file body.
func (r *Response) TryFile(path string) (*Response, error) {
	fd, err := os.Open(path)
	if err != nil {
		return r, FSError(err)
	}

	stat, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return r, status.ErrInternalServerError
	}

	if !stat.Mode().IsRegular() {
		_ = fd.Close()
		return r, status.ErrNotFound
	}

	return r.
		ContentType(mime.ByPath(path)).
		Body(NewFileBody(fd, stat.Size())), nil
}

// JSON serializes the model into the body.
func (r *Response) JSON(model any) *Response {
	data, err := json.ConfigCompatibleWithStandardLibrary.Marshal(model)
	if err != nil {
		return r.Error(err)
	}

	return r.ContentType(mime.JSON).Bytes(data)
}

// Error sets the code carried by the error, or 500 Internal Server Error otherwise, and
// puts the error message as a plain-text body.
func (r *Response) Error(err error) *Response {
	if err == nil {
		return r
	}

	return r.
		Code(status.CodeOf(err)).
		ContentType(mime.Plain).
		String(err.Error())
}

// Expose returns a struct with values, filled by builder. Used mostly in internal purposes
func (r *Response) Expose() *Fields {
	return r.fields
}

// Clear discards everything was done with Response object before, closing the body.
func (r *Response) Clear() *Response {
	_ = r.fields.Body.Close()
	r.fields.Code = status.OK
	r.fields.ContentType = ""
	r.fields.Headers.Clear()
	r.fields.Body = Empty
	return r
}
