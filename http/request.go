package http

import (
	"net/netip"

	"github.com/42ship/serverx/http/method"
	"github.com/42ship/serverx/http/proto"
	"github.com/42ship/serverx/kv"
	"github.com/indigo-web/utils/strcomp"
)

type (
	Headers = *kv.Storage
	Header  = kv.Pair
)

// Request represents HTTP request
type Request struct {
	// Method is an enum representing the request method. Methods not supported by the server
	// are represented by method.Unknown, however their original token is kept in MethodName.
	Method     method.Method
	MethodName string
	// Target is the request-target exactly as it was received.
	Target string
	// Path is a decoded request path, always starting with a slash.
	Path string
	// Query is the raw query, without the leading question mark.
	Query string
	// Protocol is the enum of a protocol used for the request.
	Protocol proto.Proto
	// Headers holds non-normalized header pairs, even though lookup is case-insensitive. Values
	// are trimmed from the surrounding whitespaces.
	Headers Headers
	commonHeaders
	// Body is the whole request body, limited by the location's client_max_body_size. It's
	// completely received before any handler is called. CGI scripts are the exception: their
	// input is streamed, so the Body stays empty.
	Body []byte
	// Remote and Local are addresses of the peers.
	Remote, Local netip.AddrPort
}

func NewRequest(headersPrealloc int) *Request {
	return &Request{
		Method:   method.Unknown,
		Protocol: proto.HTTP11,
		Headers:  kv.NewPrealloc(headersPrealloc),
	}
}

// KeepAlive tells whether the connection may be reused after this request. HTTP/1.1 connections
// are persistent unless told otherwise, and HTTP/1.0 ones only on explicit demand.
func (r *Request) KeepAlive() bool {
	switch r.Protocol {
	case proto.HTTP11:
		return !strcomp.EqualFold(r.Connection, "close")
	case proto.HTTP10:
		return strcomp.EqualFold(r.Connection, "keep-alive")
	default:
		return false
	}
}

// HasBody tells whether the request carries a message body.
func (r *Request) HasBody() bool {
	return r.Chunked || r.ContentLength > 0
}

// Reset the request. The body buffer is kept for reuse.
func (r *Request) Reset() {
	r.Method = method.Unknown
	r.MethodName = ""
	r.Target = ""
	r.Path = ""
	r.Query = ""
	r.Protocol = proto.HTTP11
	r.Headers.Clear()
	r.commonHeaders = commonHeaders{}
	r.Body = r.Body[:0]
}

type commonHeaders struct {
	// Host is the Host header value, mandatory for HTTP/1.1.
	Host string
	// ContentLength obtains the value from Content-Length header. It holds the value of 0
	// if isn't presented.
	ContentLength int64
	// ContentType obtains Content-Type header value
	ContentType string
	// Connection holds the Connection header value. It isn't normalized, so can be anything
	// and in any case. So in order to compare it, highly recommended to do it case-insensibly
	Connection string
	// Chunked is set if the body is transferred using the chunked coding.
	Chunked bool
	// AcceptsGzip is set if gzip is listed in the Accept-Encoding.
	AcceptsGzip bool
}
