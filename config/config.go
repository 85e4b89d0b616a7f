package config

import (
	"time"
)

type (
	HeadersNumber struct {
		Default, Maximal int
	}

	URIRequestLineSize struct {
		Default, Maximal int
	}
)

type (
	URI struct {
		// RequestLineSize limits the request line. The default value is the initial capacity
		// of the buffer storing it among calls, the maximal one results in 414 URI Too Long
		// being exceeded.
		RequestLineSize URIRequestLineSize
	}

	Headers struct {
		// Number is responsible for headers storage size.
		// Default value is an initial capacity of headers storage.
		// Maximal value is maximum number of headers allowed to be presented
		Number HeadersNumber
		// Space limits the amount of memory occupied by request headers, including the
		// request line.
		Space int
		// Default headers are headers to be included into every response implicitly, unless
		// explicitly overridden.
		Default map[string]string `test:"nullable"`
	}

	Body struct {
		// MaxSize is the fallback for client_max_body_size, applied to every location not
		// setting it explicitly.
		MaxSize int64
		// BufferPrealloc is the initial capacity of the buffer storing a body whose length
		// isn't known in advance (chunked transfer encoding).
		BufferPrealloc int
	}

	NET struct {
		// ReadBufferSize is a size of buffer in bytes which will be used to read from
		// socket. The buffer is shared by all the connections.
		ReadBufferSize int
		// WriteBufferSize is the maximal size of a single chunk pulled out of a response
		// body at a time. The next one is pulled only after the previous one is written
		// completely, so it also bounds the outbound queue of a connection.
		WriteBufferSize int
		// ReadTimeout controls the maximal lifetime of IDLE connections. If no data was
		// received or sent in this period of time, it'll be closed.
		ReadTimeout time.Duration
		// PollInterval is the upper bound of a single readiness wait. Idle connections and
		// CGI deadlines are checked at least that often.
		PollInterval time.Duration
		// MaxEvents is the number of readiness events collected by a single wait.
		MaxEvents int
		// Backlog is passed to listen(2).
		Backlog int
		// AcceptBurst limits how many connections are accepted on a single readiness event.
		AcceptBurst int
		// SmallBody limits how big must an in-memory response body be in order to be
		// compressed, if the client accepts gzip.
		SmallBody int
	}

	CGI struct {
		// Timeout is the wall-clock deadline of a single CGI execution. Children exceeding
		// it are killed and the client gets 504 Gateway Timeout.
		Timeout time.Duration
		// MaxOutputSize limits the whole output of a script. Exceeding it results in
		// 502 Bad Gateway.
		MaxOutputSize int
		// MaxHeaderSize limits the header section of the script's output.
		MaxHeaderSize int
		// Software is passed in SERVER_SOFTWARE.
		Software string
	}
)

// Config holds settings used across various parts of the server, mainly restrictions and
// limitations.
//
// You must ALWAYS modify defaults (returned via Default()) and NEVER try to initialize the
// config manually, because most likely this will result in ambiguous errors.
type Config struct {
	URI     URI
	Headers Headers
	Body    Body
	NET     NET
	CGI     CGI
}

// Default returns default config. Those are initially well-balanced, however maximal defaults
// are pretty permitting.
func Default() *Config {
	return &Config{
		URI: URI{
			RequestLineSize: URIRequestLineSize{
				Default: 1024,
				// most web-entities limit it to 4-8kb.
				Maximal: 8 * 1024,
			},
		},
		Headers: Headers{
			Number: HeadersNumber{
				Default: 10,
				Maximal: 100,
			},
			Space:   32 * 1024,
			Default: make(map[string]string),
		},
		Body: Body{
			MaxSize:        1024 * 1024, // 1 megabyte
			BufferPrealloc: 1024,
		},
		NET: NET{
			ReadBufferSize:  8 * 1024,
			WriteBufferSize: 64 * 1024,
			ReadTimeout:     60 * time.Second,
			PollInterval:    time.Second,
			MaxEvents:       256,
			Backlog:         511,
			AcceptBurst:     64,
			SmallBody:       1024,
		},
		CGI: CGI{
			Timeout:       30 * time.Second,
			MaxOutputSize: 16 * 1024 * 1024,
			MaxHeaderSize: 8 * 1024,
			Software:      "serverx/1.0",
		},
	}
}
