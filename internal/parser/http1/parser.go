package http1

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/42ship/serverx/config"
	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/method"
	"github.com/42ship/serverx/http/proto"
	"github.com/42ship/serverx/http/status"
	"github.com/42ship/serverx/internal/parser"
	"github.com/42ship/serverx/internal/uridecode"
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
)

type parserState uint8

const (
	eLeadingCRLF parserState = iota + 1
	eRequestLine
	eHeaderLine
)

// Parser is a stream-based http requests parser. It modifies request object by pointer
// in performance purposes. Lines split among multiple calls are accumulated in the
// internal buffer, bounded by the configured limits. When headers are parsed, parser
// returns state parser.HeadersCompleted, attaching all the pending data as an extra.
// Body must be processed separately
type Parser struct {
	request      *http.Request
	cfg          *config.Config
	lineBuff     []byte
	headersSpace int
	headersCount int
	hostCount    int
	hasLength    bool
	hasEncoding  bool
	encodings    string
	state        parserState
}

func NewParser(request *http.Request, cfg *config.Config) *Parser {
	return &Parser{
		state:    eLeadingCRLF,
		request:  request,
		cfg:      cfg,
		lineBuff: make([]byte, 0, cfg.URI.RequestLineSize.Default),
	}
}

func (p *Parser) Parse(data []byte) (state parser.RequestState, extra []byte, err error) {
	for {
		switch p.state {
		case eLeadingCRLF:
			// RFC 9112, 2.2: at least one empty line received prior to the request-line
			// SHOULD be ignored.
			for len(data) > 0 && (data[0] == '\r' || data[0] == '\n') {
				data = data[1:]
			}

			if len(data) == 0 {
				return parser.Pending, nil, nil
			}

			p.state = eRequestLine
		case eRequestLine:
			line, rest, ok := p.line(data, p.cfg.URI.RequestLineSize.Maximal)
			if !ok {
				if line == nil {
					return parser.Pending, nil, nil
				}

				return parser.Error, nil, status.ErrURITooLong
			}

			if err = p.parseRequestLine(line); err != nil {
				return parser.Error, nil, err
			}

			data = rest
			p.state = eHeaderLine
		case eHeaderLine:
			line, rest, ok := p.line(data, p.cfg.Headers.Space-p.headersSpace)
			if !ok {
				if line == nil {
					return parser.Pending, nil, nil
				}

				return parser.Error, nil, status.ErrHeaderFieldsTooLarge
			}

			data = rest
			if len(line) == 0 {
				if err = p.finalize(); err != nil {
					return parser.Error, nil, err
				}

				p.Reset()
				return parser.HeadersCompleted, data, nil
			}

			p.headersSpace += len(line)
			if err = p.parseHeader(line); err != nil {
				return parser.Error, nil, err
			}
		default:
			panic(fmt.Sprintf("BUG: unexpected state: %v", p.state))
		}
	}
}

// Reset prepares the parser for the next request. It is called implicitly once headers
// are completed, so it's needed explicitly only to abandon a partially parsed request.
func (p *Parser) Reset() {
	p.state = eLeadingCRLF
	p.lineBuff = p.lineBuff[:0]
	p.headersSpace = 0
	p.headersCount = 0
	p.hostCount = 0
	p.hasLength = false
	p.hasEncoding = false
	p.encodings = ""
}

// line returns the next complete line without its terminator. If the line isn't
// complete yet, it's saved and line is nil. The ok is false also when the line exceeds
// the limit, in which case line is not nil.
func (p *Parser) line(data []byte, limit int) (line, rest []byte, ok bool) {
	lf := bytes.IndexByte(data, '\n')
	if lf == -1 {
		if len(p.lineBuff)+len(data) > limit {
			return data, nil, false
		}

		p.lineBuff = append(p.lineBuff, data...)
		return nil, nil, false
	}

	if len(p.lineBuff)+lf > limit {
		return data, nil, false
	}

	if len(p.lineBuff) == 0 {
		line = data[:lf]
	} else {
		p.lineBuff = append(p.lineBuff, data[:lf]...)
		line = p.lineBuff
		p.lineBuff = p.lineBuff[:0]
	}

	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}

	return line, data[lf+1:], true
}

func (p *Parser) parseRequestLine(line []byte) error {
	request := p.request

	sp := bytes.IndexByte(line, ' ')
	if sp <= 0 {
		return status.ErrBadRequest
	}

	methodToken := line[:sp]
	if !isToken(methodToken) {
		return status.ErrBadRequest
	}

	request.MethodName = string(methodToken)
	request.Method = method.Parse(request.MethodName)

	line = line[sp+1:]
	sp = bytes.IndexByte(line, ' ')
	if sp <= 0 {
		return status.ErrBadRequest
	}

	target, protoToken := line[:sp], line[sp+1:]
	protocol, ok := proto.FromBytes(protoToken)
	switch {
	case !ok:
		return status.ErrBadRequest
	case protocol == proto.Unknown:
		return status.ErrUnsupportedProtocol
	}

	request.Protocol = protocol
	request.Target = string(target)

	return p.parseTarget(target)
}

func (p *Parser) parseTarget(target []byte) error {
	request := p.request

	// absolute-form is accepted, yet the authority is ignored in favour of Host
	if !bytes.HasPrefix(target, []byte("/")) {
		scheme := bytes.Index(target, []byte("://"))
		if scheme == -1 {
			return status.ErrBadRequest
		}

		target = target[scheme+3:]
		slash := bytes.IndexByte(target, '/')
		if slash == -1 {
			target = []byte("/")
		} else {
			target = target[slash:]
		}
	}

	if hash := bytes.IndexByte(target, '#'); hash != -1 {
		target = target[:hash]
	}

	if q := bytes.IndexByte(target, '?'); q != -1 {
		request.Query = string(target[q+1:])
		target = target[:q]
	}

	for _, char := range target {
		if char <= 0x20 || char == 0x7f {
			return status.ErrBadRequest
		}
	}

	decoded, err := uridecode.Decode(target, nil)
	if err != nil {
		return err
	}

	// escaped control characters are as unwelcome as raw ones
	for _, char := range decoded {
		if char < 0x20 || char == 0x7f {
			return status.ErrBadRequest
		}
	}

	request.Path = string(decoded)
	return nil
}

func (p *Parser) parseHeader(line []byte) error {
	if line[0] == ' ' || line[0] == '\t' {
		// obsolete line folding
		return status.ErrBadHeader
	}

	colon := bytes.IndexByte(line, ':')
	if colon <= 0 || !isToken(line[:colon]) {
		return status.ErrBadHeader
	}

	if p.headersCount++; p.headersCount > p.cfg.Headers.Number.Maximal {
		return status.ErrTooManyHeaders
	}

	key := string(line[:colon])
	value := string(bytes.Trim(line[colon+1:], " \t"))
	p.request.Headers.Add(key, value)

	return p.commonHeader(key, value)
}

func (p *Parser) commonHeader(key, value string) error {
	request := p.request

	switch {
	case strcomp.EqualFold(key, "content-length"):
		length, err := parseContentLength(value)
		if err != nil || (p.hasLength && length != request.ContentLength) {
			return status.ErrBadContentLength
		}

		p.hasLength = true
		request.ContentLength = length
	case strcomp.EqualFold(key, "transfer-encoding"):
		p.hasEncoding = true
		if len(p.encodings) > 0 {
			p.encodings += ","
		}

		p.encodings += value
	case strcomp.EqualFold(key, "host"):
		p.hostCount++
		request.Host = value
	case strcomp.EqualFold(key, "connection"):
		request.Connection = value
	case strcomp.EqualFold(key, "content-type"):
		request.ContentType = value
	case strcomp.EqualFold(key, "accept-encoding"):
		request.AcceptsGzip = request.AcceptsGzip || acceptsGzip(value)
	}

	return nil
}

func (p *Parser) finalize() error {
	request := p.request

	if p.hasEncoding {
		if p.hasLength {
			return status.ErrAmbiguousFraming
		}

		chunked, err := parseTransferEncoding(p.encodings)
		if err != nil {
			return err
		}

		request.Chunked = chunked
	}

	if p.hostCount > 1 || (p.hostCount == 0 && request.Protocol == proto.HTTP11) {
		return status.ErrMissingHost
	}

	return nil
}

// parseTransferEncoding accepts the chunked coding only. Any other coding is not
// supported, and chunked must be the last one applied.
func parseTransferEncoding(value string) (chunked bool, err error) {
	for value != "" {
		var token string
		token, value, _ = strings.Cut(value, ",")
		token = strings.TrimSpace(token)

		switch {
		case len(token) == 0:
		case strcomp.EqualFold(token, "chunked"):
			if chunked {
				return false, status.ErrBadRequest
			}

			chunked = true
		default:
			return false, status.ErrUnsupportedEncoding
		}
	}

	if !chunked {
		return false, status.ErrBadRequest
	}

	return true, nil
}

func parseContentLength(value string) (int64, error) {
	if len(value) == 0 {
		return 0, status.ErrBadContentLength
	}

	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return 0, status.ErrBadContentLength
		}
	}

	return strconv.ParseInt(value, 10, 64)
}

func acceptsGzip(value string) bool {
	for value != "" {
		var token string
		token, value, _ = strings.Cut(value, ",")
		coding, params, _ := strings.Cut(token, ";")
		coding = strings.TrimSpace(coding)
		if !strcomp.EqualFold(coding, "gzip") && coding != "*" {
			continue
		}

		params = strings.ReplaceAll(params, " ", "")
		if q, found := strings.CutPrefix(params, "q="); found {
			if weight, err := strconv.ParseFloat(q, 64); err != nil || weight == 0 {
				continue
			}
		}

		return true
	}

	return false
}

// isToken reports whether every character belongs to tchar (RFC 9110, 5.6.2).
func isToken(b []byte) bool {
	if len(b) == 0 {
		return false
	}

	for _, char := range uf.B2S(b) {
		if char > 0x7e || !tchar[char] {
			return false
		}
	}

	return true
}

var tchar = func() (table [128]bool) {
	for c := '0'; c <= '9'; c++ {
		table[c] = true
	}

	for c := 'a'; c <= 'z'; c++ {
		table[c] = true
		table[c-'a'+'A'] = true
	}

	for _, c := range "!#$%&'*+-.^_`|~" {
		table[c] = true
	}

	return table
}()
