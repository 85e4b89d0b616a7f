package method

type Method uint8

const (
	Unknown Method = iota
	GET
	HEAD
	POST
	PUT
	DELETE

	// Count is the last one enum, so contains the greatest integer value of all the
	// methods. So real number of methods is lower by 1
	Count = iota - 1
)

// List contains all the supported HTTP methods, Unknown excluded.
var List = []Method{GET, HEAD, POST, PUT, DELETE}

var names = [...]string{
	Unknown: "UNKNOWN",
	GET:     "GET",
	HEAD:    "HEAD",
	POST:    "POST",
	PUT:     "PUT",
	DELETE:  "DELETE",
}

func (m Method) String() string {
	if int(m) >= len(names) {
		return names[Unknown]
	}

	return names[m]
}

// Parse is case-sensitive, as method tokens are.
func Parse(str string) Method {
	switch len(str) {
	case 3:
		if str == "GET" {
			return GET
		} else if str == "PUT" {
			return PUT
		}
	case 4:
		if str == "POST" {
			return POST
		} else if str == "HEAD" {
			return HEAD
		}
	case 6:
		if str == "DELETE" {
			return DELETE
		}
	}

	return Unknown
}

// Set is a bitmask of methods, used to represent methods allowed by a location.
type Set uint8

func NewSet(methods ...Method) (s Set) {
	for _, m := range methods {
		s = s.Add(m)
	}

	return s
}

func (s Set) Add(m Method) Set {
	return s | 1<<m
}

func (s Set) Remove(m Method) Set {
	return s &^ (1 << m)
}

func (s Set) Has(m Method) bool {
	return s&(1<<m) != 0
}

func (s Set) Empty() bool {
	return s == 0
}

// Allow renders the set in the form of the Allow header value, e.g. "GET, HEAD".
func (s Set) Allow() string {
	var out string
	for _, m := range List {
		if !s.Has(m) {
			continue
		}

		if len(out) > 0 {
			out += ", "
		}

		out += m.String()
	}

	return out
}
