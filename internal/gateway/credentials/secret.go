package credentials

import (
	"fmt"
	"io"
	"net/http"
)

const redacted = "[REDACTED]"

// Secret holds a provider API key. Every rendering path (fmt verbs, JSON,
// text marshalling) prints a placeholder; the value only leaves the type
// through Attach, onto an outgoing request.
type Secret struct {
	value string
}

// NewSecret wraps a raw value
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// IsZero reports whether the secret is empty
func (s Secret) IsZero() bool {
	return s.value == ""
}

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// Format implements fmt.Formatter so %v, %+v, %#v, %s, %q and %x all redact
func (s Secret) Format(f fmt.State, _ rune) {
	io.WriteString(f, redacted)
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Attach places the secret on req according to p. A zero secret or an
// empty placement leaves the request unchanged.
func (s Secret) Attach(req *http.Request, p Placement) {
	if s.IsZero() || p.Param == "" {
		return
	}

	switch p.In {
	case InHeader:
		req.Header.Set(p.Param, s.value)
	default:
		q := req.URL.Query()
		q.Set(p.Param, s.value)
		req.URL.RawQuery = q.Encode()
	}
}
