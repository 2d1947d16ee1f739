package aa

import (
	"errors"
	"fmt"
)

// ErrorKind classifies itinerary request failures so the orchestration
// layer can tell "resend later" apart from "these cookies are burned".
type ErrorKind int

const (
	// the remote rejected the session (403, 429, or any other
	// unexpected status); resending with the same cookies will not
	// recover, a fresh bootstrap is needed
	KindCookiesRejected ErrorKind = iota
	// HTTP >= 500; says nothing about cookie health
	KindServerError
	// transport-level failure (DNS, TLS, timeout)
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindCookiesRejected:
		return "cookies_rejected"
	case KindServerError:
		return "server_error"
	case KindNetwork:
		return "network"
	}
	return "unknown"
}

type RequestError struct {
	Kind       ErrorKind
	Search     SearchKind
	StatusCode int
	cause      error
}

func (e *RequestError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s request failed (%s): %s", e.Search, e.Kind, e.cause)
	}
	return fmt.Sprintf("%s request failed with status %d (%s)", e.Search, e.StatusCode, e.Kind)
}

func (e *RequestError) Unwrap() error {
	return e.cause
}

// IsCookiesRejected reports whether err (at any level of wrapping) is a
// request failure that calls for fresh session cookies.
func IsCookiesRejected(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Kind == KindCookiesRejected
}
