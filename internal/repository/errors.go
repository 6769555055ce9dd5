package repository

import "errors"

var (
	// ErrUnrecognizedReference is returned for input that is neither a URL,
	// a custom-scheme reference nor a short-link token.
	ErrUnrecognizedReference = errors.New("unrecognized repository reference")
	// ErrShortLinkNotFound is returned when a short link leads nowhere.
	ErrShortLinkNotFound = errors.New("short link does not point to a repository")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return "unexpected status " + httpStatusText(e.Status) + " from " + e.URL
}
