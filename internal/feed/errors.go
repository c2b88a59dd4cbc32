package feed

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned by fetchers for a missing feed document.
	ErrNotFound = errors.New("feed document not found")
	// ErrManifestNotFound means the feed has no manifest at all.
	ErrManifestNotFound = errors.New("release manifest not found")
)

// StatusError is an unexpected HTTP status from a remote feed.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Is lets a 404 match ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}
