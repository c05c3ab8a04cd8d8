// Package jobs names requests and the image references handed back to
// API consumers.
package jobs

import "github.com/google/uuid"

// ImagePrefix is the URL path under which highlight stills are served.
const ImagePrefix = "/highlights/images/"

// NewRequestID returns a fresh random request id.
func NewRequestID() string {
	return uuid.NewString()
}

// ValidRequestID reports whether id is a canonical UUID. Request ids name
// directories and object keys, so anything else is rejected.
func ValidRequestID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

// ImageRef returns the public reference for a still of a request, e.g.
// /highlights/images/<id>/frame_1000.jpg.
func ImageRef(requestID, file string) string {
	return ImagePrefix + requestID + "/" + file
}
