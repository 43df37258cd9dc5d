// Package transfer downloads image data straight from storage locations,
// bypassing the image service data path.
package transfer

import (
	"context"

	"github.com/imageservice/glance/types"
)

// A Handler downloads image data from locations with particular URL
// schemes.
type Handler interface {
	// Schemes lists the location URL schemes the handler serves.
	Schemes() []string
	// Download copies the image bits behind location into a file at
	// dstPath.
	Download(ctx context.Context, location types.ImageLocation, dstPath string) error
}

// Registry maps location URL schemes to their download handlers.
type Registry map[string]Handler

// NewRegistry indexes handlers by the schemes they serve, keeping only
// schemes the deployment allows.
func NewRegistry(allowedSchemes []string, handlers ...Handler) Registry {
	allowed := make(map[string]bool, len(allowedSchemes))
	for _, scheme := range allowedSchemes {
		allowed[scheme] = true
	}
	r := Registry{}
	for _, h := range handlers {
		for _, scheme := range h.Schemes() {
			if allowed[scheme] {
				r[scheme] = h
			}
		}
	}
	return r
}

// ForScheme returns the handler serving scheme, or nil.
func (r Registry) ForScheme(scheme string) Handler {
	return r[scheme]
}
