package glance

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/imageservice/glance/signature"
)

// ErrInvalidSignature is returned when downloaded image data does not match
// the signature recorded in the image properties.
var ErrInvalidSignature = signature.ErrMismatch

// ErrNoImageData is returned when a download is requested for an image that
// has no data to serve.
var ErrNoImageData = errors.New("image has no associated data")

// ConnectionFailedError is returned when every attempt to reach the image
// service failed. It wraps the last transport-level error.
type ConnectionFailedError struct {
	Server string
	Err    error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection to image service endpoint %s failed: %v", e.Server, e.Err)
}

func (e *ConnectionFailedError) Unwrap() error { return e.Err }

// ImageNotFoundError is returned for operations against an image the service
// does not know, or one the caller is not allowed to see.
type ImageNotFoundError struct {
	ID  string
	Err error
}

func (e *ImageNotFoundError) Error() string {
	return fmt.Sprintf("image %s could not be found", e.ID)
}

func (e *ImageNotFoundError) Unwrap() error { return e.Err }

// ImageNotAuthorizedError is returned when the service refuses an operation
// on a specific image.
type ImageNotAuthorizedError struct {
	ID  string
	Err error
}

func (e *ImageNotAuthorizedError) Error() string {
	return fmt.Sprintf("not authorized for image %s", e.ID)
}

func (e *ImageNotAuthorizedError) Unwrap() error { return e.Err }

// ImageBadRequestError is returned when the service rejects a request for a
// specific image as malformed. Response preserves the service's answer.
type ImageBadRequestError struct {
	ID       string
	Response string
	Err      error
}

func (e *ImageBadRequestError) Error() string {
	return fmt.Sprintf("request for image %s got bad request response: %s", e.ID, e.Response)
}

func (e *ImageBadRequestError) Unwrap() error { return e.Err }

// NotFoundError is the non-image-scoped counterpart of ImageNotFoundError.
type NotFoundError struct {
	Err error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource could not be found: %v", e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ForbiddenError is the non-image-scoped counterpart of
// ImageNotAuthorizedError.
type ForbiddenError struct {
	Err error
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("not authorized: %v", e.Err)
}

func (e *ForbiddenError) Unwrap() error { return e.Err }

// InvalidError is the non-image-scoped counterpart of ImageBadRequestError.
type InvalidError struct {
	Err error
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid request: %v", e.Err)
}

func (e *InvalidError) Unwrap() error { return e.Err }

// InvalidImageRefError is returned when an image reference is neither a bare
// image ID nor an image URL.
type InvalidImageRefError struct {
	Ref string
}

func (e *InvalidImageRefError) Error() string {
	return fmt.Sprintf("%q is not a valid image reference", e.Ref)
}

// SignatureVerificationError is returned when the signature verifier cannot
// be set up from the image properties. It is distinct from
// ErrInvalidSignature, which means verification ran and the data failed it.
type SignatureVerificationError struct {
	Reason string
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("signature verification for the image failed: %s", e.Reason)
}

// apiError is a non-2xx answer from the image service.
type apiError struct {
	statusCode int
	url        string
	body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("image service returned status %d (%s) for %s: %s",
		e.statusCode, http.StatusText(e.statusCode), e.url, e.body)
}

// communicationError is a transport-level failure talking to an endpoint,
// before any HTTP status was received.
type communicationError struct {
	endpoint string
	err      error
}

func (e *communicationError) Error() string {
	return fmt.Sprintf("error communicating with %s: %v", e.endpoint, e.err)
}

func (e *communicationError) Unwrap() error { return e.err }

// invalidEndpointError is an endpoint no client can be built for.
type invalidEndpointError struct {
	endpoint string
}

func (e *invalidEndpointError) Error() string {
	return fmt.Sprintf("%q is not a usable image service endpoint", e.endpoint)
}

const maxErrorBodySize = 4096

// errorFromResponse consumes res.Body and builds the error for a non-success
// status code.
func errorFromResponse(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodySize))
	url := ""
	if res.Request != nil && res.Request.URL != nil {
		url = res.Request.URL.String()
	}
	return &apiError{
		statusCode: res.StatusCode,
		url:        url,
		body:       strings.TrimSpace(string(body)),
	}
}

// isRetryable reports whether err is worth retrying against another
// endpoint: transport failures, 503 answers, and unusable endpoints.
// Anything else is a real answer from the service and propagates as is.
func isRetryable(err error) bool {
	var aErr *apiError
	if errors.As(err, &aErr) {
		return aErr.statusCode == http.StatusServiceUnavailable
	}
	var cErr *communicationError
	if errors.As(err, &cErr) {
		return true
	}
	var eErr *invalidEndpointError
	return errors.As(err, &eErr)
}

// translateImageError maps a service error for a specific image to the
// public taxonomy. Errors outside the table pass through unchanged.
func translateImageError(imageID string, err error) error {
	var aErr *apiError
	if !errors.As(err, &aErr) {
		return err
	}
	switch aErr.statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &ImageNotAuthorizedError{ID: imageID, Err: err}
	case http.StatusNotFound:
		return &ImageNotFoundError{ID: imageID, Err: err}
	case http.StatusBadRequest:
		return &ImageBadRequestError{ID: imageID, Response: aErr.body, Err: err}
	}
	return err
}

// translatePlainError is translateImageError for operations not scoped to a
// single image.
func translatePlainError(err error) error {
	var aErr *apiError
	if !errors.As(err, &aErr) {
		return err
	}
	switch aErr.statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &ForbiddenError{Err: err}
	case http.StatusNotFound:
		return &NotFoundError{Err: err}
	case http.StatusBadRequest:
		return &InvalidError{Err: err}
	}
	return err
}
