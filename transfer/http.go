package transfer

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/imageservice/glance/types"
)

// HTTPHandler fetches image data from plain web locations, retrying
// transient failures.
type HTTPHandler struct {
	client *retryablehttp.Client
}

// NewHTTPHandler returns a handler with a default retrying client.
func NewHTTPHandler() *HTTPHandler {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = logrus.StandardLogger()
	return &HTTPHandler{client: client}
}

// Schemes implements Handler.
func (h *HTTPHandler) Schemes() []string {
	return []string{"http", "https"}
}

// Download fetches the location URL into a file at dstPath.
func (h *HTTPHandler) Download(ctx context.Context, location types.ImageLocation, dstPath string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, location.URL, nil)
	if err != nil {
		return errors.Wrapf(err, "building request for %q", location.URL)
	}
	res, err := h.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "fetching %q", location.URL)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return errors.Errorf("fetching %q: unexpected status %s", location.URL, res.Status)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return errors.Wrap(err, "creating destination file")
	}
	if _, err := io.Copy(dst, res.Body); err != nil {
		dst.Close()
		return errors.Wrap(err, "writing image data")
	}
	if err := dst.Close(); err != nil {
		return errors.Wrap(err, "closing destination file")
	}
	return nil
}
