package glance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/imageservice/glance/types"
)

// The legacy API carries image metadata in headers rather than JSON bodies:
// one x-image-meta-<field> header per record field and one
// x-image-meta-property-<name> header per free-form property.
const (
	v1MetaHeaderPrefix     = "x-image-meta-"
	v1PropertyHeaderPrefix = "x-image-meta-property-"
	v1PurgePropsHeader     = "x-glance-registry-purge-props"
)

// formatV1HeaderValue renders a prepared field value the way the legacy
// service expects it on the wire.
func formatV1HeaderValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return fmt.Sprintf("%v", value)
}

// encodeV1Headers flattens prepared image fields into the header bag.
// nil values mean "absent" and are never sent.
func encodeV1Headers(req *http.Request, fields map[string]interface{}) {
	for name, value := range fields {
		if value == nil {
			continue
		}
		if name == "properties" {
			props, ok := value.(map[string]interface{})
			if !ok {
				continue
			}
			for propName, propValue := range props {
				if propValue == nil {
					continue
				}
				req.Header.Set(v1PropertyHeaderPrefix+strings.ToLower(propName), formatV1HeaderValue(propValue))
			}
			continue
		}
		req.Header.Set(v1MetaHeaderPrefix+strings.ToLower(name), formatV1HeaderValue(value))
	}
}

// imageMetaFromHeaders rebuilds a raw image record from the header bag of a
// HEAD answer, with the same field typing the JSON representation has.
func imageMetaFromHeaders(header http.Header) map[string]interface{} {
	meta := map[string]interface{}{}
	props := map[string]interface{}{}
	for name, values := range header {
		if len(values) == 0 {
			continue
		}
		key := strings.ToLower(name)
		switch {
		case strings.HasPrefix(key, v1PropertyHeaderPrefix):
			props[strings.TrimPrefix(key, v1PropertyHeaderPrefix)] = values[0]
		case strings.HasPrefix(key, v1MetaHeaderPrefix):
			meta[strings.TrimPrefix(key, v1MetaHeaderPrefix)] = values[0]
		}
	}
	meta["properties"] = props

	for _, key := range []string{"is_public", "protected", "deleted"} {
		if raw, ok := meta[key].(string); ok {
			meta[key] = strings.EqualFold(raw, "true") || raw == "1"
		}
	}
	for _, key := range []string{"size", "min_ram", "min_disk"} {
		if raw, ok := meta[key].(string); ok {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				meta[key] = n
			}
		}
	}
	return meta
}

// doV1ImageRequest performs one legacy request, encoding fields and the
// purge flag into headers. data, when given, streams as the request body.
func (c *apiClient) doV1ImageRequest(ctx context.Context, reqCtx *types.RequestContext, method, path string, query url.Values, fields map[string]interface{}, purgeProps *bool, data io.Reader) (*http.Response, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	contentType := ""
	if data != nil {
		contentType = "application/octet-stream"
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), data)
	if err != nil {
		return nil, errors.Wrapf(err, "building %s request for %s", method, u.String())
	}
	c.setHeaders(req, reqCtx, contentType)
	encodeV1Headers(req, fields)
	if purgeProps != nil {
		value := "false"
		if *purgeProps {
			value = "true"
		}
		req.Header.Set(v1PurgePropsHeader, value)
	}

	logrus.Debugf("%s %s", method, req.URL)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &communicationError{endpoint: c.endpoint(), err: err}
	}
	return res, nil
}

// getImageV1 fetches one raw image record via a HEAD request.
func (c *apiClient) getImageV1(ctx context.Context, reqCtx *types.RequestContext, imageID string) (map[string]interface{}, error) {
	res, err := c.doRequest(ctx, reqCtx, http.MethodHead, "/v1/images/"+imageID, nil, "", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if err := expectStatus(res, http.StatusOK); err != nil {
		return nil, err
	}
	return imageMetaFromHeaders(res.Header), nil
}

// listImagesV1 fetches the detailed listing. A caller-supplied limit gets
// exactly one page; otherwise the listing is drained by asking again with
// the last image as marker until the service runs out.
func (c *apiClient) listImagesV1(ctx context.Context, reqCtx *types.RequestContext, query url.Values) ([]map[string]interface{}, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	single := q.Get("limit") != ""

	var records []map[string]interface{}
	for {
		res, err := c.doRequest(ctx, reqCtx, http.MethodGet, "/v1/images/detail", q, "", nil)
		if err != nil {
			return nil, err
		}
		var page struct {
			Images []map[string]interface{} `json:"images"`
		}
		err = func() error {
			defer res.Body.Close()
			if err := expectStatus(res, http.StatusOK); err != nil {
				return err
			}
			return c.decodeResponse(res, &page)
		}()
		if err != nil {
			return nil, err
		}
		records = append(records, page.Images...)
		if single || len(page.Images) == 0 {
			return records, nil
		}
		lastID, ok := page.Images[len(page.Images)-1]["id"].(string)
		if !ok || lastID == "" {
			return records, nil
		}
		q.Set("marker", lastID)
	}
}

// downloadImageV1 opens the image data stream. The caller owns the returned
// ReadCloser.
func (c *apiClient) downloadImageV1(ctx context.Context, reqCtx *types.RequestContext, imageID string) (io.ReadCloser, error) {
	res, err := c.doRequest(ctx, reqCtx, http.MethodGet, "/v1/images/"+imageID, nil, "", nil)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusNoContent {
		res.Body.Close()
		return nil, ErrNoImageData
	}
	if err := expectStatus(res, http.StatusOK); err != nil {
		res.Body.Close()
		return nil, err
	}
	return res.Body, nil
}

// createImageV1 registers a new image; data, when given, is stored in the
// same request.
func (c *apiClient) createImageV1(ctx context.Context, reqCtx *types.RequestContext, fields map[string]interface{}, data io.Reader) (map[string]interface{}, error) {
	res, err := c.doV1ImageRequest(ctx, reqCtx, http.MethodPost, "/v1/images", nil, fields, nil, data)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if err := expectStatus(res, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}
	var wrapped struct {
		Image map[string]interface{} `json:"image"`
	}
	if err := c.decodeResponse(res, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Image, nil
}

// updateImageV1 rewrites image metadata and optionally stores new data.
// With purgeProps set, properties missing from fields are dropped by the
// service instead of kept.
func (c *apiClient) updateImageV1(ctx context.Context, reqCtx *types.RequestContext, imageID string, fields map[string]interface{}, data io.Reader, purgeProps bool) (map[string]interface{}, error) {
	res, err := c.doV1ImageRequest(ctx, reqCtx, http.MethodPut, "/v1/images/"+imageID, nil, fields, &purgeProps, data)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if err := expectStatus(res, http.StatusOK); err != nil {
		return nil, err
	}
	var wrapped struct {
		Image map[string]interface{} `json:"image"`
	}
	if err := c.decodeResponse(res, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Image, nil
}

// deleteImageV1 removes the image.
func (c *apiClient) deleteImageV1(ctx context.Context, reqCtx *types.RequestContext, imageID string) error {
	res, err := c.doRequest(ctx, reqCtx, http.MethodDelete, "/v1/images/"+imageID, nil, "", nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return expectStatus(res, http.StatusNoContent, http.StatusOK)
}
