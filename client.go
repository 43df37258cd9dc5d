package glance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/docker/go-connections/tlsconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/imageservice/glance/internal/httpdump"
	"github.com/imageservice/glance/types"
	"github.com/imageservice/glance/version"
)

const identityStatusConfirmed = "Confirmed"

// v2 PATCH requests use the JSON patch dialect the image API defines.
const v2PatchContentType = "application/openstack-images-v2.1-json-patch"

// newHTTPClient builds the http.Client shared by every endpoint a wrapper
// talks to. No overall timeout is set: downloads stream through this client
// and must not be cut off mid-transfer.
func newHTTPClient(opts *Options) (*http.Client, error) {
	tlsc, err := tlsconfig.Client(tlsconfig.Options{
		CAFile:             opts.CAFile,
		CertFile:           opts.CertFile,
		KeyFile:            opts.KeyFile,
		InsecureSkipVerify: opts.APIInsecure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "setting up TLS for the image service")
	}
	var transport http.RoundTripper = &http.Transport{
		TLSClientConfig: tlsc,
	}
	if opts.Debug {
		transport = httpdump.New(transport)
	}
	return &http.Client{
		Transport: transport,
	}, nil
}

// apiClient talks to a single image API endpoint. Wrappers build a fresh one
// per attempt so that retries move to the next endpoint.
type apiClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	debug      bool
}

// newAPIClient validates the endpoint and binds it to the shared transport.
func newAPIClient(endpoint string, httpClient *http.Client, opts *Options) (*apiClient, error) {
	if endpoint == "" {
		return nil, &invalidEndpointError{endpoint: endpoint}
	}
	baseURL, err := url.Parse(endpoint)
	if err != nil || baseURL.Host == "" || (baseURL.Scheme != "http" && baseURL.Scheme != "https") {
		return nil, &invalidEndpointError{endpoint: endpoint}
	}
	return &apiClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		debug:      opts.Debug,
	}, nil
}

func (c *apiClient) endpoint() string {
	return c.baseURL.String()
}

// setHeaders applies the identity of the caller plus the standard request
// headers. A nil reqCtx sends an anonymous request.
func (c *apiClient) setHeaders(req *http.Request, reqCtx *types.RequestContext, contentType string) {
	req.Header.Set("User-Agent", fmt.Sprintf("glance-client/%s", version.Version))
	req.Header.Set("Accept", "application/json, */*")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if reqCtx == nil {
		return
	}
	if reqCtx.AuthToken != "" {
		req.Header.Set("X-Auth-Token", reqCtx.AuthToken)
	}
	if reqCtx.UserID != "" {
		req.Header.Set("X-User-Id", reqCtx.UserID)
	}
	if reqCtx.ProjectID != "" {
		req.Header.Set("X-Tenant-Id", reqCtx.ProjectID)
	}
	if len(reqCtx.Roles) > 0 {
		req.Header.Set("X-Roles", strings.Join(reqCtx.Roles, ","))
	}
	req.Header.Set("X-Identity-Status", identityStatusConfirmed)
	if reqCtx.RequestID != "" {
		req.Header.Set("X-OpenStack-Request-ID", reqCtx.RequestID)
	}
}

// doRequest performs one authenticated request against this endpoint. A
// transport-level failure comes back as a communicationError so the caller
// can tell it apart from a real answer.
func (c *apiClient) doRequest(ctx context.Context, reqCtx *types.RequestContext, method, path string, query url.Values, contentType string, body io.Reader) (*http.Response, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrapf(err, "building %s request for %s", method, u.String())
	}
	c.setHeaders(req, reqCtx, contentType)

	logrus.Debugf("%s %s", method, req.URL)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &communicationError{endpoint: c.endpoint(), err: err}
	}
	return res, nil
}

// doJSONRequest is doRequest with a JSON-encoded request body.
func (c *apiClient) doJSONRequest(ctx context.Context, reqCtx *types.RequestContext, method, path string, contentType string, requestBody interface{}) (*http.Response, error) {
	encoded, err := json.Marshal(requestBody)
	if err != nil {
		return nil, errors.Wrap(err, "encoding request for the image service")
	}
	if c.debug {
		logrus.Debugf("Will send body: %s", encoded)
	}
	return c.doRequest(ctx, reqCtx, method, path, nil, contentType, bytes.NewReader(encoded))
}

// decodeResponse consumes res.Body and unmarshals it into out. Numbers stay
// json.Number so int64 sizes survive untouched.
func (c *apiClient) decodeResponse(res *http.Response, out interface{}) error {
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return &communicationError{endpoint: c.endpoint(), err: err}
	}
	if c.debug {
		logrus.Debugf("Got body: %s", body)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return errors.Wrap(err, "decoding image service response")
	}
	return nil
}

// expectStatus turns any unexpected status code into the service error for
// the response.
func expectStatus(res *http.Response, expected ...int) error {
	for _, code := range expected {
		if res.StatusCode == code {
			return nil
		}
	}
	return errorFromResponse(res)
}

// jsonPatchOp is one operation of an image API v2 update request.
type jsonPatchOp struct {
	Op    string
	Path  string
	Value interface{}
}

// MarshalJSON keeps the value member off remove operations while letting
// add and replace carry explicit nulls.
func (op jsonPatchOp) MarshalJSON() ([]byte, error) {
	doc := map[string]interface{}{"op": op.Op, "path": op.Path}
	if op.Op != "remove" {
		doc["value"] = op.Value
	}
	return json.Marshal(doc)
}

// getImageV2 fetches one raw v2 image record.
func (c *apiClient) getImageV2(ctx context.Context, reqCtx *types.RequestContext, imageID string) (map[string]interface{}, error) {
	res, err := c.doRequest(ctx, reqCtx, http.MethodGet, "/v2/images/"+imageID, nil, "", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if err := expectStatus(res, http.StatusOK); err != nil {
		return nil, err
	}
	record := map[string]interface{}{}
	if err := c.decodeResponse(res, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// listImagesV2 fetches raw v2 image records matching query. A
// caller-supplied limit gets exactly one page; otherwise the service's
// pagination links are followed until the listing is drained.
func (c *apiClient) listImagesV2(ctx context.Context, reqCtx *types.RequestContext, query url.Values) ([]map[string]interface{}, error) {
	single := query.Get("limit") != ""
	var records []map[string]interface{}
	path := "/v2/images"
	for {
		res, err := c.doRequest(ctx, reqCtx, http.MethodGet, path, query, "", nil)
		if err != nil {
			return nil, err
		}
		var page struct {
			Images []map[string]interface{} `json:"images"`
			Next   string                   `json:"next"`
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
		if single || page.Next == "" {
			return records, nil
		}
		next, err := url.Parse(page.Next)
		if err != nil {
			return nil, errors.Wrapf(err, "following pagination link %q", page.Next)
		}
		path = strings.TrimPrefix(next.Path, strings.TrimRight(c.baseURL.Path, "/"))
		query = next.Query()
	}
}

// downloadImageV2 opens the image data stream. The caller owns the returned
// ReadCloser. An image with no data stored is reported as ErrNoImageData.
func (c *apiClient) downloadImageV2(ctx context.Context, reqCtx *types.RequestContext, imageID string) (io.ReadCloser, error) {
	res, err := c.doRequest(ctx, reqCtx, http.MethodGet, "/v2/images/"+imageID+"/file", nil, "", nil)
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

// createImageV2 registers a new image record.
func (c *apiClient) createImageV2(ctx context.Context, reqCtx *types.RequestContext, fields map[string]interface{}) (map[string]interface{}, error) {
	res, err := c.doJSONRequest(ctx, reqCtx, http.MethodPost, "/v2/images", "application/json", fields)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if err := expectStatus(res, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}
	record := map[string]interface{}{}
	if err := c.decodeResponse(res, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// updateImageV2 applies a JSON patch to the image record.
func (c *apiClient) updateImageV2(ctx context.Context, reqCtx *types.RequestContext, imageID string, patch []jsonPatchOp) (map[string]interface{}, error) {
	res, err := c.doJSONRequest(ctx, reqCtx, http.MethodPatch, "/v2/images/"+imageID, v2PatchContentType, patch)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if err := expectStatus(res, http.StatusOK); err != nil {
		return nil, err
	}
	record := map[string]interface{}{}
	if err := c.decodeResponse(res, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// addImageLocationV2 registers an extra storage location for the image data.
// The show_multiple_locations option must be enabled on the service side.
func (c *apiClient) addImageLocationV2(ctx context.Context, reqCtx *types.RequestContext, imageID, locationURL string, metadata map[string]interface{}) (map[string]interface{}, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	patch := []jsonPatchOp{{
		Op:   "add",
		Path: "/locations/-",
		Value: map[string]interface{}{
			"url":      locationURL,
			"metadata": metadata,
		},
	}}
	return c.updateImageV2(ctx, reqCtx, imageID, patch)
}

// uploadImageV2 stores the image data.
func (c *apiClient) uploadImageV2(ctx context.Context, reqCtx *types.RequestContext, imageID string, data io.Reader) error {
	res, err := c.doRequest(ctx, reqCtx, http.MethodPut, "/v2/images/"+imageID+"/file", nil, "application/octet-stream", data)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return expectStatus(res, http.StatusNoContent, http.StatusCreated, http.StatusOK)
}

// deleteImageV2 removes the image.
func (c *apiClient) deleteImageV2(ctx context.Context, reqCtx *types.RequestContext, imageID string) error {
	res, err := c.doRequest(ctx, reqCtx, http.MethodDelete, "/v2/images/"+imageID, nil, "", nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return expectStatus(res, http.StatusNoContent, http.StatusOK)
}

// getSchemaV2 fetches the raw image schema the service publishes.
func (c *apiClient) getSchemaV2(ctx context.Context, reqCtx *types.RequestContext) (map[string]interface{}, error) {
	res, err := c.doRequest(ctx, reqCtx, http.MethodGet, "/v2/schemas/image", nil, "", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if err := expectStatus(res, http.StatusOK); err != nil {
		return nil, err
	}
	schema := map[string]interface{}{}
	if err := c.decodeResponse(res, &schema); err != nil {
		return nil, err
	}
	return schema, nil
}
