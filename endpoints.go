package glance

import (
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// apiServerIterator cycles endlessly through the configured image API
// servers. The order is shuffled once at construction so that independent
// clients spread their load, then stays fixed for the iterator's lifetime.
type apiServerIterator struct {
	mu      sync.Mutex
	servers []string
	next    int
}

// newAPIServerIterator builds an iterator over the configured servers.
// Entries without a scheme are taken as http:// with a deprecation warning.
func newAPIServerIterator(configured []string) (*apiServerIterator, error) {
	if len(configured) == 0 {
		return nil, errors.New("no image API servers are configured")
	}
	servers := make([]string, 0, len(configured))
	for _, server := range configured {
		if !strings.Contains(server, "//") {
			server = "http://" + server
			logrus.Warnf("No protocol specified for API server %q, please update the api_servers option with a fully qualified URL including the scheme (http / https)", server)
		}
		servers = append(servers, server)
	}
	rand.Shuffle(len(servers), func(i, j int) {
		servers[i], servers[j] = servers[j], servers[i]
	})
	return &apiServerIterator{servers: servers}, nil
}

// Next returns the next server, wrapping around at the end of the list.
func (it *apiServerIterator) Next() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	server := it.servers[it.next]
	it.next = (it.next + 1) % len(it.servers)
	return server
}

// GenerateGlanceURL returns the URL of one of the configured image API
// servers.
func GenerateGlanceURL(opts *Options) (string, error) {
	it, err := newAPIServerIterator(opts.APIServers)
	if err != nil {
		return "", err
	}
	return it.Next(), nil
}

// GenerateImageURL returns a URL for the given image on one of the
// configured image API servers.
func GenerateImageURL(imageRef string, opts *Options) (string, error) {
	glanceURL, err := GenerateGlanceURL(opts)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/images/%s", glanceURL, imageRef), nil
}

// endpointFromImageRef splits an image URL into the image ID and the service
// endpoint it points at. The endpoint is everything except the trailing
// <version>/images/<id> segments.
func endpointFromImageRef(href string) (imageID, endpoint string, err error) {
	parts := strings.Split(href, "/")
	if len(parts) < 4 {
		return "", "", &InvalidImageRefError{Ref: href}
	}
	imageID = parts[len(parts)-1]
	endpoint = strings.Join(parts[:len(parts)-3], "/")
	if imageID == "" || endpoint == "" {
		return "", "", &InvalidImageRefError{Ref: href}
	}
	if _, err := url.Parse(endpoint); err != nil {
		return "", "", &InvalidImageRefError{Ref: href}
	}
	return imageID, endpoint, nil
}
