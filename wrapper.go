package glance

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// retryDelay is the fixed pause between attempts against the image service.
const retryDelay = 1 * time.Second

// clientWrapper calls the image service with bounded retries. In rotating
// mode every attempt goes to the next endpoint of the configured rotation;
// in static mode the endpoint is pinned.
type clientWrapper struct {
	opts       *Options
	httpClient *http.Client
	static     string // fixed endpoint, or "" to rotate

	mu      sync.Mutex
	servers *apiServerIterator // built lazily on the first rotating call

	sleep func(ctx context.Context, d time.Duration) error
}

// newClientWrapper returns a wrapper that picks a fresh endpoint from the
// configured rotation for every attempt. An empty server list only becomes
// an error once a call is made.
func newClientWrapper(opts *Options) (*clientWrapper, error) {
	httpClient, err := newHTTPClient(opts)
	if err != nil {
		return nil, err
	}
	return &clientWrapper{
		opts:       opts,
		httpClient: httpClient,
		sleep:      sleepBetweenAttempts,
	}, nil
}

// newStaticClientWrapper returns a wrapper pinned to one endpoint, as used
// for images referenced by URL. The endpoint is validated here.
func newStaticClientWrapper(endpoint string, opts *Options) (*clientWrapper, error) {
	httpClient, err := newHTTPClient(opts)
	if err != nil {
		return nil, err
	}
	if _, err := newAPIClient(endpoint, httpClient, opts); err != nil {
		return nil, err
	}
	return &clientWrapper{
		opts:       opts,
		httpClient: httpClient,
		static:     endpoint,
		sleep:      sleepBetweenAttempts,
	}, nil
}

// nextEndpoint picks the endpoint for one attempt.
func (w *clientWrapper) nextEndpoint() (string, error) {
	if w.static != "" {
		return w.static, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.servers == nil {
		servers, err := newAPIServerIterator(w.opts.APIServers)
		if err != nil {
			return "", err
		}
		w.servers = servers
	}
	return w.servers.Next(), nil
}

// call invokes op with a client for this attempt, retrying transient
// failures within the configured budget. method is only used in logs.
//
// op must surface every transient failure before returning: operations that
// hand back streams establish them here and leave only the body reads to
// the caller.
func (w *clientWrapper) call(ctx context.Context, method string, op func(c *apiClient) error) error {
	retries := w.opts.NumRetries
	if retries < 0 {
		logrus.Warnf("Treating negative config value of num_retries (%d) as 0", w.opts.NumRetries)
		retries = 0
	}
	numAttempts := retries + 1

	for attempt := 1; ; attempt++ {
		endpoint, err := w.nextEndpoint()
		if err != nil {
			// No servers configured is a config error, not a transient one.
			return err
		}
		client, err := newAPIClient(endpoint, w.httpClient, w.opts)
		if err == nil {
			err = op(client)
		}
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt >= numAttempts {
			logrus.Errorf("Error contacting image service at %q for %q, done trying: %v", endpoint, method, err)
			return &ConnectionFailedError{Server: endpoint, Err: err}
		}
		logrus.Errorf("Error contacting image service at %q for %q, retrying: %v", endpoint, method, err)
		if err := w.sleep(ctx, retryDelay); err != nil {
			return err
		}
	}
}

// sleepBetweenAttempts waits out the delay between retries, giving up early
// when ctx is done.
func sleepBetweenAttempts(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
