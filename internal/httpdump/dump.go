// Package httpdump logs the wire form of image API exchanges.
package httpdump

import (
	"net/http"
	"net/http/httputil"

	"github.com/sirupsen/logrus"
)

// Transport wraps another http.RoundTripper and logs each request and
// response at debug level. Bodies are not dumped; image payloads can be
// arbitrarily large and upload bodies must stay streamable.
type Transport struct {
	Base http.RoundTripper
}

// New wraps base in a logging Transport.
func New(base http.RoundTripper) *Transport {
	return &Transport{Base: base}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if dump, err := httputil.DumpRequestOut(req, false); err != nil {
		logrus.Debugf("error dumping request to %s: %v", req.URL.Redacted(), err)
	} else {
		logrus.Debugf("request to image service:\n%s", dump)
	}
	res, err := t.Base.RoundTrip(req)
	if err != nil {
		logrus.Debugf("request to %s failed: %v", req.URL.Redacted(), err)
		return nil, err
	}
	if dump, err := httputil.DumpResponse(res, false); err != nil {
		logrus.Debugf("error dumping response from %s: %v", req.URL.Redacted(), err)
	} else {
		logrus.Debugf("response from image service:\n%s", dump)
	}
	return res, err
}
