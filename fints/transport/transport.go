// Package transport exchanges raw FinTS messages with a bank over HTTPS.
package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/alapierre/go-fints-client/fints/util"
	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "fints.transport")

// Transport sends one message and returns the raw answer. Both directions
// carry plain protocol bytes, any transfer encoding is the transport's job.
type Transport interface {
	Send(ctx context.Context, endpoint string, msg []byte) ([]byte, error)
}

// ConnectionFailedError is returned when the bank could not be reached.
type ConnectionFailedError struct {
	Host string
	Port string
	Path string
	Err  error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection to %s:%s%s failed: %v", e.Host, e.Port, e.Path, e.Err)
}

func (e *ConnectionFailedError) Unwrap() error { return e.Err }

// RequestError is a non 2xx HTTP answer.
type RequestError struct {
	StatusCode int
	Body       string
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("bank answered with http status %d: %s", r.StatusCode, r.Body)
}

type Option func(*HTTP)

func WithTimeout(d time.Duration) Option {
	return func(h *HTTP) {
		h.rest.SetTimeout(d)
	}
}

// WithRestClient replaces the underlying resty client.
func WithRestClient(c *resty.Client) Option {
	return func(h *HTTP) {
		h.rest = c
	}
}

// HTTP posts base64 encoded messages as text/plain.
type HTTP struct {
	rest *resty.Client
}

func NewHTTP(opts ...Option) *HTTP {
	h := &HTTP{rest: resty.New().SetTimeout(60 * time.Second)}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *HTTP) Send(ctx context.Context, endpoint string, msg []byte) ([]byte, error) {
	r := h.rest.R().SetContext(ctx)
	if util.HttpTraceEnabled() {
		r.EnableTrace()
	}

	resp, err := r.
		SetHeader("Content-Type", "text/plain").
		SetBody(base64.StdEncoding.EncodeToString(msg)).
		Post(endpoint)

	if util.HttpTraceEnabled() && resp != nil {
		printTraceInfo(endpoint, resp)
	}
	if err != nil {
		return nil, connectionFailed(endpoint, err)
	}
	if resp.IsError() {
		return nil, &RequestError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	raw, err := decodeBody(resp.Body())
	if err != nil {
		return nil, errors.Wrap(err, "decode bank response")
	}
	return raw, nil
}

// decodeBody accepts base64 with line breaks, as sent by several banks.
func decodeBody(body []byte) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, string(body))
	return base64.StdEncoding.DecodeString(clean)
}

func connectionFailed(endpoint string, err error) error {
	e := &ConnectionFailedError{Err: err}
	u, parseErr := url.Parse(endpoint)
	if parseErr != nil {
		e.Host = endpoint
		return e
	}
	e.Host = u.Hostname()
	e.Port = u.Port()
	if e.Port == "" {
		e.Port = "443"
		if u.Scheme == "http" {
			e.Port = "80"
		}
	}
	e.Path = u.EscapedPath()
	return e
}

func printTraceInfo(endpoint string, resp *resty.Response) {
	ti := resp.Request.TraceInfo()
	var addr string
	if ti.RemoteAddr != nil {
		if host, _, err := net.SplitHostPort(ti.RemoteAddr.String()); err == nil {
			addr = host
		}
	}
	logger.WithFields(logrus.Fields{
		"endpoint":   endpoint,
		"status":     resp.StatusCode(),
		"remoteAddr": addr,
		"dnsLookup":  ti.DNSLookup,
		"tlsHandshk": ti.TLSHandshake,
		"serverTime": ti.ServerTime,
		"totalTime":  ti.TotalTime,
		"connReused": ti.IsConnReused,
	}).Debug("Request trace")
}
