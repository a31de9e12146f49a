// Package upstream performs the single outbound call to a third-party
// provider for a proxy request or a health probe.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/apierror"
	"github.com/mrmushfiq/widget-api-gateway/internal/gateway/credentials"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

const (
	// MaxBodyBytes caps how much of a provider response is read
	MaxBodyBytes = 5 << 20

	// DefaultTimeout applies when a service has no timeout configured
	DefaultTimeout = 10 * time.Second

	userAgent = "widget-api-gateway/1.0"
)

// Result is a completed HTTP exchange. Any status code, including 4xx and
// 5xx, is a Result; classifying it is the caller's concern.
type Result struct {
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
}

// OK reports whether the provider answered 2xx
func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Invoker calls provider APIs
type Invoker struct {
	httpClient *http.Client
}

// maxRedirects matches net/http's default redirect limit
const maxRedirects = 10

// NewInvoker creates an invoker. Deadlines come from each service's
// timeout, so the client should not set its own Timeout. A nil client uses
// a pooled default. The client is copied and its redirect policy replaced
// so the request never follows a redirect off the service origin.
func NewInvoker(client *http.Client) *Invoker {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	c := *client
	c.CheckRedirect = sameOriginRedirect
	return &Invoker{httpClient: &c}
}

// sameOriginRedirect follows redirects that stay on the scheme and host of
// the first request. Anything else stops the chain and the 3xx response is
// returned as is, so credential headers and query params never reach
// another host.
func sameOriginRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	origin := via[0].URL
	if req.URL.Scheme != origin.Scheme || req.URL.Host != origin.Host {
		return http.ErrUseLastResponse
	}
	return nil
}

// Invoke issues GET base_url+endpoint with params and the credential
// attached. The returned Result always carries Elapsed, even when err is
// non-nil. Errors are *apierror.Error of kind InvalidRequest, Timeout or
// NetworkError.
func (i *Invoker) Invoke(ctx context.Context, svc models.ServiceConfig, secret credentials.Secret, placement credentials.Placement, endpoint string, params map[string]string) (Result, error) {
	target, err := BuildURL(svc.BaseURL, endpoint, params)
	if err != nil {
		return Result{}, err
	}

	timeout := svc.Timeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Result{}, apierror.Wrap(apierror.InvalidRequest, err, "invalid endpoint")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	secret.Attach(req, placement)

	startTime := time.Now()

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return Result{Elapsed: time.Since(startTime)}, classify(ctx, err, svc.Name, timeout)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	elapsed := time.Since(startTime)
	if err != nil {
		return Result{StatusCode: resp.StatusCode, Elapsed: elapsed}, classify(ctx, err, svc.Name, timeout)
	}
	if len(body) > MaxBodyBytes {
		return Result{StatusCode: resp.StatusCode, Elapsed: elapsed},
			apierror.New(apierror.NetworkError, "%s response exceeds %d bytes", svc.Name, MaxBodyBytes)
	}

	return Result{StatusCode: resp.StatusCode, Body: body, Elapsed: elapsed}, nil
}

// classify maps a transport failure to Timeout or NetworkError. The cause
// is kept for logs only; url.Error text can contain the query string and
// with it a credential.
func classify(parent context.Context, err error, service string, timeout time.Duration) error {
	if parent.Err() == nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return apierror.Wrap(apierror.Timeout, stripURL(err), "Request timeout after %ds", int(timeout.Seconds()))
		}
	}
	return apierror.Wrap(apierror.NetworkError, stripURL(err), "%s request failed", service)
}

// stripURL drops the request URL from a *url.Error so logging the cause
// cannot leak query-string credentials.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

// BuildURL joins baseURL and endpoint and appends params. The endpoint must
// be a plain path: absolute URLs, dot segments, queries and fragments are
// rejected, as is anything that resolves to a different host.
func BuildURL(baseURL, endpoint string, params map[string]string) (*url.URL, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, apierror.New(apierror.Internal, "service base URL is invalid")
	}

	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	target, err := url.Parse(strings.TrimSuffix(baseURL, "/") + endpoint)
	if err != nil {
		return nil, apierror.Wrap(apierror.InvalidRequest, err, "invalid endpoint")
	}
	if target.Scheme != base.Scheme || target.Host != base.Host {
		return nil, apierror.New(apierror.InvalidRequest, "endpoint must stay on the service host")
	}

	q := target.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	target.RawQuery = q.Encode()

	return target, nil
}

func validateEndpoint(endpoint string) error {
	switch {
	case endpoint == "":
		return apierror.New(apierror.InvalidRequest, "endpoint is required")
	case strings.Contains(endpoint, "://"), strings.HasPrefix(endpoint, "//"):
		return apierror.New(apierror.InvalidRequest, "endpoint must be a path, not a URL")
	case strings.ContainsAny(endpoint, "?#\\"):
		return apierror.New(apierror.InvalidRequest, "endpoint must not contain a query or fragment; use params")
	}

	for _, segment := range strings.Split(endpoint, "/") {
		if segment == ".." || segment == "." {
			return apierror.New(apierror.InvalidRequest, "endpoint must not contain dot segments")
		}
	}
	return nil
}
