package transcriber

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync"
	"time"
)

// idleTimeout is how long a warmed connection is expected to stay pooled.
const idleTimeout = 90 * time.Second

// uploadClient posts recordings and times every phase of the request. It
// remembers which API hosts it has warmed so a recording handed off right
// after Stop reuses the pooled connection.
type uploadClient struct {
	client *http.Client

	mu     sync.Mutex
	warmed map[string]time.Time // host -> last warm or upload
}

func newUploadClient() *uploadClient {
	return &uploadClient{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     idleTimeout,
				ForceAttemptHTTP2:   true,
			},
		},
		warmed: make(map[string]time.Time),
	}
}

type uploadResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

// Upload sends a recording request. req must carry a body of known length.
func (c *uploadClient) Upload(req *http.Request) (*uploadResponse, error) {
	metrics := &NetworkMetrics{
		UploadBytes: req.ContentLength,
		Prewarmed:   c.isWarm(req.URL.Host),
	}
	var getConnStart, dnsStart, tcpStart, tlsStart time.Time
	var gotConn, wroteHeaders, wroteRequest time.Time

	trace := &httptrace.ClientTrace{
		GetConn: func(_ string) { getConnStart = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			gotConn = time.Now()
			metrics.ConnWait = gotConn.Sub(getConnStart)
			metrics.ConnReused = info.Reused
		},
		DNSStart:          func(_ httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:           func(_ httptrace.DNSDoneInfo) { metrics.DNS = time.Since(dnsStart) },
		ConnectStart:      func(_, _ string) { tcpStart = time.Now() },
		ConnectDone:       func(_, _ string, _ error) { metrics.TCP = time.Since(tcpStart) },
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			metrics.TLS = time.Since(tlsStart)
			metrics.TLSProtocol = tls.VersionName(cs.Version)
		},
		WroteHeaders: func() {
			wroteHeaders = time.Now()
			metrics.ReqHeaders = wroteHeaders.Sub(gotConn)
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			wroteRequest = time.Now()
			metrics.ReqBody = wroteRequest.Sub(wroteHeaders)
		},
		GotFirstResponseByte: func() {
			metrics.TTFB = time.Since(wroteRequest)
		},
	}

	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.markWarm(req.URL.Host)

	firstByte := time.Now()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	metrics.Download = time.Since(firstByte)
	metrics.Total = time.Since(start)

	return &uploadResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    metrics,
	}, nil
}

// Warm opens a connection to endpoint's host ahead of the upload and reports
// how long the TLS handshake took. A host warmed within the idle timeout is
// skipped and reports 0. Errors are ignored.
func (c *uploadClient) Warm(ctx context.Context, endpoint string) time.Duration {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || c.isWarm(u.Host) {
		return 0
	}

	var tlsStart time.Time
	var tlsDuration time.Duration
	trace := &httptrace.ClientTrace{
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone:  func(_ tls.ConnectionState, _ error) { tlsDuration = time.Since(tlsStart) },
	}

	// The root of the API host; upload endpoints reject HEAD on some providers.
	root := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodHead, root.String(), nil)
	if err != nil {
		return 0
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	c.markWarm(u.Host)
	return tlsDuration
}

func (c *uploadClient) isWarm(host string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.warmed[host]
	return ok && time.Since(at) < idleTimeout
}

func (c *uploadClient) markWarm(host string) {
	c.mu.Lock()
	c.warmed[host] = time.Now()
	c.mu.Unlock()
}
