package network

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"aggr-server/src/logger"
	"aggr-server/src/models"
)

// -----------------------------------------------------------------------------
// RESTClient performs the adapters' product and instrument fetches. Exchange
// REST APIs rate-limit and IP-ban aggressively (Binance answers 429, then 418
// once the address is burned), so responses are classified per status class:
// rate limits honor Retry-After and rotate to the next proxy, geo-blocks
// (403/451) rotate and retry, transient 5xx retry in place, and every other
// client error fails fast.
// -----------------------------------------------------------------------------

type RESTClient struct {
	Config *models.MConfig
	Logger *logger.Logger

	mu       sync.Mutex
	client   *http.Client
	proxies  []*url.URL
	proxyIdx int
}

// -----------------------------------------------------------------------------

func NewRESTClient(cfg *models.MConfig, log *logger.Logger) *RESTClient {
	c := &RESTClient{
		Config: cfg,
		Logger: log,
	}
	if cfg.Network.Enabled {
		c.proxies = parseProxies(cfg.Network.Proxies, log)
	}
	c.client = c.buildClient()
	return c
}

// -----------------------------------------------------------------------------

// parseProxies keeps only entries that parse as http(s) or socks5 URLs;
// schemeless entries default to http.
func parseProxies(raw []string, log *logger.Logger) []*url.URL {
	var out []*url.URL
	for _, entry := range raw {
		if !strings.Contains(entry, "://") {
			entry = "http://" + entry
		}
		u, err := url.Parse(entry)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "socks5") {
			log.Warning("Ignoring invalid proxy '%s'", entry)
			continue
		}
		out = append(out, u)
	}
	return out
}

// -----------------------------------------------------------------------------

// buildClient assembles the transport for the currently selected proxy.
func (c *RESTClient) buildClient() *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	if len(c.proxies) > 0 {
		transport.Proxy = http.ProxyURL(c.proxies[c.proxyIdx])
	}

	timeout := time.Duration(c.Config.Network.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// -----------------------------------------------------------------------------

// nextProxy advances the rotation and rebuilds the transport. Without
// proxies the burned address cannot be left; the retry loop still backs off.
func (c *RESTClient) nextProxy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.proxies) < 2 {
		return
	}

	c.proxyIdx = (c.proxyIdx + 1) % len(c.proxies)
	c.Logger.Info("Switching to proxy %s", c.proxies[c.proxyIdx].Host)
	c.client = c.buildClient()
}

// -----------------------------------------------------------------------------

func (c *RESTClient) httpClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// -----------------------------------------------------------------------------

func (c *RESTClient) userAgent() string {
	if ua := c.Config.Network.UserAgent; ua != "" {
		return ua
	}
	return "aggr-server/1.0"
}

// -----------------------------------------------------------------------------

// Get fetches one REST resource with venue-aware retries.
func (c *RESTClient) Get(urlStr string, params map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	reqURL.RawQuery = q.Encode()

	attempts := c.Config.Network.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 500 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		req, err := http.NewRequest(http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent())
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient().Do(req)
		if err != nil {
			lastErr = err
			c.Logger.Info("Request failed (attempt %d/%d): %v", attempt+1, attempts, err)
			c.nextProxy()
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == 200:
			if readErr != nil {
				lastErr = readErr
				continue
			}
			return body, nil

		case resp.StatusCode == 429 || resp.StatusCode == 418:
			// Rate limited, or already IP-banned. Honor Retry-After and
			// move off the burned address.
			lastErr = fmt.Errorf("rate limited (status %d)", resp.StatusCode)
			if wait := retryAfter(resp); wait > backoff {
				backoff = wait
			}
			c.Logger.Warning("Rate limited (%d), backing off %v", resp.StatusCode, backoff)
			c.nextProxy()

		case resp.StatusCode == 403 || resp.StatusCode == 451:
			// Geo-blocked or firewalled; only a different route can help
			lastErr = fmt.Errorf("blocked (status %d)", resp.StatusCode)
			c.Logger.Warning("Blocked (%d), rotating proxy", resp.StatusCode)
			c.nextProxy()

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("upstream error (status %d)", resp.StatusCode)
			c.Logger.Info("Upstream error %d, retrying", resp.StatusCode)

		default:
			// Remaining 4xx are stable; retrying cannot fix the request
			return nil, fmt.Errorf("bad status: %d", resp.StatusCode)
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %v", lastErr)
}

// -----------------------------------------------------------------------------

// GetJSON fetches one REST resource and decodes the JSON body into v.
func (c *RESTClient) GetJSON(urlStr string, params map[string]string, v interface{}) error {
	body, err := c.Get(urlStr, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", urlStr, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// retryAfter reads the venue's requested pause, when present.
func retryAfter(resp *http.Response) time.Duration {
	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
