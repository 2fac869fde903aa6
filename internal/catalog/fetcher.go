package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"dropwatch/pkg/logx"
)

// FetchError wraps any transport or response-format failure. A poll cycle
// that sees one aborts and retries on the next tick; it is never fatal.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string { return "catalog fetch: " + e.Op + ": " + e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves the current catalog snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Item, error)
}

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxResponseBytes = 8 << 20
)

type HTTPConfig struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// HTTPFetcher pulls a JSON product listing over HTTP. The response is read
// tolerantly: products may live under a "products" key or as a top-level
// array, ids may be "id" or "sku", and prices may be numbers or strings.
type HTTPFetcher struct {
	mu  sync.RWMutex
	cfg HTTPConfig

	client *http.Client
	log    logx.Logger
}

func NewHTTPFetcher(cfg HTTPConfig, log logx.Logger) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.Timeout = timeout
	return &HTTPFetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Apply swaps the endpoint settings at runtime (config hot reload).
func (f *HTTPFetcher) Apply(cfg HTTPConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Timeout != f.cfg.Timeout {
		f.client = &http.Client{Timeout: cfg.Timeout}
	}
	f.cfg = cfg
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]Item, error) {
	f.mu.RLock()
	cfg := f.cfg
	client := f.client
	f.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, &FetchError{Op: "request", Err: err}
	}
	ua := cfg.UserAgent
	if strings.TrimSpace(ua) == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Op: "get", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, &FetchError{Op: "get", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &FetchError{Op: "read", Err: err}
	}

	items, err := parseProducts(body)
	if err != nil {
		return nil, &FetchError{Op: "parse", Err: err}
	}
	f.log.Debug("catalog fetched", logx.Int("items", len(items)))
	return items, nil
}

func parseProducts(body []byte) ([]Item, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json")
	}
	root := gjson.ParseBytes(body)

	products := root.Get("products")
	if !products.Exists() && root.IsArray() {
		products = root
	}
	if !products.IsArray() {
		return nil, fmt.Errorf("no products array")
	}

	var (
		items    []Item
		parseErr error
	)
	products.ForEach(func(_, p gjson.Result) bool {
		id := strings.TrimSpace(p.Get("id").String())
		if id == "" {
			id = strings.TrimSpace(p.Get("sku").String())
		}
		if id == "" {
			parseErr = fmt.Errorf("product %d: missing id", len(items))
			return false
		}
		name := strings.TrimSpace(p.Get("name").String())
		if name == "" {
			name = "Unknown"
		}
		items = append(items, Item{
			ID:          id,
			Name:        name,
			URL:         p.Get("url").String(),
			ImageURL:    p.Get("image").String(),
			Description: p.Get("description").String(),
			Price:       p.Get("price").String(),
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return items, nil
}
