package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"dropwatch/pkg/logx"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fetch(t *testing.T, srv *httptest.Server) ([]Item, error) {
	t.Helper()
	f := NewHTTPFetcher(HTTPConfig{URL: srv.URL}, logx.Nop())
	return f.Fetch(context.Background())
}

func TestFetchProductsKey(t *testing.T) {
	srv := serve(t, 200, `{"products":[
		{"id":"p1","name":"Plush","url":"https://x/p1","image":"https://x/p1.jpg","description":"soft","price":"$24.99"},
		{"id":"p2","name":"Cards","price":4.5}
	]}`)
	items, err := fetch(t, srv)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].ID != "p1" || items[0].Name != "Plush" || items[0].Price != "$24.99" {
		t.Fatalf("item 0 = %+v", items[0])
	}
	// Numeric prices come through as their textual form.
	if items[1].Price != "4.5" {
		t.Fatalf("numeric price = %q, want 4.5", items[1].Price)
	}
}

func TestFetchTopLevelArray(t *testing.T) {
	srv := serve(t, 200, `[{"id":"a","name":"A"},{"id":"b","name":"B"}]`)
	items, err := fetch(t, srv)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 || items[0].ID != "a" || items[1].ID != "b" {
		t.Fatalf("items = %+v", items)
	}
}

func TestFetchSkuFallback(t *testing.T) {
	srv := serve(t, 200, `{"products":[{"sku":"SKU-9","name":"Figure"}]}`)
	items, err := fetch(t, srv)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 1 || items[0].ID != "SKU-9" {
		t.Fatalf("items = %+v", items)
	}
}

func TestFetchDefaultsMissingName(t *testing.T) {
	srv := serve(t, 200, `{"products":[{"id":"x"}]}`)
	items, err := fetch(t, srv)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if items[0].Name != "Unknown" {
		t.Fatalf("name = %q, want Unknown", items[0].Name)
	}
}

func TestFetchMissingIDFailsWholeBatch(t *testing.T) {
	srv := serve(t, 200, `{"products":[{"id":"a","name":"A"},{"name":"no id"}]}`)
	_, err := fetch(t, srv)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
	if fe.Op != "parse" {
		t.Fatalf("op = %q, want parse", fe.Op)
	}
}

func TestFetchBadResponses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		op     string
	}{
		{"server error", 503, "busy", "get"},
		{"not found", 404, "", "get"},
		{"invalid json", 200, "<html>block page</html>", "parse"},
		{"no products array", 200, `{"count":0}`, "parse"},
		{"products not an array", 200, `{"products":{"a":1}}`, "parse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, tc.status, tc.body)
			_, err := fetch(t, srv)
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want FetchError", err)
			}
			if fe.Op != tc.op {
				t.Fatalf("op = %q, want %q", fe.Op, tc.op)
			}
		})
	}
}

func TestFetchSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"products":[]}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{URL: srv.URL, UserAgent: "dropwatch/1.0"}, logx.Nop())
	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotUA != "dropwatch/1.0" {
		t.Fatalf("User-Agent = %q", gotUA)
	}
}

func TestApplySwitchesEndpoint(t *testing.T) {
	first := serve(t, 200, `{"products":[{"id":"old"}]}`)
	second := serve(t, 200, `{"products":[{"id":"new"}]}`)

	f := NewHTTPFetcher(HTTPConfig{URL: first.URL}, logx.Nop())
	items, err := f.Fetch(context.Background())
	if err != nil || items[0].ID != "old" {
		t.Fatalf("first fetch: %v %+v", err, items)
	}

	f.Apply(HTTPConfig{URL: second.URL})
	items, err = f.Fetch(context.Background())
	if err != nil || items[0].ID != "new" {
		t.Fatalf("second fetch: %v %+v", err, items)
	}
}
