package telegram

import (
	"strings"
	"testing"
	"time"

	"dropwatch/internal/transport"
	"dropwatch/pkg/logx"
)

func TestNewRejectsEmptyToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("blank token accepted")
	}
}

func TestRenderListing(t *testing.T) {
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	l := transport.Listing{
		Title:       "Snorlax Plush <XL>",
		URL:         "https://shop.example.com/p?a=1&b=2",
		Description: "Big & soft",
		Price:       "$49.99",
		At:          at,
	}
	got := renderListing(l)

	for _, want := range []string{
		"<b>New listing</b>",
		"<b>Snorlax Plush &lt;XL&gt;</b>",
		"Price: $49.99",
		"Big &amp; soft",
		`<a href="https://shop.example.com/p?a=1&amp;b=2">View product</a>`,
		"<i>2026-08-30 12:00 UTC</i>",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("render missing %q:\n%s", want, got)
		}
	}
}

func TestRenderListingSparse(t *testing.T) {
	got := renderListing(transport.Listing{})
	if !strings.Contains(got, "<b>Unknown</b>") {
		t.Fatalf("missing title fallback:\n%s", got)
	}
	for _, absent := range []string{"Price:", "<a href", "<i>"} {
		if strings.Contains(got, absent) {
			t.Fatalf("sparse render carries %q:\n%s", absent, got)
		}
	}
}

func TestEscapeHTML(t *testing.T) {
	if got := escapeHTML(`a<b>&"c"`); got != "a&lt;b&gt;&amp;&quot;c&quot;" {
		t.Fatalf("escapeHTML = %q", got)
	}
}
