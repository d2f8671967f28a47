package http

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
)

func TestClientResolver(t *testing.T) {
	proxies := clientResolver{proxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}}

	tests := []struct {
		name     string
		resolver clientResolver
		remote   string
		xff      string
		want     string
	}{
		{"no proxies ignores header", clientResolver{}, "10.0.0.5:4000", "203.0.113.9", "10.0.0.5"},
		{"untrusted peer ignores header", proxies, "198.51.100.7:4000", "203.0.113.9", "198.51.100.7"},
		{"trusted peer uses forwarded client", proxies, "10.0.0.5:4000", "203.0.113.9", "203.0.113.9"},
		{"spoofed left hop is skipped", proxies, "10.0.0.5:4000", "1.1.1.1, 203.0.113.9, 10.0.0.6", "203.0.113.9"},
		{"garbage header falls back to peer", proxies, "10.0.0.5:4000", "not-an-ip", "10.0.0.5"},
		{"missing header falls back to peer", proxies, "10.0.0.5:4000", "", "10.0.0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := tt.resolver.clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSuspicionReason(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		agent  string
		want   string
	}{
		{"plain api call", http.MethodGet, "/api/transactions?q=rent", "curl/8.0", ""},
		{"path traversal", http.MethodGet, "/api/../etc/passwd", "", "attack pattern"},
		{"php admin page", http.MethodGet, "/wp-login.php", "", "attack pattern"},
		{"dotfile", http.MethodGet, "/static/.env", "", "attack pattern"},
		{"scanner", http.MethodGet, "/api/dashboard", "sqlmap/1.7", "scanner user agent"},
		{"trace", "TRACE", "/api/dashboard", "", "unusual method"},
		{"long url", http.MethodGet, "/api/transactions?q=" + strings.Repeat("a", maxURLLength), "", "oversized url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, nil)
			r.Header.Set("User-Agent", tt.agent)
			got := suspicionReason(r)
			if tt.want == "" && got != "" {
				t.Errorf("unexpected reason %q", got)
			}
			if tt.want != "" && !strings.HasPrefix(got, tt.want) {
				t.Errorf("reason = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestSuspiciousRequestsAreCountedAndServed(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.Header.Set("User-Agent", "nikto")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if _, suspicious := srv.metrics.snapshot(); suspicious != 1 {
		t.Errorf("suspicious = %d, want 1", suspicious)
	}
}
