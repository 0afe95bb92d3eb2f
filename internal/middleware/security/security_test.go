package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractClientIP(t *testing.T) {
	d := NewDetector()
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"direct", "203.0.113.9:5555", "", "", "203.0.113.9"},
		{"untrusted proxy header ignored", "203.0.113.9:5555", "1.1.1.1", "", "203.0.113.9"},
		{"trusted proxy xff", "10.0.0.2:80", "198.51.100.7, 10.0.0.2", "", "198.51.100.7"},
		{"trusted proxy x-real-ip", "127.0.0.1:80", "", "198.51.100.8", "198.51.100.8"},
		{"garbage forwarded value", "192.168.1.1:80", "not-an-ip", "", "192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, d.ExtractClientIP(r))
		})
	}
}

func TestDetectSuspiciousRequest(t *testing.T) {
	d := NewDetector()

	clean := httptest.NewRequest(http.MethodGet, "/api/recurring-expenses?active=false", nil)
	clean.Header.Set("User-Agent", "curl/8.4.0")
	assert.False(t, d.DetectSuspiciousRequest(clean))

	dotenv := httptest.NewRequest(http.MethodGet, "/.env", nil)
	assert.True(t, d.DetectSuspiciousRequest(dotenv))

	scanner := httptest.NewRequest(http.MethodGet, "/", nil)
	scanner.Header.Set("User-Agent", "sqlmap/1.7")
	assert.True(t, d.DetectSuspiciousRequest(scanner))

	assert.Equal(t, int64(2), d.GetMetrics().SuspiciousRequests)
}

func TestClassify(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name   string
		method string
		target string
		agent  string
		want   string
	}{
		{"clean", http.MethodPost, "/api/plaid/sync", "Go-http-client/1.1", ""},
		{"traversal in query", http.MethodGet, "/api/recurring-expenses?x=../../etc", "", "attack_pattern"},
		{"scanner", http.MethodGet, "/", "Nikto/2.5", "scanner_agent"},
		{"trace", "TRACE", "/", "", "unusual_method"},
		{"long url", http.MethodGet, "/" + strings.Repeat("a", maxURLLength), "", "long_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, nil)
			r.Header.Set("User-Agent", tt.agent)
			assert.Equal(t, tt.want, d.Classify(r))
		})
	}
}

func TestDetectorMiddlewarePassesThrough(t *testing.T) {
	d := NewDetector()
	h := d.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/wp-admin", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAddTrustedProxy(t *testing.T) {
	d := NewDetector()
	assert.Error(t, d.AddTrustedProxy("nope"))
	assert.NoError(t, d.AddTrustedProxy("203.0.113.0/24"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, "198.51.100.1", d.ExtractClientIP(r))
}

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(APIHeadersConfig()).Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.Empty(t, rr.Header().Get("Strict-Transport-Security"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "max-age=31536000; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))
}
