package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchHTTPClientHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "rangefetch-test" {
			t.Errorf("User-Agent = %q", got)
		}
		if got := r.Header.Get("X-Token"); got != "secret" {
			t.Errorf("X-Token = %q", got)
		}
	}))
	defer server.Close()

	client := NewFetchHTTPClient(HTTPClientConfig{
		UserAgent: "rangefetch-test",
		Headers:   map[string]string{"X-Token": "secret"},
	})
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
}

func TestFetchHTTPClientDefaults(t *testing.T) {
	client := NewFetchHTTPClient(HTTPClientConfig{IdlePerHost: 40})
	if client.config.UserAgent != DefaultUserAgent {
		t.Errorf("default user agent not applied: %q", client.config.UserAgent)
	}
	if client.client.Timeout != DefaultRequestTimeout {
		t.Errorf("timeout = %v", client.client.Timeout)
	}
	transport := client.client.Transport.(*http.Transport)
	if transport.MaxIdleConnsPerHost != 40 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 40", transport.MaxIdleConnsPerHost)
	}
	if transport.IdleConnTimeout != DefaultKATimeout {
		t.Errorf("IdleConnTimeout = %v", transport.IdleConnTimeout)
	}
}

func TestFetchHTTPClientInsecureTLS(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	strict := NewFetchHTTPClient(HTTPClientConfig{Timeout: 5 * time.Second})
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	if resp, err := strict.Do(req); err == nil {
		resp.Body.Close()
		t.Fatal("expected certificate error without InsecureTLS")
	}

	insecure := NewFetchHTTPClient(HTTPClientConfig{Timeout: 5 * time.Second, InsecureTLS: true})
	req, _ = http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := insecure.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
}

func TestFetchHTTPClientProxy(t *testing.T) {
	var sawProxyAuth bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawProxyAuth = r.Header.Get("Proxy-Authorization") != ""
		w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	client := NewFetchHTTPClient(HTTPClientConfig{
		ProxyURL:      proxy.URL,
		ProxyUsername: "user",
		ProxyPassword: "pass",
	})
	req, _ := http.NewRequest(http.MethodGet, "http://example.invalid/file", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if !sawProxyAuth {
		t.Error("expected Proxy-Authorization header at the proxy")
	}
}
