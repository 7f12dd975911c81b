package observability

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestNewHTTPClient_NotNil(t *testing.T) {
	c := NewHTTPClient(nil)
	if c == nil {
		t.Fatalf("expected non-nil client")
	}
	if c.Transport == nil {
		t.Fatalf("expected instrumented transport")
	}
}

func TestNewHTTPClient_PreservesBaseTransport(t *testing.T) {
	called := false
	base := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		called = true
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
	})}

	c := NewHTTPClient(base)
	req, err := http.NewRequest(http.MethodGet, "http://example.test", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if _, err := c.Do(req); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !called {
		t.Fatalf("expected wrapped transport to be invoked")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
