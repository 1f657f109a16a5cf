package httputil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStandardClient_Wraps(t *testing.T) {
	customClient := &http.Client{}
	client := NewStandardClient(customClient)

	if client.Client != customClient {
		t.Error("expected custom client to be wrapped")
	}
}

func TestStandardClient_NilGetsTimeout(t *testing.T) {
	client := NewStandardClient(nil)
	if client.Client.Timeout == 0 {
		t.Error("expected nil client to default to a timeout")
	}
}

func TestStandardClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "brew")
	}))
	defer srv.Close()

	resp, err := NewStandardClient(nil).Get(srv.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusTeapot)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "brew" {
		t.Errorf("got body %q, want %q", string(body), "brew")
	}
}

func TestMockHTTPClient_ReplaysInOrder(t *testing.T) {
	mock := NewMockHTTPClient().
		AddResponse(http.StatusOK, "first").
		AddResponse(http.StatusNotFound, "second")

	resp, err := mock.Get("http://example.test/a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "first" {
		t.Errorf("got %d %q, want 200 \"first\"", resp.StatusCode, string(body))
	}

	resp, err = mock.Get("http://example.test/b")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d, want 404", resp.StatusCode)
	}
}

func TestMockHTTPClient_ExhaustedQueueDefaultsToOK(t *testing.T) {
	mock := NewMockHTTPClient()

	resp, err := mock.Get("http://example.test")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want 200", resp.StatusCode)
	}
}

func TestMockHTTPClient_ErrorResponse(t *testing.T) {
	wantErr := errors.New("connection refused")
	mock := NewMockHTTPClient().AddErrorResponse(wantErr)

	_, err := mock.Get("http://example.test")
	if !errors.Is(err, wantErr) {
		t.Errorf("got error %v, want %v", err, wantErr)
	}
}

func TestMockHTTPClient_RecordsRequests(t *testing.T) {
	mock := NewMockHTTPClient()

	resp, _ := mock.Get("http://example.test/one")
	resp.Body.Close()
	resp, _ = mock.Get("http://example.test/two")
	resp.Body.Close()

	if mock.RequestCount() != 2 {
		t.Fatalf("got %d requests, want 2", mock.RequestCount())
	}
	if got := mock.GetRequest(0).URL.String(); got != "http://example.test/one" {
		t.Errorf("first request URL %q", got)
	}
	if got := mock.GetRequest(1).URL.Path; got != "/two" {
		t.Errorf("second request path %q", got)
	}
	if mock.GetRequest(5) != nil {
		t.Error("out-of-range request should be nil")
	}
}
