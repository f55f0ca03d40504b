package hangup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type captureBroadcaster struct {
	callID, errorType, message string
	calls                      int
}

func (c *captureBroadcaster) Error(callID, errorType, message string) {
	c.callID, c.errorType, c.message = callID, errorType, message
	c.calls++
}

func TestHangupSuccess(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bc := &captureBroadcaster{}
	client := NewClient(Config{
		EndpointFmt: server.URL + "/calls/%s/terminate",
		BearerToken: "secret-token",
	}, bc, nil)

	if err := client.Hangup(context.Background(), "CA123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/calls/CA123/terminate") {
		t.Errorf("expected call id substituted into path, got %s", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
	if bc.calls != 0 {
		t.Errorf("expected no broadcast on success, got %d calls", bc.calls)
	}
}

func TestHangupFailureBroadcastsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	bc := &captureBroadcaster{}
	client := NewClient(Config{
		EndpointFmt: server.URL + "/calls/%s/terminate",
		BearerToken: "secret-token",
	}, bc, nil)

	err := client.Hangup(context.Background(), "CA999")
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	if bc.calls != 1 || bc.callID != "CA999" || bc.errorType != "hangup_failed" {
		t.Errorf("expected hangup_failed broadcast for CA999, got %+v", bc)
	}
}
