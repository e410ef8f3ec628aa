package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendPushSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewPushClient(srv.URL)
	ok, err := c.SendPush(context.Background(), "tok", "user1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected success")
	}
}

func TestSendPushFailureOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewPushClient(srv.URL)
	ok, err := c.SendPush(context.Background(), "tok", "user1", "hello")
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
	if ok {
		t.Error("expected failure")
	}
}
