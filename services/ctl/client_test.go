package ctl

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatal("expected an error with no endpoint configured")
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"start_address is above end_address"}`))
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.CreateRange(context.Background(), RangeSpec{
		SubnetID:     "7b0f8f5e-0000-0000-0000-000000000000",
		StartAddress: "10.0.0.200",
		EndAddress:   "10.0.0.100",
	})
	if err == nil {
		t.Fatal("expected the API error to propagate")
	}
	if !strings.Contains(err.Error(), "start_address is above end_address") {
		t.Fatalf("err = %v, want the server message", err)
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"subnets":[]}`))
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "abc.def"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.ListSubnets(context.Background()); err != nil {
		t.Fatalf("ListSubnets: %v", err)
	}
	if gotAuth != "Bearer abc.def" {
		t.Fatalf("Authorization = %q, want Bearer abc.def", gotAuth)
	}
}

func TestClientUnixSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "api.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen unix: %v", err)
	}

	var gotPath string
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	client, err := NewClient(ClientConfig{SocketPath: socketPath})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health over unix socket: %v", err)
	}
	if gotPath != "/health" {
		t.Fatalf("request path = %q, want /health", gotPath)
	}
}
