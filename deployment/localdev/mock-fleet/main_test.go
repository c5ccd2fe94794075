package main

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFleetToggles(t *testing.T) {
	f := newFleet([]string{"bridge"})
	srv := httptest.NewServer(newRouter(f, log.New(io.Discard, "", 0)))
	defer srv.Close()

	get := func(path string) int {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	post := func(path string) {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("post %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("post %s: status %d", path, resp.StatusCode)
		}
	}

	if code := get("/bridge/health"); code != http.StatusOK {
		t.Fatalf("expected healthy bridge, got %d", code)
	}
	post("/bridge/fail")
	if code := get("/bridge/health"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected failing bridge, got %d", code)
	}
	post("/bridge/restart")
	if code := get("/bridge/health"); code != http.StatusOK {
		t.Fatalf("expected restart to heal bridge, got %d", code)
	}
	if s, _ := f.get("bridge"); s.Restarts != 1 {
		t.Fatalf("expected one restart, got %d", s.Restarts)
	}
	if code := get("/unknown/health"); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown service, got %d", code)
	}
}
