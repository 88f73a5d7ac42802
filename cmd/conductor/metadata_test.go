package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// newMetadataServer serves an empty live workflow set for every owner.
func newMetadataServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"workflow_ids":[]}`))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}
