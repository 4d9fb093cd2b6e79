package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		_, _ = w.Write([]byte("ok"))
	}))
	defer healthy.Close()
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	ctx := context.Background()
	assert.NoError(t, check(ctx, healthy.Client(), healthy.URL+"/healthz"))
	assert.ErrorContains(t, check(ctx, unhealthy.Client(), unhealthy.URL+"/healthz"), "status 503")
	assert.Error(t, check(ctx, http.DefaultClient, "http://127.0.0.1:1/healthz"))
}
