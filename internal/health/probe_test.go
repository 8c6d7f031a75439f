package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPProbe_HealthyJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	probe := HTTPProbe(srv.URL, 2*time.Second)

	assert.NoError(t, probe(context.Background()))
}

func TestHTTPProbe_UnhealthyStatusField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer srv.Close()

	probe := HTTPProbe(srv.URL, 2*time.Second)
	err := probe(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "degraded")
}

func TestHTTPProbe_NonJSONBodyIsFine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer srv.Close()

	probe := HTTPProbe(srv.URL, 2*time.Second)

	assert.NoError(t, probe(context.Background()))
}

func TestHTTPProbe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	probe := HTTPProbe(srv.URL, 2*time.Second)
	err := probe(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPProbe_Unreachable(t *testing.T) {
	probe := HTTPProbe("http://127.0.0.1:1", 500*time.Millisecond)

	assert.Error(t, probe(context.Background()))
}
