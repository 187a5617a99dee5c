package storage_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/kernelctx/pkg/adapters/storage"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchWithBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "s3cret", pass)
		assert.Equal(t, "/models/sir", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"sir","count":3}`))
	}))
	defer srv.Close()

	metrics := observability.NewMetrics()
	client := storage.New(srv.URL+"/",
		storage.WithCredentials(storage.StaticCredentials{Username: "alice", Password: "s3cret"}),
		storage.WithMetrics(metrics),
	)

	doc, err := client.Fetch(context.Background(), "models", "sir")
	require.NoError(t, err)
	assert.Equal(t, "sir", doc["id"])
	assert.Equal(t, json.Number("3"), doc["count"])
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.StorageRequests))
}

func TestClient_NoCredentialsIsUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		assert.False(t, ok)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := storage.New(srv.URL).Fetch(context.Background(), "models", "x")
	require.NoError(t, err)
}

func TestClient_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := storage.New(srv.URL).Fetch(context.Background(), "models", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	assert.ErrorIs(t, err, domain.ErrRemoteFetch)
	assert.Contains(t, err.Error(), "no such model")
}

func TestClient_ServerErrorIsNotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := storage.New(srv.URL).Fetch(context.Background(), "models", "x")
	assert.ErrorIs(t, err, domain.ErrRemoteFetch)
	assert.NotErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestClient_MissingBaseURL(t *testing.T) {
	client := storage.New("", storage.WithSettingName("DATA_SERVICE_URL"))

	_, err := client.Fetch(context.Background(), "models", "x")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "DATA_SERVICE_URL")
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := storage.New(srv.URL, storage.WithTimeout(50*time.Millisecond)).Fetch(context.Background(), "models", "slow")
	assert.ErrorIs(t, err, domain.ErrRemoteFetch)
}

func TestClient_FetchDeduplicatesConcurrentCalls(t *testing.T) {
	var hits atomic.Int32
	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-gate
		_, _ = w.Write([]byte(`{"name":"SIR"}`))
	}))
	defer srv.Close()

	client := storage.New(srv.URL)
	var wg sync.WaitGroup
	docs := make([]domain.Document, 5)
	for i := range docs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := client.Fetch(context.Background(), "models", "sir")
			assert.NoError(t, err)
			docs[i] = doc
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.LessOrEqual(t, hits.Load(), int32(5))
	docs[0]["name"] = "changed"
	for _, d := range docs[1:] {
		assert.Equal(t, "SIR", d["name"])
	}
}

func TestClient_FetchSurvivesCancelledCaller(t *testing.T) {
	var hits atomic.Int32
	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte(`{"name":"SIR"}`))
	}))
	defer srv.Close()
	client := storage.New(srv.URL)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := client.Fetch(leaderCtx, "models", "sir")
		leader <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		doc domain.Document
		err error
	}
	follower := make(chan result, 1)
	go func() {
		doc, err := client.Fetch(context.Background(), "models", "sir")
		follower <- result{doc, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leader, context.Canceled)

	close(gate)
	res := <-follower
	require.NoError(t, res.err)
	assert.Equal(t, "SIR", res.doc["name"])
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_CreateUploadDownload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /datasets", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "regridded", body["name"])
		_, _ = w.Write([]byte(`{"id":"ds-1","name":"regridded"}`))
	})
	mux.HandleFunc("PUT /datasets/ds-1/upload-file", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "regridded.nc", r.URL.Query().Get("filename"))
		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "regridded.nc", header.Filename)
		assert.Equal(t, "netcdf-bytes", string(data))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /datasets/ds-1/download-url", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"url":"https://bucket/ds-1/` + r.URL.Query().Get("filename") + `"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := storage.New(srv.URL)
	ctx := context.Background()

	created, err := client.Create(ctx, "datasets", domain.Document{"name": "regridded"})
	require.NoError(t, err)
	assert.Equal(t, "ds-1", created["id"])

	require.NoError(t, client.Upload(ctx, "datasets", "ds-1", "regridded.nc", []byte("netcdf-bytes")))

	u, err := client.DownloadURL(ctx, "datasets", "ds-1", "data.nc")
	require.NoError(t, err)
	assert.Equal(t, "https://bucket/ds-1/data.nc", u)
}
