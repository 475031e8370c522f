package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndPollToSuccess(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("Api-Key"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/analyze":
			assert.Equal(t, "1-10", r.URL.Query().Get("pages"))
			assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, []byte("%PDF-fake"), body)
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(submitResponse{JobID: "job-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/analyze/job-1":
			polls++
			status := StatusRunning
			if polls >= 2 {
				status = StatusSucceeded
			}
			json.NewEncoder(w).Encode(statusResponse{JobID: "job-1", Status: status})
		case r.Method == http.MethodGet && r.URL.Path == "/analyze/job-1/result":
			w.Write([]byte(`{"content":"hello"}`))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, APIKey: "test-key"})
	ctx := context.Background()

	job, err := client.Submit(ctx, []byte("%PDF-fake"), "1-10")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID())
	assert.False(t, job.Done())

	require.NoError(t, job.Refresh(ctx))
	assert.False(t, job.Done())

	require.NoError(t, job.Refresh(ctx))
	require.True(t, job.Done())
	assert.Equal(t, StatusSucceeded, job.Status())

	raw, err := job.Result(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"hello"}`, string(raw))
}

func TestFailedJobCarriesReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(submitResponse{JobID: "job-2"})
			return
		}
		json.NewEncoder(w).Encode(statusResponse{JobID: "job-2", Status: StatusFailed, Error: "corrupt input"})
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, APIKey: "k"})
	ctx := context.Background()

	job, err := client.Submit(ctx, []byte("x"), "1")
	require.NoError(t, err)
	require.NoError(t, job.Refresh(ctx))
	require.True(t, job.Done())
	assert.Equal(t, StatusFailed, job.Status())
	assert.Equal(t, "corrupt input", job.FailureReason())

	_, err = job.Result(ctx)
	assert.Error(t, err)
}

func TestSubmitRejectsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, APIKey: "k"})
	_, err := client.Submit(context.Background(), []byte("x"), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestSubmitRejectsMissingJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, APIKey: "k"})
	_, err := client.Submit(context.Background(), []byte("x"), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobId")
}
