package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArticles_WritesInvalidateList(t *testing.T) {
	var listHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /articles", func(w http.ResponseWriter, r *http.Request) {
		n := listHits.Add(1)
		json.NewEncoder(w).Encode(ArticleList{Total: int(n), Page: 1})
	})
	mux.HandleFunc("POST /articles", func(w http.ResponseWriter, r *http.Request) {
		var in ArticleInput
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Article{ID: "a1", Title: in.Title, Status: "draft"})
	})
	mux.HandleFunc("DELETE /articles/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ctx := context.Background()
	params := ListArticlesParams{Page: 1, Status: "draft"}

	list, err := client.ListArticles(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	list, err = client.ListArticles(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total, "second list is served from cache")

	created, err := client.CreateArticle(ctx, ArticleInput{Title: "Go clients"})
	require.NoError(t, err)
	assert.Equal(t, "Go clients", created.Title)

	list, err = client.ListArticles(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total, "create invalidates the list")

	require.NoError(t, client.DeleteArticle(ctx, "a1"))
	list, err = client.ListArticles(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 3, list.Total, "delete invalidates the list")

	assert.Error(t, client.DeleteArticle(ctx, ""))
}

func TestArticles_GenerationPolling(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /articles/generate-async", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GenerationJob{ID: "job-1", Status: "queued"})
	})
	mux.HandleFunc("GET /articles/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		job := GenerationJob{ID: r.PathValue("id"), Status: "running", Progress: 50}
		if polls.Add(1) >= 3 {
			job.Status = "completed"
			job.Progress = 100
			job.ArticleID = "a9"
		}
		json.NewEncoder(w).Encode(job)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := client.StartArticleGeneration(ctx, GenerateArticleRequest{Keyword: "go"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.False(t, job.Done())

	done, err := client.WaitForGeneration(ctx, job.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "a9", done.ArticleID)
	assert.Equal(t, int32(3), polls.Load())
}

func TestArticles_GenerationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"job_id":"j","status":"failed","error":"model overloaded"}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	job, err := client.WaitForGeneration(context.Background(), "j", 5*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, "failed", job.Status)
}
