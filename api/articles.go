package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	articlesPath     = "/articles"
	articlesCacheTTL = 30 * time.Second
)

type Article struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Keyword   string    `json:"keyword,omitempty"`
	Status    string    `json:"status"`
	Content   string    `json:"content,omitempty"`
	WordCount int       `json:"word_count,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ArticleList struct {
	Items []Article `json:"items"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
}

// ListArticlesParams filters ListArticles. Zero values are omitted.
type ListArticlesParams struct {
	Page     int
	PageSize int
	Status   string
	Search   string
}

func (p ListArticlesParams) values() map[string]any {
	params := make(map[string]any)
	if p.Page > 0 {
		params["page"] = p.Page
	}
	if p.PageSize > 0 {
		params["page_size"] = p.PageSize
	}
	if p.Status != "" {
		params["status"] = p.Status
	}
	if p.Search != "" {
		params["search"] = p.Search
	}
	return params
}

type ArticleInput struct {
	Title   string `json:"title,omitempty"`
	Keyword string `json:"keyword,omitempty"`
	Content string `json:"content,omitempty"`
	Status  string `json:"status,omitempty"`
}

type GenerateArticleRequest struct {
	Keyword   string `json:"keyword"`
	Tone      string `json:"tone,omitempty"`
	WordCount int    `json:"word_count,omitempty"`
	OutlineID string `json:"outline_id,omitempty"`
}

// GenerationJob tracks an asynchronous article generation.
type GenerationJob struct {
	ID        string `json:"job_id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	ArticleID string `json:"article_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (j *GenerationJob) Done() bool {
	return j.Status == "completed" || j.Status == "failed"
}

func articlePath(id string) string {
	return articlesPath + "/" + url.PathEscape(id)
}

// ListArticles is served from the cache for 30 seconds.
func (c *Client) ListArticles(ctx context.Context, p ListArticlesParams) (*ArticleList, error) {
	var list ArticleList
	if err := c.CachedGet(ctx, articlesPath, articlesCacheTTL, p.values(), &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) GetArticle(ctx context.Context, id string) (*Article, error) {
	if id == "" {
		return nil, fmt.Errorf("article id is required")
	}
	var article Article
	if err := c.CachedGet(ctx, articlePath(id), articlesCacheTTL, nil, &article); err != nil {
		return nil, err
	}
	return &article, nil
}

func (c *Client) CreateArticle(ctx context.Context, in ArticleInput) (*Article, error) {
	article, err := Call[Article](ctx, c, RequestConfig{
		Method: http.MethodPost,
		Path:   articlesPath,
		Body:   in,
	})
	if err != nil {
		return nil, err
	}
	c.InvalidateCache(articlesPath)
	return &article, nil
}

func (c *Client) UpdateArticle(ctx context.Context, id string, in ArticleInput) (*Article, error) {
	if id == "" {
		return nil, fmt.Errorf("article id is required")
	}
	article, err := Call[Article](ctx, c, RequestConfig{
		Method: http.MethodPatch,
		Path:   articlePath(id),
		Body:   in,
	})
	if err != nil {
		return nil, err
	}
	c.InvalidateCache(articlesPath)
	return &article, nil
}

func (c *Client) DeleteArticle(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("article id is required")
	}
	err := c.Do(ctx, RequestConfig{Method: http.MethodDelete, Path: articlePath(id)}, nil)
	if err != nil {
		return err
	}
	c.InvalidateCache(articlesPath)
	return nil
}

// GenerateArticle blocks until the backend has written the article, which
// can take minutes.
func (c *Client) GenerateArticle(ctx context.Context, in GenerateArticleRequest) (*Article, error) {
	article, err := Call[Article](ctx, c, RequestConfig{
		Method:  http.MethodPost,
		Path:    articlesPath + "/generate",
		Body:    in,
		Timeout: GenerationTimeout,
	})
	if err != nil {
		return nil, err
	}
	c.InvalidateCache(articlesPath)
	return &article, nil
}

// StartArticleGeneration queues a generation and returns immediately; poll
// the job with GetGenerationJob.
func (c *Client) StartArticleGeneration(ctx context.Context, in GenerateArticleRequest) (*GenerationJob, error) {
	job, err := Call[GenerationJob](ctx, c, RequestConfig{
		Method:  http.MethodPost,
		Path:    articlesPath + "/generate-async",
		Body:    in,
		Timeout: KickoffTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) GetGenerationJob(ctx context.Context, jobID string) (*GenerationJob, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	job, err := Call[GenerationJob](ctx, c, RequestConfig{
		Method: http.MethodGet,
		Path:   articlesPath + "/jobs/" + url.PathEscape(jobID),
	})
	if err != nil {
		return nil, err
	}
	if job.Status == "completed" {
		c.InvalidateCache(articlesPath)
	}
	return &job, nil
}

// WaitForGeneration polls a job every interval until it completes or fails.
// The interval backs off by half on every poll, capped at 30 seconds.
func (c *Client) WaitForGeneration(ctx context.Context, jobID string, interval time.Duration) (*GenerationJob, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-ticker.C:
			job, err := c.GetGenerationJob(ctx, jobID)
			if err != nil {
				return nil, fmt.Errorf("poll generation job %s: %w", jobID, err)
			}
			if job.Done() {
				if job.Status == "failed" {
					return job, fmt.Errorf("generation job %s failed: %s", jobID, job.Error)
				}
				return job, nil
			}
			interval = min(interval+interval/2, 30*time.Second)
			ticker.Reset(interval)
		}
	}
}
