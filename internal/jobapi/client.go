package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/rul-predictor/client-go/internal/model"
)

// Client talks to the prediction backend's start and results endpoints.
type Client struct {
	BaseURL     string
	StartPath   string // defaults to /start
	ResultsPath string // defaults to /results
	HTTP        *http.Client
	Logger      *slog.Logger
}

// Response is one results-endpoint reply.
type Response struct {
	Code int
	Body []byte
}

// StatusError is returned for replies the caller did not expect.
type StatusError struct {
	Op   string
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, body)
}

// Transient reports whether the same request may succeed later.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Start submits a filepath and returns the job id from the response body.
func (c *Client) Start(ctx context.Context, filepath string) (model.JobID, error) {
	code, raw, err := c.do(ctx, http.MethodPost, c.url(c.startPath()), model.JobRequest{Filepath: filepath})
	if err != nil {
		return "", fmt.Errorf("start job: %w", err)
	}
	if code/100 != 2 {
		return "", &StatusError{Op: "start job", Code: code, Body: raw}
	}
	id := ParseJobID(raw)
	if id == "" {
		return "", model.ErrEmptyJobID
	}
	return id, nil
}

// Result queries the status of a job. Any HTTP reply is returned as a
// Response; only transport failures produce an error.
func (c *Client) Result(ctx context.Context, id model.JobID) (Response, error) {
	u := c.url(strings.TrimRight(c.resultsPath(), "/") + "/" + url.PathEscape(string(id)))
	code, raw, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Response{}, fmt.Errorf("fetch result %s: %w", id, err)
	}
	return Response{Code: code, Body: raw}, nil
}

// ParseJobID extracts the job id from a start response. A JSON string, an
// object carrying job_id, jobId or id, or plain text are accepted.
func ParseJobID(raw []byte) model.JobID {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return model.JobID(strings.TrimSpace(s))
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		for _, key := range []string{"job_id", "jobId", "id"} {
			switch v := obj[key].(type) {
			case string:
				return model.JobID(strings.TrimSpace(v))
			case float64:
				return model.JobID(strconv.FormatFloat(v, 'f', -1, 64))
			}
		}
		return ""
	}
	return model.JobID(string(trimmed))
}

func (c *Client) do(ctx context.Context, method, u string, body any) (int, []byte, error) {
	logger := c.logger()
	reqID := uuid.NewString()
	start := time.Now()

	var payload io.Reader
	size := 0
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode json: %w", err)
		}
		payload = bytes.NewReader(bs)
		size = len(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	logger.Debug("jobapi.http.request", "req_id", reqID, "method", method, "url", u, "content_length", size)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		logger.Error("jobapi.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}

	logger.Debug("jobapi.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp.StatusCode, raw, nil
}

func (c *Client) url(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func (c *Client) startPath() string {
	if c.StartPath == "" {
		return "/start"
	}
	return c.StartPath
}

func (c *Client) resultsPath() string {
	if c.ResultsPath == "" {
		return "/results"
	}
	return c.ResultsPath
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
