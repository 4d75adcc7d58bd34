package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const maxChunkSize = 1 << 20

// Client talks to the translation job service.
//
// Submit, Stream and Poll map onto the service's translateImage,
// translateResult and translateStatus endpoints. The client is safe for
// concurrent use.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	timeout    time.Duration
}

type Option func(*Client)

// WithTimeout bounds Submit and Poll. Streams stay open for the whole
// translation and are only bounded by their context.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func NewClient(baseURL string, creds Credentials, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("job service base url is required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credentials are required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit starts a remote translation job and returns its id. Rejections are
// returned as *SubmitError and are never retried.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	model := c.creds.ModelName()
	if model == "" {
		model = DefaultModel
	}
	body := submitBody{
		APIKey:     c.creds.APIKey(),
		Model:      model,
		ImgURL:     req.ImageURL,
		TargetLang: req.TargetLang,
		Locale:     req.Locale,
		Vertical:   req.Vertical,
		Horizontal: req.Horizontal,
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.post(ctx, "/api/translateImage", body)
	if err != nil {
		kind := RejectUnclassified
		if isTimeout(err) {
			kind = RejectTimeout
		}
		return "", &SubmitError{Kind: kind, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", &SubmitError{Kind: RejectUnauthorized, Code: CodeUnauthorized}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SubmitError{Kind: RejectUnclassified, Cause: err}
	}

	var ret struct {
		ID    string          `json:"id"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &ret); err != nil {
		return "", &SubmitError{Kind: RejectUnclassified, Raw: truncate(string(raw)), Cause: err}
	}
	if ret.ID != "" {
		return ret.ID, nil
	}

	var coded struct {
		ErrCode int `json:"err_code"`
	}
	_ = json.Unmarshal(ret.Error, &coded)
	return "", &SubmitError{
		Kind: classifyCode(coded.ErrCode),
		Code: coded.ErrCode,
		Raw:  truncate(string(ret.Error)),
	}
}

// Stream follows a remote job's newline-delimited progress chunks.
// onProgress receives every in-progress message. The first terminal chunk
// ends the stream. Any other ending wraps ErrStreamInterrupted.
func (c *Client) Stream(ctx context.Context, remoteJobID string, onProgress func(msg string)) (Outcome, error) {
	resp, err := c.post(ctx, "/api/translateResult", jobIDBody{ID: remoteJobID})
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Outcome{}, fmt.Errorf("%w: unexpected status %d", ErrStreamInterrupted, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxChunkSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk streamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Outcome{}, fmt.Errorf("%w: decode chunk: %v", ErrStreamInterrupted, err)
		}
		if out, ok := chunk.Output.outcome(); ok {
			return out, nil
		}
		if chunk.Output.Status == "" && chunk.Output.Msg == "" {
			continue
		}
		if onProgress != nil {
			onProgress(chunk.Output.Msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
	}
	return Outcome{}, fmt.Errorf("%w: stream closed", ErrStreamInterrupted)
}

// Poll asks for a point-in-time status. The last output event is authoritative.
func (c *Client) Poll(ctx context.Context, remoteJobID string) (PollResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.post(ctx, "/api/translateStatus", jobIDBody{ID: remoteJobID})
	if err != nil {
		return PollResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PollResult{}, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var ret struct {
		Status string          `json:"status"`
		Output []outputEvent   `json:"output"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ret); err != nil {
		return PollResult{}, fmt.Errorf("decode status: %w", err)
	}
	if len(ret.Error) > 0 && string(ret.Error) != "null" {
		return PollResult{}, fmt.Errorf("status endpoint error: %s", truncate(string(ret.Error)))
	}
	if ret.Status == pollInProgress {
		return PollResult{InProgress: true}, nil
	}
	if len(ret.Output) == 0 {
		return PollResult{}, nil
	}
	if out, ok := ret.Output[len(ret.Output)-1].outcome(); ok {
		return PollResult{Outcome: &out}, nil
	}
	return PollResult{}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string) string {
	const limit = 512
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
