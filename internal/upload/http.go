package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MimeLyc/image-translator/internal/jobs"
	filepkg "github.com/MimeLyc/image-translator/pkg/file"
)

const defaultUploadTimeout = 2 * time.Minute

// HTTPUploader posts images to the object upload endpoint as multipart form data.
type HTTPUploader struct {
	endpoint   string
	httpClient *http.Client
}

var _ jobs.Uploader = (*HTTPUploader)(nil)

type HTTPOption func(*HTTPUploader)

func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(u *HTTPUploader) {
		u.httpClient = hc
	}
}

func NewHTTPUploader(endpoint string, opts ...HTTPOption) (*HTTPUploader, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("image upload url is required")
	}
	u := &HTTPUploader{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultUploadTimeout},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

type uploadResponse struct {
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
	Msg string `json:"msg"`
}

// Upload succeeds only when the endpoint answers with a non-empty data.url.
func (u *HTTPUploader) Upload(ctx context.Context, file jobs.Upload) (string, error) {
	if file.Body == nil {
		return "", fmt.Errorf("upload %q: empty body", file.Filename)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, file))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, pr)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("upload %q: %w", file.Filename, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload %q: status %d: %s", file.Filename, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var body uploadResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if body.Data.URL == "" {
		if body.Msg != "" {
			return "", fmt.Errorf("upload %q: %s", file.Filename, body.Msg)
		}
		return "", fmt.Errorf("upload %q: response has no url", file.Filename)
	}
	return body.Data.URL, nil
}

func writeForm(mw *multipart.Writer, file jobs.Upload) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Filename))
	header.Set("Content-Type", contentType(file))
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file.Body); err != nil {
		return err
	}
	if err := mw.WriteField("need_compress", "true"); err != nil {
		return err
	}
	return mw.Close()
}

func contentType(file jobs.Upload) string {
	if file.ContentType != "" && file.ContentType != "application/octet-stream" {
		return file.ContentType
	}
	return filepkg.ContentType(file.Filename)
}
