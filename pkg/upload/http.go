package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// OffsetHeader carries the partial object size in HEAD responses and the
	// write position in PATCH requests.
	OffsetHeader = "Upload-Offset"
	// ContentTypeHeader and LengthHeader describe the object on commit.
	ContentTypeHeader = "Upload-Content-Type"
	LengthHeader      = "Upload-Length"
)

// HTTPBackend is a Backend talking to the API service's /uploads endpoints:
// HEAD for the offset, PATCH to append, PUT to commit, DELETE to abort.
type HTTPBackend struct {
	apiURL string
	token  string
	client *http.Client
}

func NewHTTPBackend(apiURL, token string) *HTTPBackend {
	return &HTTPBackend{
		apiURL: apiURL,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *HTTPBackend) do(ctx context.Context, method, endpoint, p string, body []byte, header http.Header) (*http.Response, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	u, err := url.JoinPath(b.apiURL, endpoint, p)
	if err != nil {
		return nil, err
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.client.Do(req)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, bytes.TrimSpace(body))
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrOffsetMismatch, bytes.TrimSpace(body))
	}
	return fmt.Errorf("upload server returned %s: %s", resp.Status, bytes.TrimSpace(body))
}

func (b *HTTPBackend) Offset(ctx context.Context, p string) (int64, error) {
	resp, err := b.do(ctx, http.MethodHead, "uploads", p, nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp)
	}
	return strconv.ParseInt(resp.Header.Get(OffsetHeader), 10, 64)
}

func (b *HTTPBackend) Write(ctx context.Context, p string, offset int64, chunk []byte) error {
	h := http.Header{}
	h.Set(OffsetHeader, strconv.FormatInt(offset, 10))
	h.Set("Content-Type", "application/offset+octet-stream")
	resp, err := b.do(ctx, http.MethodPatch, "uploads", p, chunk, h)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

func (b *HTTPBackend) Commit(ctx context.Context, p string, meta Metadata) error {
	h := http.Header{}
	h.Set(ContentTypeHeader, meta.ContentType)
	h.Set(LengthHeader, strconv.FormatInt(meta.Size, 10))
	resp, err := b.do(ctx, http.MethodPut, "uploads", p, nil, h)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

func (b *HTTPBackend) Abort(ctx context.Context, p string) error {
	resp, err := b.do(ctx, http.MethodDelete, "uploads", p, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return statusError(resp)
	}
	return nil
}

func (b *HTTPBackend) DownloadURL(ctx context.Context, p string) (string, error) {
	resp, err := b.do(ctx, http.MethodHead, "media", p, nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}
	return resp.Request.URL.String(), nil
}
