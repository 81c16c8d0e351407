package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dvtran/ytarchive/internal/core/domain"
)

// ServiceError is a failure reported by a collaborator service.
type ServiceError struct {
	Service    string
	StatusCode int
	Message    string
	Hint       time.Duration
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service: %d %s", e.Service, e.StatusCode, e.Message)
}

// RetryAfter returns the server-provided retry-after hint, zero if none.
func (e *ServiceError) RetryAfter() time.Duration { return e.Hint }

// httpClient is the shared transport for all collaborator clients.
type httpClient struct {
	service  string
	endpoint string
	client   *http.Client
}

func newHTTPClient(service, endpoint string, timeout time.Duration) *httpClient {
	return &httpClient{
		service:  service,
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// do performs one request and decodes the JSON response into out.
func (c *httpClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s service: %w", c.service, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s service: read response: %w", c.service, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ServiceError{
			Service:    c.service,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
			Hint:       retryAfterHeader(resp),
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s service: decode response: %w", c.service, err)
		}
	}
	return nil
}

func errorMessage(data []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(data)
}

func retryAfterHeader(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// HTTPMetadataClient implements MetadataClient against the metadata
// service's REST endpoints.
type HTTPMetadataClient struct {
	*httpClient
}

// NewMetadataClient creates a metadata service client.
func NewMetadataClient(endpoint string, timeout time.Duration) *HTTPMetadataClient {
	return &HTTPMetadataClient{httpClient: newHTTPClient("metadata", endpoint, timeout)}
}

func (c *HTTPMetadataClient) FetchVideo(ctx context.Context, videoID string) (*domain.VideoMeta, error) {
	var meta domain.VideoMeta
	if err := c.do(ctx, http.MethodGet, "/videos/"+videoID, nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *HTTPMetadataClient) FetchPlaylist(ctx context.Context, playlistID string) (*domain.Playlist, error) {
	var playlist domain.Playlist
	if err := c.do(ctx, http.MethodGet, "/playlists/"+playlistID, nil, &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

// HTTPDownloadClient implements DownloadClient against the download
// service.
type HTTPDownloadClient struct {
	*httpClient
}

// NewDownloadClient creates a download service client. Downloads are slow
// so the timeout here bounds a whole download attempt, not a round trip.
func NewDownloadClient(endpoint string, timeout time.Duration) *HTTPDownloadClient {
	return &HTTPDownloadClient{httpClient: newHTTPClient("download", endpoint, timeout)}
}

func (c *HTTPDownloadClient) Download(ctx context.Context, videoID string, opts domain.JobOptions) (string, error) {
	req := struct {
		VideoID string `json:"video_id"`
		Quality string `json:"quality,omitempty"`
		Format  string `json:"format,omitempty"`
	}{VideoID: videoID, Quality: opts.Quality, Format: opts.Format}

	var resp struct {
		Path string `json:"path"`
	}
	if err := c.do(ctx, http.MethodPost, "/downloads", req, &resp); err != nil {
		return "", err
	}
	return resp.Path, nil
}

// HTTPStorageClient implements StorageClient against the storage service.
type HTTPStorageClient struct {
	*httpClient
}

// NewStorageClient creates a storage service client.
func NewStorageClient(endpoint string, timeout time.Duration) *HTTPStorageClient {
	return &HTTPStorageClient{httpClient: newHTTPClient("storage", endpoint, timeout)}
}

func (c *HTTPStorageClient) Store(ctx context.Context, videoID, path string, meta *domain.VideoMeta) error {
	req := struct {
		VideoID string           `json:"video_id"`
		Path    string           `json:"path"`
		Meta    *domain.VideoMeta `json:"meta,omitempty"`
	}{VideoID: videoID, Path: path, Meta: meta}

	return c.do(ctx, http.MethodPost, "/archive", req, nil)
}
