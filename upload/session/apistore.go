package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

type createSessionRequest struct {
	OwnerID   string            `json:"owner_id"`
	Filename  string            `json:"filename"`
	TotalSize int64             `json:"total_size"`
	ChunkSize int64             `json:"chunk_size"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type updateProgressRequest struct {
	UploadedChunks int `json:"uploaded_chunks"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// APIStore is a Store backed by the metadata service's REST API.
// All requests go through a retrying HTTP client.
type APIStore struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewAPIStore ...
func NewAPIStore(client *retryablehttp.Client, baseURL string, accessToken string, logger log.Logger) *APIStore {
	return &APIStore{
		httpClient:  client,
		baseURL:     baseURL,
		accessToken: accessToken,
		logger:      logger,
	}
}

// Create ...
func (s *APIStore) Create(ctx context.Context, params NewSessionParams) (*Session, error) {
	url := fmt.Sprintf("%s/upload-sessions", s.baseURL)

	body, err := json.Marshal(createSessionRequest{
		OwnerID:   params.OwnerID,
		Filename:  params.Filename,
		TotalSize: params.TotalSize,
		ChunkSize: params.ChunkSize,
		Metadata:  params.Metadata,
	})
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer s.closeBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return nil, unwrapError(resp)
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, err
	}

	return &sess, nil
}

// UpdateProgress ...
func (s *APIStore) UpdateProgress(ctx context.Context, id string, uploadedChunks int) error {
	url := fmt.Sprintf("%s/upload-sessions/%s/progress", s.baseURL, id)
	return s.patch(ctx, url, updateProgressRequest{UploadedChunks: uploadedChunks})
}

// UpdateStatus ...
func (s *APIStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	url := fmt.Sprintf("%s/upload-sessions/%s/status", s.baseURL, id)
	return s.patch(ctx, url, updateStatusRequest{Status: string(status)})
}

// Get returns (nil, nil) when the metadata service responds 404.
func (s *APIStore) Get(ctx context.Context, id string) (*Session, error) {
	url := fmt.Sprintf("%s/upload-sessions/%s", s.baseURL, id)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer s.closeBody(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unwrapError(resp)
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, err
	}

	return &sess, nil
}

func (s *APIStore) patch(ctx context.Context, url string, requestBody interface{}) error {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPatch, url, body)
	if err != nil {
		return err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer s.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return unwrapError(resp)
	}

	return nil
}

func (s *APIStore) setHeaders(req *retryablehttp.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.accessToken))
	req.Header.Set("Content-type", "application/json")
}

func (s *APIStore) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		s.logger.Printf(err.Error())
	}
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
