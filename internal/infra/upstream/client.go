// Package upstream is the boundary adapter to the external labeling
// provider: it fetches candidate tasks and forwards solved answers.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crowdlabel-service/internal/domain"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultConfidence = 0.5
)

// Client talks to the labeling provider over HTTPS. Every call carries the
// client's bounded timeout; indefinite hangs are not acceptable.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	TrackID  string `json:"track_id"`
	Solution string `json:"solution"`
}

type submitResponse struct {
	Confidence *float64 `json:"confidence"`
}

// FetchCandidates asks the provider for tasks matching the criteria. The
// returned order is the provider's ranking and must be preserved.
func (c *Client) FetchCandidates(ctx context.Context, criteria domain.Criteria) ([]domain.Task, error) {
	query := url.Values{}
	query.Set("language", criteria.Language)
	if criteria.Topic != "" {
		query.Set("topic", criteria.Topic)
	}
	if criteria.Complexity != 0 {
		query.Set("complexity", strconv.Itoa(criteria.Complexity))
	}

	reqURL := c.baseURL + "/tasks/pick?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", domain.ErrUpstreamRejected, resp.StatusCode)
	}

	var tasks []domain.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamMalformed, err)
	}
	return tasks, nil
}

// SubmitSolution forwards an answer for the task identified by taskID and
// trackID. The receipt's confidence defaults when the provider omits it.
func (c *Client) SubmitSolution(ctx context.Context, taskID, trackID, solution string) (domain.SubmissionReceipt, error) {
	body, err := json.Marshal(submitRequest{TrackID: trackID, Solution: solution})
	if err != nil {
		return domain.SubmissionReceipt{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	reqURL := c.baseURL + "/tasks/" + url.PathEscape(taskID) + "/submit"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return domain.SubmissionReceipt{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.SubmissionReceipt{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Body is drained for connection reuse; content is irrelevant here.
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.SubmissionReceipt{}, fmt.Errorf("%w: status %d", domain.ErrUpstreamRejected, resp.StatusCode)
	}

	var payload submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.SubmissionReceipt{}, fmt.Errorf("%w: %v", domain.ErrUpstreamMalformed, err)
	}

	receipt := domain.SubmissionReceipt{Confidence: defaultConfidence}
	if payload.Confidence != nil {
		receipt.Confidence = *payload.Confidence
	}
	return receipt, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}
