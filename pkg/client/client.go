package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opsline/switchyard/pkg/events"
	"github.com/opsline/switchyard/pkg/types"
)

// Client talks to a switchyard server's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Error string `json:"error"`
}

// Deploy submits a deployment spec and returns the result.
func (c *Client) Deploy(ctx context.Context, spec *types.DeploymentSpec) (*types.DeploymentResult, error) {
	var result types.DeploymentResult
	if err := c.post(ctx, "/v1/deployments", spec, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetDeployment fetches one deployment result by id.
func (c *Client) GetDeployment(ctx context.Context, deploymentID string) (*types.DeploymentResult, error) {
	var result types.DeploymentResult
	if err := c.get(ctx, "/v1/deployments/"+url.PathEscape(deploymentID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListDeployments fetches deployment history matching the filter.
func (c *Client) ListDeployments(ctx context.Context, filter types.DeploymentFilter) ([]*types.DeploymentResult, error) {
	query := url.Values{}
	if filter.ServiceName != "" {
		query.Set("service", filter.ServiceName)
	}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/v1/deployments"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var results []*types.DeploymentResult
	if err := c.get(ctx, path, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// RollbackDeployment rolls a deployment back to the previous version.
func (c *Client) RollbackDeployment(ctx context.Context, deploymentID, reason string) (bool, error) {
	var resp struct {
		RolledBack bool `json:"rolled_back"`
	}
	body := map[string]string{"reason": reason}
	path := "/v1/deployments/" + url.PathEscape(deploymentID) + "/rollback"
	if err := c.post(ctx, path, body, &resp); err != nil {
		return false, err
	}
	return resp.RolledBack, nil
}

// StartRollout submits a rollout config and returns the new rollout id.
func (c *Client) StartRollout(ctx context.Context, config *types.RolloutConfig) (string, error) {
	var resp struct {
		RolloutID string `json:"rollout_id"`
	}
	if err := c.post(ctx, "/v1/rollouts", config, &resp); err != nil {
		return "", err
	}
	return resp.RolloutID, nil
}

// GetRollout fetches a rollout state snapshot by id.
func (c *Client) GetRollout(ctx context.Context, rolloutID string) (*types.RolloutState, error) {
	var state types.RolloutState
	if err := c.get(ctx, "/v1/rollouts/"+url.PathEscape(rolloutID), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListRollouts fetches all active rollouts.
func (c *Client) ListRollouts(ctx context.Context) ([]*types.RolloutState, error) {
	var states []*types.RolloutState
	if err := c.get(ctx, "/v1/rollouts", &states); err != nil {
		return nil, err
	}
	return states, nil
}

// AbortRollout cancels a running rollout.
func (c *Client) AbortRollout(ctx context.Context, rolloutID, reason string) error {
	body := map[string]string{"reason": reason}
	path := "/v1/rollouts/" + url.PathEscape(rolloutID) + "/abort"
	return c.post(ctx, path, body, nil)
}

// StreamEvents consumes the server's event stream, invoking handler per
// event until the context is cancelled, the stream ends, or the handler
// returns an error.
func (c *Client) StreamEvents(ctx context.Context, handler func(*events.Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events", nil)
	if err != nil {
		return err
	}

	// Streaming must not be cut short by the default client timeout.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream: unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event events.Event
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("event stream: %w", err)
		}
		if err := handler(&event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s", apiErr.Error)
		}
		return fmt.Errorf("server: unexpected status %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
