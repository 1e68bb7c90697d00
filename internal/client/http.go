package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/calyxlabs/calyx/internal/engine"
	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/progression"
)

// HTTPClient implements CalyxClient using the calyx HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) ProcessAction(ctx context.Context, req *engine.ActionRequest) (*engine.ActionResult, error) {
	var res engine.ActionResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/actions", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) GetUsage(ctx context.Context, userID string, baseTier model.Tier) (*UsageResponse, error) {
	path := "/v1/users/" + url.PathEscape(userID) + "/usage"
	if baseTier != "" {
		path += "?tier=" + url.QueryEscape(string(baseTier))
	}
	var resp UsageResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetTier(ctx context.Context, userID string, baseTier model.Tier) (*TierResponse, error) {
	path := "/v1/users/" + url.PathEscape(userID) + "/tier"
	if baseTier != "" {
		path += "?base=" + url.QueryEscape(string(baseTier))
	}
	var resp TierResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ListGrants(ctx context.Context, userID string) ([]*model.TierGrant, error) {
	var resp struct {
		Grants []*model.TierGrant `json:"grants"`
	}
	path := "/v1/users/" + url.PathEscape(userID) + "/grants"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Grants, nil
}

func (c *HTTPClient) ActivateGrant(ctx context.Context, userID string, req *ActivateGrantRequest) (*model.TierGrant, error) {
	body := map[string]string{
		"event_id":   req.EventID,
		"event_name": req.EventName,
		"base_tier":  string(req.BaseTier),
		"to_tier":    string(req.ToTier),
	}
	if req.Duration > 0 {
		body["duration"] = req.Duration.String()
	}
	var grant model.TierGrant
	path := "/v1/users/" + url.PathEscape(userID) + "/grants"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

func (c *HTTPClient) SweepGrants(ctx context.Context) (int64, error) {
	var resp struct {
		Deactivated int64 `json:"deactivated"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sweeps/grants", struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.Deactivated, nil
}

func (c *HTTPClient) GetCooldown(ctx context.Context, userID, actionKind string, baseTier model.Tier) (*CooldownResponse, error) {
	path := "/v1/users/" + url.PathEscape(userID) + "/cooldowns/" + url.PathEscape(actionKind)
	if baseTier != "" {
		path += "?tier=" + url.QueryEscape(string(baseTier))
	}
	var resp CooldownResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResetCooldowns clears one action kind, or every kind when actionKind is
// empty.
func (c *HTTPClient) ResetCooldowns(ctx context.Context, userID, actionKind string) error {
	path := "/v1/users/" + url.PathEscape(userID) + "/cooldowns"
	if actionKind != "" {
		path += "/" + url.PathEscape(actionKind)
	}
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) GetBond(ctx context.Context, userID, agentID string) (*model.BondState, error) {
	var bond model.BondState
	path := "/v1/bonds/" + url.PathEscape(userID) + "/" + url.PathEscape(agentID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &bond); err != nil {
		return nil, err
	}
	return &bond, nil
}

func (c *HTTPClient) AdvanceBond(ctx context.Context, userID, agentID string, baseTier model.Tier) (*progression.Result, error) {
	body := map[string]string{"base_tier": string(baseTier)}
	var res progression.Result
	path := "/v1/bonds/" + url.PathEscape(userID) + "/" + url.PathEscape(agentID) + "/advance"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// denialEnvelope is the server's shape for policy denials.
type denialEnvelope struct {
	Error   string          `json:"error"`
	Reason  string          `json:"reason"`
	Details json.RawMessage `json:"details"`
}

// decodeDenial reconstructs the typed policy errors from a denial body so
// callers can keep using model.IsQuotaExceeded and friends across the wire.
// Returns nil when the body is not a recognized denial.
func decodeDenial(body []byte) error {
	var env denialEnvelope
	if json.Unmarshal(body, &env) != nil || env.Reason == "" {
		return nil
	}
	switch env.Reason {
	case "quota_exceeded":
		var qe model.QuotaExceededError
		if json.Unmarshal(env.Details, &qe) == nil {
			return &qe
		}
	case "cooldown_active":
		var ce model.CooldownActiveError
		if json.Unmarshal(env.Details, &ce) == nil {
			return &ce
		}
	case "grant_already_used":
		var ae model.AlreadyUsedError
		if json.Unmarshal(env.Details, &ae) == nil {
			return &ae
		}
	}
	return nil
}

// doJSON performs an HTTP request with optional JSON body and decodes the
// JSON response. If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content, success with no body.
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		if denial := decodeDenial(respBody); denial != nil {
			return denial
		}
		if resp.StatusCode == http.StatusNotFound {
			return model.ErrNotFound
		}
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
