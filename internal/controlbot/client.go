package controlbot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Vodeneev/goalbot/internal/system"
)

// Client talks to the goalbot HTTP surface (/status and /control/*).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Status(ctx context.Context) (system.Status, error) {
	var status system.Status
	err := c.do(ctx, http.MethodGet, "/status", &status)
	return status, err
}

// Start asks the service to start its loops and returns the resulting running flag.
func (c *Client) Start(ctx context.Context) (bool, error) {
	var resp struct {
		Running bool `json:"running"`
	}
	err := c.do(ctx, http.MethodPost, "/control/start", &resp)
	return resp.Running, err
}

func (c *Client) Stop(ctx context.Context) (bool, error) {
	var resp struct {
		Running bool `json:"running"`
	}
	err := c.do(ctx, http.MethodPost, "/control/stop", &resp)
	return resp.Running, err
}

// SetBankrollActive opens or closes the bankroll and returns the resulting flag.
func (c *Client) SetBankrollActive(ctx context.Context, active bool) (bool, error) {
	var resp struct {
		Active bool `json:"active"`
	}
	err := c.do(ctx, http.MethodPost, "/control/bankroll?active="+strconv.FormatBool(active), &resp)
	return resp.Active, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach goalbot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("goalbot: %s", errResp.Error)
		}
		return fmt.Errorf("goalbot returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
