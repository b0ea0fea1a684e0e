// internal/agent/client.go
package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SendRequest asks the AI agent to compose and deliver one message to a
// lead. Context tells the agent why it is writing ("follow_up" here).
type SendRequest struct {
	LeadID   int          `json:"lead_id"`
	TenantID int          `json:"tenant_id"`
	Context  string       `json:"context"`
	Metadata SendMetadata `json:"metadata"`
}

type SendMetadata struct {
	StepNumber int `json:"step_number"`
}

type SendResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Client calls the AI-agent service over HTTP. Any transport or non-2xx
// failure is reported as an error so the queue treats it as transient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Execute(req SendRequest) (*SendResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}

	httpReq, err := http.NewRequest("POST", c.baseURL+"/agent/execute", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	var result SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode agent response: %w", err)
	}
	return &result, nil
}
