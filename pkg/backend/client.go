// Package backend is the HTTP client for the central collection service:
// one-time registration, periodic heartbeats and event batch upload.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hostsentry/agent/config"
	"github.com/hostsentry/agent/internal/models"
	"github.com/hostsentry/agent/pkg/sysinfo"
)

const requestTimeout = 15 * time.Second

// RegistrationRequest is what the agent sends to the registration
// endpoint.
type RegistrationRequest struct {
	Hostname        string `json:"hostname"`
	IPAddress       string `json:"ip_address"`
	OS              string `json:"os"`
	OSVersion       string `json:"os_version"`
	RegistrationKey string `json:"registration_key"`
}

// RegistrationResponse carries the identity the central service assigns.
type RegistrationResponse struct {
	AgentID string `json:"agent_id"`
	Token   string `json:"token"`
}

// HeartbeatRequest is the periodic liveness payload.
type HeartbeatRequest struct {
	AgentID   string          `json:"agent_id"`
	Timestamp time.Time       `json:"timestamp"`
	Metrics   sysinfo.Metrics `json:"metrics"`
}

// UploadRequest is one drained batch of events.
type UploadRequest struct {
	AgentID   string         `json:"agent_id"`
	Timestamp time.Time      `json:"timestamp"`
	Events    []models.Event `json:"events"`
}

// Client talks to the central service. Identity (agent ID and token) is
// set after registration and attached to every subsequent request.
type Client struct {
	baseURL              string
	registrationEndpoint string
	heartbeatEndpoint    string
	dataEndpoint         string
	registrationKey      string
	httpClient           *http.Client
	logger               *zap.Logger

	agentID string
	token   string
}

// New builds a client from the agent configuration.
func New(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		baseURL:              strings.TrimRight(cfg.ServerURL, "/"),
		registrationEndpoint: cfg.RegistrationEndpoint,
		heartbeatEndpoint:    cfg.HeartbeatEndpoint,
		dataEndpoint:         cfg.DataEndpoint,
		registrationKey:      cfg.RegistrationKey,
		httpClient:           &http.Client{Timeout: requestTimeout},
		logger:               logger,
	}
}

// SetIdentity installs a previously obtained identity, e.g. one restored
// from disk, skipping re-registration.
func (c *Client) SetIdentity(agentID, token string) {
	c.agentID = agentID
	c.token = token
}

// AgentID returns the identity assigned at registration, empty before.
func (c *Client) AgentID() string { return c.agentID }

// Register performs the one-time registration handshake. A rejected
// registration (non-2xx) is returned as an error; the caller decides
// whether to retry or exit.
func (c *Client) Register(ctx context.Context, info sysinfo.HostInfo) (RegistrationResponse, error) {
	req := RegistrationRequest{
		Hostname:        info.Hostname,
		IPAddress:       info.IPAddress,
		OS:              info.OS,
		OSVersion:       info.OSVersion,
		RegistrationKey: c.registrationKey,
	}

	var resp RegistrationResponse
	if err := c.post(ctx, c.registrationEndpoint, req, &resp); err != nil {
		return RegistrationResponse{}, fmt.Errorf("registration failed: %w", err)
	}
	if resp.AgentID == "" {
		return RegistrationResponse{}, fmt.Errorf("registration response carried no agent id")
	}
	c.agentID = resp.AgentID
	c.token = resp.Token
	return resp, nil
}

// Heartbeat posts the liveness payload.
func (c *Client) Heartbeat(ctx context.Context, metrics sysinfo.Metrics) error {
	req := HeartbeatRequest{
		AgentID:   c.agentID,
		Timestamp: time.Now().UTC(),
		Metrics:   metrics,
	}
	if err := c.post(ctx, c.heartbeatEndpoint, req, nil); err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}
	return nil
}

// UploadEvents posts one event batch. Any non-2xx status is a delivery
// failure; the caller re-queues the batch.
func (c *Client) UploadEvents(ctx context.Context, events []models.Event) error {
	req := UploadRequest{
		AgentID:   c.agentID,
		Timestamp: time.Now().UTC(),
		Events:    events,
	}
	if err := c.post(ctx, c.dataEndpoint, req, nil); err != nil {
		return fmt.Errorf("event upload failed: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.agentID != "" {
		httpReq.Header.Set("X-Agent-ID", c.agentID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
