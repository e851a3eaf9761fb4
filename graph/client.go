/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package graph is a thin client for the calling control-plane of the
// WhatsApp Cloud API (Graph API). It sends call actions (pre_accept, accept,
// reject, terminate) for inbound calls.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Action is a control-plane call action.
type Action string

const (
	ActionPreAccept Action = "pre_accept"
	ActionAccept    Action = "accept"
	ActionReject    Action = "reject"
	ActionTerminate Action = "terminate"
)

// carriesSDP reports whether the action must carry the answer SDP.
func (a Action) carriesSDP() bool {
	return a == ActionPreAccept || a == ActionAccept
}

// ErrActionRejected is returned when the API answers 2xx but does not report success.
var ErrActionRejected = errors.New("call action was not acknowledged as successful")

// Config holds the configuration for the Graph client
type Config struct {
	// BaseURL is the base URL of the Graph API
	BaseURL string

	// APIVersion is the versioned path segment, e.g. "v19.0"
	APIVersion string

	// PhoneNumberID is the business phone number the calls belong to
	PhoneNumberID string

	// Timeout for API requests
	Timeout time.Duration

	// Custom HTTP client to use instead of the default one
	// If nil, a default client will be created with the specified Timeout
	HttpClient *http.Client

	// Logger for failed actions. If nil, logging is disabled.
	Logger *zap.Logger
}

// DefaultConfig returns a default configuration for the Graph client
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://graph.facebook.com",
		APIVersion: "v19.0",
		Timeout:    30 * time.Second,
	}
}

// Client sends call actions to the control-plane endpoint.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	accessToken string
	logger      *zap.Logger
}

// NewClient creates a new Graph client with the given access token and optional configuration
func NewClient(accessToken string, config *Config) (*Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.PhoneNumberID == "" {
		return nil, fmt.Errorf("phone number id cannot be empty")
	}

	apiVersion := config.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultConfig().APIVersion
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	base = base.JoinPath(apiVersion, config.PhoneNumberID, "calls")

	httpClient := config.HttpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		httpClient:  httpClient,
		endpoint:    base.String(),
		accessToken: accessToken,
		logger:      logger.Named("graph"),
	}, nil
}

// Endpoint returns the calls endpoint URL actions are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type actionSession struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

type actionRequest struct {
	MessagingProduct string         `json:"messaging_product"`
	CallID           string         `json:"call_id"`
	Action           Action         `json:"action"`
	Session          *actionSession `json:"session,omitempty"`
}

type actionResponse struct {
	Success bool `json:"success"`
}

// CallAction posts one action for callID. The SDP is attached only for
// pre_accept and accept. No retries are attempted.
func (c *Client) CallAction(ctx context.Context, callID string, action Action, sdp string) error {
	body := actionRequest{
		MessagingProduct: "whatsapp",
		CallID:           callID,
		Action:           action,
	}
	if action.carriesSDP() && sdp != "" {
		body.Session = &actionSession{SDPType: "answer", SDP: sdp}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", action, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", action, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewAPIError(resp, respBody)
	}

	var parsed actionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", action, err)
	}
	if !parsed.Success {
		return ErrActionRejected
	}
	return nil
}

// Send performs CallAction and reports whether it succeeded. Failures are
// logged with the action and call id and never returned.
func (c *Client) Send(ctx context.Context, callID string, action Action, sdp string) bool {
	if err := c.CallAction(ctx, callID, action, sdp); err != nil {
		fields := []zap.Field{
			zap.String("call_id", callID),
			zap.String("action", string(action)),
			zap.Error(err),
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			fields = append(fields,
				zap.Int("status", apiErr.StatusCode),
				zap.String("fbtrace_id", apiErr.TraceID),
				zap.String("error_class", errorClass(err)),
			)
			if apiErr.RetryAfter > 0 {
				fields = append(fields, zap.Duration("retry_after", apiErr.RetryAfter))
			}
		}
		c.logger.Error("call action failed", fields...)
		return false
	}
	c.logger.Info("call action sent", zap.String("call_id", callID), zap.String("action", string(action)))
	return true
}
