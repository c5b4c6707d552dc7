package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"eznotify/config"
	"eznotify/internal/model"

	"go.uber.org/zap"
)

// SMSSender delivers notifications through an HTTP SMS gateway.
type SMSSender struct {
	gatewayURL string
	apiKey     string
	client     *http.Client
	logger     *zap.Logger
}

func NewSMSSender(cfg config.SMSConfig, logger *zap.Logger) *SMSSender {
	return &SMSSender{
		gatewayURL: cfg.GatewayURL,
		apiKey:     cfg.APIKey,
		client:     &http.Client{},
		logger:     logger,
	}
}

type smsRequest struct {
	To       string          `json:"to"`
	TenantID string          `json:"tenant_id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (s *SMSSender) Send(ctx context.Context, job model.Job) error {
	body, err := json.Marshal(smsRequest{
		To:       job.Recipient,
		TenantID: job.TenantID,
		Kind:     string(job.Type),
		Payload:  job.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	return nil
}
