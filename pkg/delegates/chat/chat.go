// Package chat delivers send-message actions through an HTTP chat gateway
// (WhatsApp or similar).
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/delegates"
)

const name = "chat"

var ErrGatewayURL = errors.New("chat gateway url is required")

type Config struct {
	// BaseURL of the gateway; messages are posted to BaseURL/messages.
	BaseURL string
	Token   string
}

type Sender struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config, client *http.Client, logger *slog.Logger) (*Sender, error) {
	if cfg.BaseURL == "" {
		return nil, ErrGatewayURL
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if client == nil {
		client = delegates.NewClient(0)
	}

	return &Sender{cfg: cfg, client: client, logger: logger.With("module", "chat")}, nil
}

type outbound struct {
	TenantID string `json:"tenant_id"`
	EntityID string `json:"entity_id"`
	To       string `json:"to"`
	Body     string `json:"body"`
}

type accepted struct {
	ID string `json:"id"`
}

func (s *Sender) Send(ctx context.Context, msg actions.Message) (actions.SendResult, error) {
	if msg.To == "" {
		return actions.SendResult{}, actions.Permanent(name, "send", actions.ErrRecipientMissing)
	}

	payload, err := json.Marshal(outbound{
		TenantID: msg.TenantID,
		EntityID: msg.EntityID,
		To:       msg.To,
		Body:     msg.Body,
	})
	if err != nil {
		return actions.SendResult{}, actions.Permanent(name, "send", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return actions.SendResult{}, actions.Permanent(name, "send", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	if msg.IdempotencyKey != "" {
		req.Header.Set(delegates.IdempotencyHeader, msg.IdempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return actions.SendResult{}, delegates.TransportError(name, "send", err)
	}
	defer resp.Body.Close()

	if err := delegates.CheckStatus(name, "send", resp); err != nil {
		return actions.SendResult{}, err
	}

	var out accepted
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// The gateway accepted the message; a malformed receipt must not
		// trigger a second delivery.
		s.logger.WarnContext(ctx, "unreadable gateway receipt", "error", err)
	}

	s.logger.DebugContext(ctx, "message sent", "entity_id", msg.EntityID, "provider_id", out.ID)

	return actions.SendResult{ProviderMessageID: out.ID}, nil
}
