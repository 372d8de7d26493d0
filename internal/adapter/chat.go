package adapter

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

	"github.com/heraldhq/herald/internal/notify"
)

// Chat delivers chat-app messages through an HTTP messaging provider
// (Meta-style graph API: POST a JSON message to a phone-number endpoint
// with a bearer token).
type Chat struct {
	client  *http.Client
	baseURL string
	token   string
	logger  *zap.Logger
}

type ChatConfig struct {
	BaseURL string        // provider endpoint, e.g. https://graph.example.com/v18.0/<phoneId>/messages
	Token   string        // bearer token
	Timeout time.Duration // per-request timeout, default 30s
}

type chatRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             chatText `json:"text"`
}

type chatText struct {
	Body string `json:"body"`
}

type chatResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// NewChat creates the chat adapter.
func NewChat(cfg ChatConfig, logger *zap.Logger) *Chat {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Chat{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		logger:  logger,
	}
}

// Send posts one text message to the provider. The subject is ignored;
// chat messages carry no subject.
func (c *Chat) Send(ctx context.Context, contact, body, _ string) (notify.SendOutcome, error) {
	payload, err := json.Marshal(chatRequest{
		MessagingProduct: "whatsapp",
		To:               normalizePhone(contact),
		Type:             "text",
		Text:             chatText{Body: body},
	})
	if err != nil {
		return notify.SendOutcome{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return notify.SendOutcome{}, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return notify.SendOutcome{}, notify.NewError(notify.CodeProviderTransient, "chat request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("chat provider returned status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return notify.SendOutcome{}, notify.NewError(notify.CodeProviderTransient, "chat send failed", err)
		}
		return notify.SendOutcome{}, notify.NewError(notify.CodeProviderPermanent, "chat send rejected", err)
	}

	var parsed chatResponse
	messageID := ""
	if err := json.Unmarshal(respBody, &parsed); err == nil && len(parsed.Messages) > 0 {
		messageID = parsed.Messages[0].ID
	}

	c.logger.Info("chat message sent",
		zap.String("to", contact),
		zap.String("message_id", messageID),
	)

	return notify.SendOutcome{ProviderMessageID: messageID}, nil
}

// ValidateContact checks the handle is a plausible phone-style identifier.
func (c *Chat) ValidateContact(contact string) bool {
	return validPhone(contact)
}

func normalizePhone(contact string) string {
	var b strings.Builder
	for _, r := range contact {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
