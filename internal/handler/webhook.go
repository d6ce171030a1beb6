package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/buildd/internal/domain"
	"github.com/sumire/buildd/internal/queue"
)

// WebhookHandler receives code-host webhook deliveries and forwards
// review-comment events onto the github-webhooks queue. Processing
// happens asynchronously in the webhook command processor; this
// endpoint only persists the event.
type WebhookHandler struct {
	broker *queue.Broker
	secret string
}

// NewWebhookHandler creates a WebhookHandler. secret may be empty, in
// which case signatures are not verified.
func NewWebhookHandler(broker *queue.Broker, secret string) *WebhookHandler {
	return &WebhookHandler{broker: broker, secret: secret}
}

// Receive handles POST /webhook.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fmt.Errorf("read webhook body: %w", err)
	}

	if h.secret != "" {
		if !verifySignature(h.secret, body, c.Request().Header.Get("X-Hub-Signature-256")) {
			return fmt.Errorf("%w: webhook signature mismatch", domain.ErrUnauthorized)
		}
	}

	if c.Request().Header.Get("X-GitHub-Event") != "issue_comment" {
		return c.NoContent(http.StatusNoContent)
	}

	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return fmt.Errorf("%w: malformed webhook payload", domain.ErrInvalidInput)
	}
	if probe.Action != "created" {
		return c.NoContent(http.StatusNoContent)
	}

	sess, err := h.broker.Open(c.Request().Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	if _, err := sess.EnsureQueue(queue.WebhooksQueue); err != nil {
		return err
	}
	if err := sess.Publish(c.Request().Context(), queue.WebhooksQueue, body); err != nil {
		return err
	}

	slog.Info("queued webhook event", "event", "issue_comment")
	return c.NoContent(http.StatusNoContent)
}

func verifySignature(secret string, body []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
