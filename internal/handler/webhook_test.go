package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/buildd/internal/domain"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookContext(body string, headers map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := NewWebhookHandler(nil, "hunter2")
	c, _ := webhookContext(`{"action": "created"}`, map[string]string{
		"X-GitHub-Event":      "issue_comment",
		"X-Hub-Signature-256": "sha256=deadbeef",
	})

	err := h.Receive(c)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	h := NewWebhookHandler(nil, "hunter2")
	c, _ := webhookContext(`{"action": "created"}`, map[string]string{
		"X-GitHub-Event": "issue_comment",
	})

	err := h.Receive(c)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	body := `{"action": "created"}`
	h := NewWebhookHandler(nil, "hunter2")
	c, rec := webhookContext(body, map[string]string{
		"X-GitHub-Event":      "push",
		"X-Hub-Signature-256": sign("hunter2", []byte(body)),
	})

	require.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWebhookIgnoresEditedComments(t *testing.T) {
	body := `{"action": "edited"}`
	h := NewWebhookHandler(nil, "")
	c, rec := webhookContext(body, map[string]string{
		"X-GitHub-Event": "issue_comment",
	})

	require.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	h := NewWebhookHandler(nil, "")
	c, _ := webhookContext("{not json", map[string]string{
		"X-GitHub-Event": "issue_comment",
	})

	err := h.Receive(c)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"hello": "world"}`)
	assert.True(t, verifySignature("hunter2", body, sign("hunter2", body)))
	assert.False(t, verifySignature("hunter2", body, sign("wrong", body)))
	assert.False(t, verifySignature("hunter2", body, ""))
}
