package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/buildd/internal/service"
)

// TelegramHandler receives Telegram bot webhook updates and feeds chat
// commands into the command service.
type TelegramHandler struct {
	commands *service.ChatCommands
}

// NewTelegramHandler creates a TelegramHandler.
func NewTelegramHandler(commands *service.ChatCommands) *TelegramHandler {
	return &TelegramHandler{commands: commands}
}

type telegramUpdate struct {
	Message struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// Update handles POST /telegram. Replies go back through the chat
// notifier, so the webhook response itself is always 200.
func (h *TelegramHandler) Update(c echo.Context) error {
	var update telegramUpdate
	if err := c.Bind(&update); err != nil {
		return err
	}

	if update.Message.Text != "" {
		h.commands.Handle(c.Request().Context(), update.Message.Chat.ID, update.Message.Text)
	}

	return c.NoContent(http.StatusOK)
}
