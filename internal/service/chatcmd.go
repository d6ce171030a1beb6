package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/sumire/buildd/internal/chat"
	"github.com/sumire/buildd/internal/dispatch"
	"github.com/sumire/buildd/internal/report"
)

const helpText = `buildd supports the following commands:
/build [git-ref] [packages] [archs] — start a build job (e.g. /build stable bash,fish amd64,arm64)
/status — show queue and worker status
/help — this message`

// chatCommand is a parsed chat command. The set is closed.
type chatCommand interface {
	isChatCommand()
}

type helpCommand struct{}
type statusCommand struct{}
type chatBuildCommand struct {
	GitRef   string
	Packages []string
	Archs    []string
}

func (helpCommand) isChatCommand()      {}
func (statusCommand) isChatCommand()    {}
func (chatBuildCommand) isChatCommand() {}

var errBadChatCommand = errors.New("invalid command")

func parseChatCommand(text string) (chatCommand, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return nil, errBadChatCommand
	}

	// commands may arrive as /build@botname in group chats
	name, _, _ := strings.Cut(fields[0], "@")
	switch name {
	case "/help", "/start":
		return helpCommand{}, nil
	case "/status":
		return statusCommand{}, nil
	case "/build":
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: /build takes git-ref, packages, archs", errBadChatCommand)
		}
		return chatBuildCommand{
			GitRef:   fields[1],
			Packages: strings.Split(fields[2], ","),
			Archs:    strings.Split(fields[3], ","),
		}, nil
	default:
		return nil, errBadChatCommand
	}
}

// ChatCommands handles commands arriving from the chat front end.
// Errors are surfaced as chat replies rather than failing silently.
type ChatCommands struct {
	dispatcher JobDispatcher
	reporter   *StatusReporter
	notifier   chat.Notifier
	renderer   report.Renderer
}

// NewChatCommands creates a ChatCommands service.
func NewChatCommands(dispatcher JobDispatcher, reporter *StatusReporter, notifier chat.Notifier, renderer report.Renderer) *ChatCommands {
	return &ChatCommands{
		dispatcher: dispatcher,
		reporter:   reporter,
		notifier:   notifier,
		renderer:   renderer,
	}
}

// Handle parses and executes one chat message. The reply, success or
// failure, goes back to the originating chat session.
func (c *ChatCommands) Handle(ctx context.Context, chatID int64, text string) {
	cmd, err := parseChatCommand(text)
	if err != nil {
		c.reply(ctx, chatID, fmt.Sprintf("Got invalid command: %s.", html.EscapeString(text)))
		return
	}

	switch cmd := cmd.(type) {
	case helpCommand:
		c.reply(ctx, chatID, html.EscapeString(helpText))

	case statusCommand:
		status, err := c.reporter.Report(ctx)
		if err != nil {
			c.reply(ctx, chatID, fmt.Sprintf("Failed to get status: %s", html.EscapeString(err.Error())))
			return
		}
		c.reply(ctx, chatID, status.HTML())

	case chatBuildCommand:
		jobs, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
			GitRef:   cmd.GitRef,
			Packages: cmd.Packages,
			Archs:    cmd.Archs,
			ChatID:   chatID,
		})
		if err != nil {
			c.reply(ctx, chatID, fmt.Sprintf("Failed to create job: %s", html.EscapeString(err.Error())))
			return
		}

		archs := make([]string, 0, len(jobs))
		for _, job := range jobs {
			archs = append(archs, job.Arch)
		}
		c.reply(ctx, chatID, c.renderer.NewJobSummaryHTML(cmd.GitRef, nil, archs, cmd.Packages))
	}
}

func (c *ChatCommands) reply(ctx context.Context, chatID int64, text string) {
	if err := c.notifier.SendMessage(ctx, chatID, text); err != nil {
		slog.Error("failed to send chat reply", "chat_id", chatID, "error", err)
	}
}
