package service

import (
	"errors"
	"strings"
)

// BotCommand is a command addressed to the bot in a review comment.
// The set is closed; unparseable input is a distinct error, never a
// default branch.
type BotCommand interface {
	isBotCommand()
}

// BuildCommand requests a build of the pull request's packages. Archs
// is nil when the comment did not name architectures explicitly, in
// which case they are derived from the changed packages.
type BuildCommand struct {
	Archs []string
}

func (BuildCommand) isBotCommand() {}

var (
	errNotAddressed   = errors.New("comment is not addressed to the bot")
	errUnknownCommand = errors.New("unknown command")
)

// parseBotCommand parses a review-comment body into a BotCommand. The
// body must start with the bot's mention token; the remaining
// whitespace-delimited tokens are the command and its arguments.
func parseBotCommand(mention, body string) (BotCommand, error) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, mention) {
		return nil, errNotAddressed
	}

	tokens := strings.Fields(body)[1:]
	if len(tokens) == 0 {
		return nil, errUnknownCommand
	}

	switch tokens[0] {
	case "build":
		cmd := BuildCommand{}
		if len(tokens) > 1 {
			cmd.Archs = strings.Split(tokens[1], ",")
		}
		return cmd, nil
	default:
		return nil, errUnknownCommand
	}
}
