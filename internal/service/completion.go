package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sumire/buildd/internal/chat"
	"github.com/sumire/buildd/internal/domain"
	"github.com/sumire/buildd/internal/github"
	"github.com/sumire/buildd/internal/queue"
	"github.com/sumire/buildd/internal/report"
	"github.com/sumire/buildd/internal/repository"
)

// CommentHost is the code-host surface needed for completion
// annotation. Satisfied by *github.Client.
type CommentHost interface {
	ListComments(ctx context.Context, number int64) ([]github.IssueComment, error)
	CreateComment(ctx context.Context, number int64, body string) error
	UpdateComment(ctx context.Context, commentID int64, body string) error
}

// CompletionConsumer correlates job results with their jobs, reports
// them to the originating chat session, and annotates the originating
// pull request.
type CompletionConsumer struct {
	broker   *queue.Broker
	notifier chat.Notifier
	host     CommentHost // nil when no code-host write credential is configured
	store    *repository.Store
	renderer report.Renderer
	botLogin string
}

// NewCompletionConsumer creates a CompletionConsumer. host and store
// may be nil.
func NewCompletionConsumer(broker *queue.Broker, notifier chat.Notifier, host CommentHost, store *repository.Store, renderer report.Renderer, botLogin string) *CompletionConsumer {
	return &CompletionConsumer{
		broker:   broker,
		notifier: notifier,
		host:     host,
		store:    store,
		renderer: renderer,
		botLogin: botLogin,
	}
}

// Run consumes job results until ctx is cancelled. Errors escaping
// per-message handling terminate the inner loop and the consumer is
// restarted after a fixed backoff.
func (c *CompletionConsumer) Run(ctx context.Context) {
	runSupervised(ctx, "job-completion", c.consume)
}

func (c *CompletionConsumer) consume(ctx context.Context) error {
	sess, err := c.broker.Open(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	deliveries, err := sess.Consume(queue.CompletionQueue, "backend_server")
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("completion delivery channel closed")
			}
			if err := c.handle(ctx, delivery); err != nil {
				return err
			}
		}
	}
}

// handle processes one job result. Acknowledgement is the last action:
// a crash mid-processing causes redelivery and a duplicate append,
// which the append-only comment model tolerates.
func (c *CompletionConsumer) handle(ctx context.Context, delivery amqp.Delivery) error {
	var result domain.JobResult
	if err := json.Unmarshal(delivery.Body, &result); err != nil {
		// one bad message must not stall the queue
		slog.Warn("skipping malformed job result", "error", err)
		ack(delivery, "job-completion")
		return nil
	}

	slog.Info("processing job result",
		"arch", result.Job.Arch,
		"worker", result.Worker.Hostname,
		"successful", result.Successful())

	if c.store != nil {
		if err := c.store.MarkJobFinished(ctx, result); err != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("failed to record job result", "error", err)
		}
	}

	// jobs dispatched from a webhook have no originating chat session
	if result.Job.ChatID != 0 {
		if err := c.notifier.SendMessage(ctx, result.Job.ChatID, c.renderer.CompletionHTML(result)); err != nil {
			return fmt.Errorf("notify chat %d: %w", result.Job.ChatID, err)
		}
	}

	if c.host != nil && result.Job.GitHubPR != nil {
		if err := c.annotate(ctx, *result.Job.GitHubPR, result); err != nil {
			return fmt.Errorf("annotate pr %d: %w", *result.Job.GitHubPR, err)
		}
	}

	ack(delivery, "job-completion")
	return nil
}

// annotate appends the report to the bot's existing comment on the pull
// request, creating one if none exists. The comment accumulates one
// entry per completed architecture, functioning as a running build log.
func (c *CompletionConsumer) annotate(ctx context.Context, pr int64, result domain.JobResult) error {
	entry := c.renderer.CompletionMarkdown(result)

	comments, err := c.host.ListComments(ctx, pr)
	if err != nil {
		return err
	}

	var latest *github.IssueComment
	for i := range comments {
		if comments[i].User.Login == c.botLogin {
			latest = &comments[i]
		}
	}

	if latest == nil {
		slog.Info("no existing bot comment, creating one", "pr", pr)
		return c.host.CreateComment(ctx, pr, entry)
	}

	slog.Info("appending to existing bot comment", "pr", pr, "comment_id", latest.ID)
	body := entry
	if latest.Body != nil && *latest.Body != "" {
		body = *latest.Body + "\n" + entry
	}
	return c.host.UpdateComment(ctx, latest.ID, body)
}
