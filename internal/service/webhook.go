package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sumire/buildd/internal/dispatch"
	"github.com/sumire/buildd/internal/domain"
	"github.com/sumire/buildd/internal/github"
	"github.com/sumire/buildd/internal/queue"
	"github.com/sumire/buildd/internal/report"
	"github.com/sumire/buildd/internal/repository"
)

// maxAttempts bounds reprocessing of a single webhook event. Reaching
// the cap forces acceptance (drop) of the event.
const maxAttempts = 5

// Retry metadata travels on the message itself so an attempt count can
// never leak onto an unrelated event.
const (
	headerRetry         = "x-retry"
	headerDispatchToken = "x-dispatch-token"
)

// PullHost is the code-host surface needed by the webhook processor.
// Satisfied by *github.Client.
type PullHost interface {
	GetPullRequest(ctx context.Context, number int64) (*github.PullRequest, error)
	IsOrgMember(ctx context.Context, login string) (bool, error)
	CreateComment(ctx context.Context, number int64, body string) error
}

// JobDispatcher fans a build request out to the job queues. Satisfied
// by *dispatch.Dispatcher.
type JobDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) ([]domain.Job, error)
}

// ArchResolver derives the architecture set for a package list.
// Satisfied by *abbs.Tree.
type ArchResolver interface {
	Architectures(packages []string) []string
}

// handleResult classifies the outcome of processing one event.
type handleResult int

const (
	handleOK handleResult = iota
	handleDoNotRetry
	handleRetry
)

// WebhookProcessor consumes inbound review-comment events, parses the
// bot command, authorizes the requester, resolves the pull request, and
// dispatches build jobs.
type WebhookProcessor struct {
	broker     *queue.Broker
	dispatcher JobDispatcher
	host       PullHost     // nil when no code-host credential is configured
	archs      ArchResolver // nil falls back to the full supported set
	store      *repository.Store
	renderer   report.Renderer
	mention    string

	// dispatch idempotency tokens of events still in their retry
	// cycle; removed once the event is settled for good. In-process
	// only, matching the per-event retry-state scope.
	dispatched map[string]struct{}
}

// NewWebhookProcessor creates a WebhookProcessor. host, archs, and
// store may be nil.
func NewWebhookProcessor(broker *queue.Broker, dispatcher JobDispatcher, host PullHost, archs ArchResolver, store *repository.Store, renderer report.Renderer, botLogin string) *WebhookProcessor {
	return &WebhookProcessor{
		broker:     broker,
		dispatcher: dispatcher,
		host:       host,
		archs:      archs,
		store:      store,
		renderer:   renderer,
		mention:    "@" + botLogin,
		dispatched: make(map[string]struct{}),
	}
}

// Run consumes webhook events until ctx is cancelled.
func (p *WebhookProcessor) Run(ctx context.Context) {
	runSupervised(ctx, "github-webhooks", p.consume)
}

func (p *WebhookProcessor) consume(ctx context.Context) error {
	sess, err := p.broker.Open(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	deliveries, err := sess.Consume(queue.WebhooksQueue, "")
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("webhook delivery channel closed")
			}
			if err := p.handle(ctx, sess, delivery); err != nil {
				return err
			}
		}
	}
}

// retryPublisher requeues an event with retry metadata. Satisfied by
// *queue.Session.
type retryPublisher interface {
	PublishWithHeaders(ctx context.Context, queueName string, body []byte, headers amqp.Table) error
}

// handle processes one delivery and settles it: success and
// DoNotRetry acknowledge immediately; a retryable failure republishes
// the event with an incremented attempt count and then acknowledges
// the original, so the failed event itself carries its retry state and
// no delivery is left permanently unacknowledged.
func (p *WebhookProcessor) handle(ctx context.Context, sess retryPublisher, delivery amqp.Delivery) error {
	var event domain.CommentEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		slog.Warn("skipping malformed webhook event", "error", err)
		ack(delivery, "github-webhooks")
		return nil
	}

	attempt := retryCount(delivery.Headers)
	token, _ := delivery.Headers[headerDispatchToken].(string)

	switch p.process(ctx, event, &token) {
	case handleOK, handleDoNotRetry:
		// the event is settled for good, its token has no further use
		delete(p.dispatched, token)
		ack(delivery, "github-webhooks")
		return nil

	case handleRetry:
		next := attempt + 1
		if next >= maxAttempts {
			slog.Warn("dropping webhook event after max attempts",
				"attempts", next, "author", event.Comment.User.Login)
			delete(p.dispatched, token)
			ack(delivery, "github-webhooks")
			return nil
		}

		headers := amqp.Table{headerRetry: int32(next)}
		if token != "" {
			headers[headerDispatchToken] = token
		}
		if err := sess.PublishWithHeaders(ctx, queue.WebhooksQueue, delivery.Body, headers); err != nil {
			// keep the event pending via broker redelivery instead
			if rejectErr := delivery.Reject(true); rejectErr != nil {
				slog.Warn("failed to reject delivery", "error", rejectErr)
			}
			return fmt.Errorf("requeue webhook event: %w", err)
		}
		ack(delivery, "github-webhooks")
		return nil
	}
	return nil
}

// process runs the Parsing -> Authorizing -> Resolving -> Dispatching
// -> Reporting pipeline for one event. On a successful dispatch it
// stores the idempotency token so a retry of the reporting stage never
// re-dispatches jobs.
func (p *WebhookProcessor) process(ctx context.Context, event domain.CommentEvent, token *string) handleResult {
	// Parsing
	cmd, err := parseBotCommand(p.mention, event.Comment.Body)
	if err != nil {
		if !errors.Is(err, errNotAddressed) {
			slog.Info("discarding webhook event", "reason", err, "author", event.Comment.User.Login)
		}
		return handleDoNotRetry
	}
	build := cmd.(BuildCommand)

	// A missing credential is a configuration state that retrying the
	// event cannot fix; discard it, but distinctly from malformed input.
	if p.host == nil {
		slog.Error("discarding build command",
			"error", domain.ErrMissingCredential, "author", event.Comment.User.Login)
		return handleDoNotRetry
	}

	// Authorizing: a definitive non-member answer is a discard, not an
	// error; only an unreachable check is retryable.
	member, err := p.host.IsOrgMember(ctx, event.Comment.User.Login)
	if err != nil {
		slog.Error("membership check failed", "login", event.Comment.User.Login, "error", err)
		return handleRetry
	}
	if !member {
		slog.Warn("comment author is not an org member", "login", event.Comment.User.Login)
		return handleDoNotRetry
	}

	// Resolving
	number, err := prNumberFromIssueURL(event.Comment.IssueURL)
	if err != nil {
		slog.Error("failed to extract pr number", "issue_url", event.Comment.IssueURL, "error", err)
		return handleRetry
	}

	pr, err := p.host.GetPullRequest(ctx, number)
	if err != nil {
		slog.Error("failed to fetch pull request", "pr", number, "error", err)
		return handleRetry
	}

	packages := github.PackagesFromPR(pr)
	if len(packages) == 0 {
		slog.Warn("pull request lists no packages to build", "pr", number)
		return handleDoNotRetry
	}

	archs := build.Archs
	if archs == nil {
		if p.archs != nil {
			archs = p.archs.Architectures(packages)
		} else {
			archs = domain.SupportedArchitectures
		}
	}

	gitRef := pr.Head.Ref
	if pr.MergedAt != nil {
		gitRef = "stable"
	}

	// Dispatching, skipped when this event's token already dispatched
	if _, done := p.dispatched[*token]; !done {
		if *token == "" {
			*token = uuid.NewString()
		}
		jobs, err := p.dispatcher.Dispatch(ctx, dispatch.Request{
			GitRef:   gitRef,
			Packages: packages,
			Archs:    archs,
			GitHubPR: &number,
		})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				slog.Warn("discarding invalid build command", "pr", number, "error", err)
				return handleDoNotRetry
			}
			slog.Error("dispatch failed", "pr", number, "error", err)
			return handleRetry
		}
		p.dispatched[*token] = struct{}{}

		if p.store != nil {
			dispatchedArchs := make([]string, 0, len(jobs))
			for _, job := range jobs {
				dispatchedArchs = append(dispatchedArchs, job.Arch)
			}
			if err := p.store.CreatePipeline(ctx, *token, gitRef, packages, dispatchedArchs); err != nil {
				slog.Warn("failed to record pipeline", "pipeline", *token, "error", err)
			}
		}
	}

	// Reporting
	normalized, err := dispatch.NormalizeArchitectures(archs)
	if err != nil {
		normalized = archs
	}
	summary := p.renderer.NewJobSummaryMarkdown(gitRef, &number, normalized, packages)
	if err := p.host.CreateComment(ctx, number, summary); err != nil {
		slog.Error("failed to post new-job summary", "pr", number, "error", err)
		return handleRetry
	}

	return handleOK
}

func retryCount(headers amqp.Table) int {
	switch v := headers[headerRetry].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// prNumberFromIssueURL extracts the pull-request number from the last
// path segment of the event's issue URL.
func prNumberFromIssueURL(issueURL string) (int64, error) {
	idx := strings.LastIndex(issueURL, "/")
	if idx < 0 || idx == len(issueURL)-1 {
		return 0, fmt.Errorf("no number in issue url %q", issueURL)
	}
	number, err := strconv.ParseInt(issueURL[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse pr number from %q: %w", issueURL, err)
	}
	return number, nil
}
