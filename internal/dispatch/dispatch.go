package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sumire/buildd/internal/domain"
)

// Publisher is the broker surface the dispatcher needs. Satisfied by
// *queue.Session.
type Publisher interface {
	EnsureQueue(name string) (amqp.Queue, error)
	Publish(ctx context.Context, queueName string, body []byte) error
}

// Request is one user-level build request before fan-out.
type Request struct {
	GitRef   string
	Packages []string
	Archs    []string
	ChatID   int64
	GitHubPR *int64
}

// Dispatcher fans a build request out into one Job per architecture.
type Dispatcher struct {
	publisher Publisher
}

// New creates a Dispatcher publishing through the given Publisher.
func New(publisher Publisher) *Dispatcher {
	return &Dispatcher{publisher: publisher}
}

// Dispatch expands the requested architectures, publishes one Job per
// architecture to its queue, and returns the published jobs in queue
// order. The call returns only after the broker has confirmed every
// publish; any single failure fails the whole request. Callers must
// treat a failure as all-or-nothing even though the broker-side effect
// may be partial.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) ([]domain.Job, error) {
	if len(req.Packages) == 0 {
		return nil, fmt.Errorf("%w: package list is empty", domain.ErrInvalidInput)
	}

	archs, err := NormalizeArchitectures(req.Archs)
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(archs))
	for _, arch := range archs {
		job := domain.Job{
			Packages: req.Packages,
			GitRef:   req.GitRef,
			Arch:     arch,
			ChatID:   req.ChatID,
			GitHubPR: req.GitHubPR,
		}

		if _, err := d.publisher.EnsureQueue(job.QueueName()); err != nil {
			return nil, err
		}

		body, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("marshal job: %w", err)
		}

		slog.Info("publishing job", "queue", job.QueueName(), "git_ref", job.GitRef, "packages", job.Packages)
		if err := d.publisher.Publish(ctx, job.QueueName(), body); err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

// NormalizeArchitectures expands the mainline alias to the full
// supported set, removes the alias itself, then sorts and deduplicates.
// Input order never affects which jobs are created, only display order.
func NormalizeArchitectures(archs []string) ([]string, error) {
	if len(archs) == 0 {
		return nil, fmt.Errorf("%w: architecture list is empty", domain.ErrInvalidInput)
	}

	expanded := make([]string, 0, len(archs))
	for _, arch := range archs {
		if arch == domain.ArchMainline {
			expanded = append(expanded, domain.SupportedArchitectures...)
			continue
		}
		expanded = append(expanded, arch)
	}

	sort.Strings(expanded)

	result := expanded[:0]
	for i, arch := range expanded {
		if i > 0 && arch == expanded[i-1] {
			continue
		}
		if !domain.IsSupportedArch(arch) {
			return nil, fmt.Errorf("%w: unsupported architecture %q", domain.ErrInvalidInput, arch)
		}
		result = append(result, arch)
	}

	return result, nil
}
