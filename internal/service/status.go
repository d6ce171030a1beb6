package service

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sumire/buildd/internal/domain"
	"github.com/sumire/buildd/internal/queue"
	"github.com/sumire/buildd/internal/registry"
)

// QueueStatus describes one architecture's job queue.
type QueueStatus struct {
	Arch string `json:"arch"`
	// Unacknowledged is nil when no management API is configured.
	Unacknowledged *int64 `json:"unacknowledged,omitempty"`
	Consumers      int    `json:"consumers"`
}

// WorkerView is one worker's liveness as seen by the reporter.
type WorkerView struct {
	Identifier    domain.WorkerIdentifier `json:"identifier"`
	LastHeartbeat time.Time               `json:"last_heartbeat"`
	Online        bool                    `json:"online"`
}

// Status is the combined queue and worker view.
type Status struct {
	Queues  []QueueStatus `json:"queues"`
	Workers []WorkerView  `json:"workers"`
}

// StatusReporter combines per-architecture queue depth and consumer
// counts with the liveness registry snapshot. Read-only.
type StatusReporter struct {
	broker           *queue.Broker
	registry         *registry.Registry
	queueAPIURL      string // management API base, optional
	heartbeatTimeout time.Duration
	http             *http.Client
	now              func() time.Time
}

// NewStatusReporter creates a StatusReporter. queueAPIURL may be empty.
func NewStatusReporter(broker *queue.Broker, reg *registry.Registry, queueAPIURL string, heartbeatTimeout time.Duration) *StatusReporter {
	return &StatusReporter{
		broker:           broker,
		registry:         reg,
		queueAPIURL:      queueAPIURL,
		heartbeatTimeout: heartbeatTimeout,
		http:             &http.Client{Timeout: 30 * time.Second},
		now:              time.Now,
	}
}

// Report gathers the current status. The registry snapshot is an
// instant-in-time view; a worker may go silent right after it is taken.
func (r *StatusReporter) Report(ctx context.Context) (*Status, error) {
	sess, err := r.broker.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	status := &Status{}
	for _, arch := range domain.SupportedArchitectures {
		queueName := "job-" + arch

		q, err := sess.EnsureQueue(queueName)
		if err != nil {
			return nil, err
		}

		qs := QueueStatus{Arch: arch, Consumers: q.Consumers}
		if r.queueAPIURL != "" {
			unacknowledged, err := r.fetchUnacknowledged(ctx, queueName)
			if err != nil {
				return nil, err
			}
			qs.Unacknowledged = &unacknowledged
		}
		status.Queues = append(status.Queues, qs)
	}

	threshold := r.now().Add(-r.heartbeatTimeout)
	for _, entry := range r.registry.Snapshot() {
		status.Workers = append(status.Workers, WorkerView{
			Identifier:    entry.Identifier,
			LastHeartbeat: entry.Status.LastHeartbeat,
			Online:        entry.Status.LastHeartbeat.After(threshold),
		})
	}

	return status, nil
}

// fetchUnacknowledged reads the queue's unacknowledged message count
// from the broker management API.
func (r *StatusReporter) fetchUnacknowledged(ctx context.Context, queueName string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.queueAPIURL+queueName, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("query management api for %s: %w", queueName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("management api returned status %d for %s", resp.StatusCode, queueName)
	}

	var body struct {
		MessagesUnacknowledged int64 `json:"messages_unacknowledged"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode management api response: %w", err)
	}
	return body.MessagesUnacknowledged, nil
}

// HTML renders the status for the chat front end.
func (s *Status) HTML() string {
	var b strings.Builder
	b.WriteString("<b><u>Queue Status</u></b>\n\n")
	for _, q := range s.Queues {
		depth := ""
		if q.Unacknowledged != nil {
			depth = fmt.Sprintf("%d job(s), ", *q.Unacknowledged)
		}
		fmt.Fprintf(&b, "<b>%s</b>: %s%d available server(s)\n", q.Arch, depth, q.Consumers)
	}

	b.WriteString("\n<b><u>Server Status</u></b>\n\n")
	for _, w := range s.Workers {
		state := "Offline"
		if w.Online {
			state = "Online"
		}
		fmt.Fprintf(&b, "%s (%s): %s as of %s\n",
			html.EscapeString(w.Identifier.Hostname), w.Identifier.Arch,
			state, w.LastHeartbeat.Format(time.RFC3339))
	}
	return b.String()
}
