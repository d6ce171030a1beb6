package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/buildd/internal/domain"
	"github.com/sumire/buildd/internal/github"
	"github.com/sumire/buildd/internal/report"
)

type fakeAcknowledger struct {
	acks    int
	rejects int
}

func (f *fakeAcknowledger) Ack(_ uint64, _ bool) error    { f.acks++; return nil }
func (f *fakeAcknowledger) Nack(_ uint64, _, _ bool) error { return nil }
func (f *fakeAcknowledger) Reject(_ uint64, _ bool) error  { f.rejects++; return nil }

func testRenderer() report.Renderer {
	return report.Renderer{Owner: "AOSC-Dev", Repo: "aosc-os-abbs"}
}

type fakeNotifier struct {
	messages []sentMessage
}

type sentMessage struct {
	chatID int64
	text   string
}

func (f *fakeNotifier) SendMessage(_ context.Context, chatID int64, text string) error {
	f.messages = append(f.messages, sentMessage{chatID: chatID, text: text})
	return nil
}

type fakeCommentHost struct {
	comments []github.IssueComment
	created  []string
	updated  map[int64]string
}

func newFakeCommentHost() *fakeCommentHost {
	return &fakeCommentHost{updated: make(map[int64]string)}
}

func (f *fakeCommentHost) ListComments(_ context.Context, _ int64) ([]github.IssueComment, error) {
	return f.comments, nil
}

func (f *fakeCommentHost) CreateComment(_ context.Context, _ int64, body string) error {
	f.created = append(f.created, body)
	return nil
}

func (f *fakeCommentHost) UpdateComment(_ context.Context, id int64, body string) error {
	f.updated[id] = body
	return nil
}

func resultDelivery(t *testing.T, result domain.JobResult, acker amqp.Acknowledger) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(result)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: acker, Body: body}
}

func sampleResult(pr *int64) domain.JobResult {
	return domain.JobResult{
		Job: domain.Job{
			Packages: []string{"bash"},
			GitRef:   "stable",
			Arch:     "amd64",
			ChatID:   7,
			GitHubPR: pr,
		},
		SuccessfulPackages: []string{"bash"},
		Worker:             domain.WorkerIdentifier{Hostname: "builder1", Arch: "amd64", PID: 99},
		Elapsed:            3 * time.Minute,
	}
}

func newTestCompletionConsumer(notifier *fakeNotifier, host CommentHost) *CompletionConsumer {
	return NewCompletionConsumer(nil, notifier, host, nil, testRenderer(), "buildd-bot")
}

func TestCompletionNotifiesChat(t *testing.T) {
	notifier := &fakeNotifier{}
	c := newTestCompletionConsumer(notifier, nil)
	acker := &fakeAcknowledger{}

	err := c.handle(context.Background(), resultDelivery(t, sampleResult(nil), acker))
	require.NoError(t, err)

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, int64(7), notifier.messages[0].chatID)
	assert.Contains(t, notifier.messages[0].text, "✅️")
	assert.Contains(t, notifier.messages[0].text, "builder1")
	assert.Equal(t, 1, acker.acks)
}

func TestCompletionFailureGlyph(t *testing.T) {
	notifier := &fakeNotifier{}
	c := newTestCompletionConsumer(notifier, nil)

	result := sampleResult(nil)
	result.SuccessfulPackages = nil

	err := c.handle(context.Background(), resultDelivery(t, result, &fakeAcknowledger{}))
	require.NoError(t, err)

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0].text, "❌")
}

func TestCompletionMalformedPayloadSkippedAndAcked(t *testing.T) {
	notifier := &fakeNotifier{}
	c := newTestCompletionConsumer(notifier, nil)
	acker := &fakeAcknowledger{}

	err := c.handle(context.Background(), amqp.Delivery{Acknowledger: acker, Body: []byte("{not json")})
	require.NoError(t, err)

	assert.Empty(t, notifier.messages)
	assert.Equal(t, 1, acker.acks)
}

func TestCompletionCreatesCommentWhenNoneExists(t *testing.T) {
	host := newFakeCommentHost()
	c := newTestCompletionConsumer(&fakeNotifier{}, host)

	pr := int64(123)
	err := c.handle(context.Background(), resultDelivery(t, sampleResult(&pr), &fakeAcknowledger{}))
	require.NoError(t, err)

	require.Len(t, host.created, 1)
	assert.Empty(t, host.updated)
	assert.Contains(t, host.created[0], "**Architecture**: amd64")
}

func TestCompletionAppendsToExistingBotComment(t *testing.T) {
	host := newFakeCommentHost()
	existing := "✅️ Job completed on builder0 (arm64)"
	host.comments = []github.IssueComment{
		{ID: 1, Body: strPtr("unrelated chatter"), User: commentUser("someone")},
		{ID: 2, Body: strPtr(existing), User: commentUser("buildd-bot")},
	}
	c := newTestCompletionConsumer(&fakeNotifier{}, host)

	pr := int64(123)
	err := c.handle(context.Background(), resultDelivery(t, sampleResult(&pr), &fakeAcknowledger{}))
	require.NoError(t, err)

	assert.Empty(t, host.created)
	require.Contains(t, host.updated, int64(2))
	assert.Contains(t, host.updated[2], existing)
	assert.Contains(t, host.updated[2], "builder1")
}

func TestCompletionAppendsToMostRecentBotComment(t *testing.T) {
	host := newFakeCommentHost()
	host.comments = []github.IssueComment{
		{ID: 1, Body: strPtr("older"), User: commentUser("buildd-bot")},
		{ID: 5, Body: strPtr("newer"), User: commentUser("buildd-bot")},
	}
	c := newTestCompletionConsumer(&fakeNotifier{}, host)

	pr := int64(9)
	err := c.handle(context.Background(), resultDelivery(t, sampleResult(&pr), &fakeAcknowledger{}))
	require.NoError(t, err)

	assert.Contains(t, host.updated, int64(5))
	assert.NotContains(t, host.updated, int64(1))
}

func TestCompletionSkipsChatForWebhookOriginJobs(t *testing.T) {
	notifier := &fakeNotifier{}
	host := newFakeCommentHost()
	c := newTestCompletionConsumer(notifier, host)

	pr := int64(4)
	result := sampleResult(&pr)
	result.Job.ChatID = 0

	err := c.handle(context.Background(), resultDelivery(t, result, &fakeAcknowledger{}))
	require.NoError(t, err)

	assert.Empty(t, notifier.messages)
	assert.Len(t, host.created, 1)
}

func strPtr(s string) *string { return &s }

func commentUser(login string) (u struct {
	Login string `json:"login"`
}) {
	u.Login = login
	return u
}
