package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/spawn/types"
)

// subjectContext is the template context for subject generation.
type subjectContext struct {
	ChatID string
}

// Publisher writes chat events onto the stream.
type Publisher struct {
	js              jetstream.JetStream
	subjectTemplate *template.Template
}

// NewPublisher creates a publisher.
//
// Parameters:
//   - js: JetStream context
//   - subjectTemplate: Subject per chat, e.g. "chat.{{.ChatID}}.events"
//     (DefaultSubjectTemplate when empty)
//
// Returns:
//   - *Publisher: Ready publisher
//   - error: Template parse error
func NewPublisher(js jetstream.JetStream, subjectTemplate string) (*Publisher, error) {
	if js == nil {
		return nil, errors.New("JetStream context is required")
	}
	if subjectTemplate == "" {
		subjectTemplate = DefaultSubjectTemplate
	}

	tmpl, err := template.New("subject").Parse(subjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid subject template: %w", err)
	}

	return &Publisher{js: js, subjectTemplate: tmpl}, nil
}

// Subject returns the subject events of chatID are published on.
func (p *Publisher) Subject(chatID int64) (string, error) {
	var buf strings.Builder
	if err := p.subjectTemplate.Execute(&buf, subjectContext{ChatID: strconv.FormatInt(chatID, 10)}); err != nil {
		return "", fmt.Errorf("failed to execute subject template: %w", err)
	}

	return buf.String(), nil
}

// Publish publishes msg under a fresh message ID.
//
// Returns:
//   - string: Message ID used for deduplication
//   - error: Encode or publish error
func (p *Publisher) Publish(ctx context.Context, msg types.ChatMessage) (string, error) {
	id := uuid.NewString()

	return id, p.PublishID(ctx, id, msg)
}

// PublishID publishes msg with an explicit message ID. The stream drops
// repeats of the same ID within its duplicate window, so adapters that retry
// delivery should reuse the ID of the first attempt.
func (p *Publisher) PublishID(ctx context.Context, id string, msg types.ChatMessage) error {
	if msg.ChatID == 0 {
		return types.ErrInvalidChat
	}

	subject, err := p.Subject(msg.ChatID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(id)); err != nil {
		return fmt.Errorf("publish chat event to %s: %w", subject, err)
	}

	return nil
}

// EnsureStream creates or updates the chat event stream.
//
// Parameters:
//   - ctx: Context for the API call
//   - js: JetStream context
//   - name: Stream name (DefaultStreamName when empty)
//   - subjects: Stream subjects ("chat.*.events" when empty)
//
// Returns:
//   - jetstream.Stream: The stream
//   - error: API error
func EnsureStream(ctx context.Context, js jetstream.JetStream, name string, subjects ...string) (jetstream.Stream, error) {
	if name == "" {
		name = DefaultStreamName
	}
	if len(subjects) == 0 {
		subjects = []string{DefaultFilterSubject}
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", name, err)
	}

	return stream, nil
}
