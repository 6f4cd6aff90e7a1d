package drafting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

var _ tracking.Drafter = (*Anthropic)(nil)

// Anthropic drafts reminders with a Claude model.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropic(apiKey, model string, opts ...option.RequestOption) *Anthropic {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 300,
	}
}

func (a *Anthropic) Draft(ctx context.Context, sub tracking.Subject, appt tracking.Appointment) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(sub, appt))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm api call for appointment %s: %w", appt.ID, err)
	}
	if len(msg.Content) == 0 {
		return "", errors.New("empty response")
	}

	text := strings.TrimSpace(msg.Content[0].Text)
	if text == "" {
		return "", errors.New("empty response text")
	}
	return text, nil
}

func buildPrompt(sub tracking.Subject, appt tracking.Appointment) string {
	d := dataFor(sub, appt)
	return fmt.Sprintf(`You write short SMS messages for a clinical study team.

Write one friendly message to study subject %s about their visit.
Visit date: %s at %s
Visit status: %s
Staff notes: %s

Rules:
- At most 320 characters
- If the status is Missed, ask them to get in touch to rebook
- Do not mention diagnoses, medication or study details from the notes
- Output ONLY the message text`, d.Name, d.Date, d.Time, d.Status, d.Notes)
}
