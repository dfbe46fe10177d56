package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/kaiwalabs/kaiwa/messages"
)

const (
	DefaultChatModel = "models/gemini-2.5-flash"

	// History beyond this many entries is dropped from the request.
	maxHistoryEntries = 20

	chatMaxAttempts  = 3
	chatRetryBackoff = 500 * time.Millisecond
)

// ChatClient produces single tutor replies over the plain generate
// API, for text-only practice without a live session.
type ChatClient struct {
	client *genai.Client
	model  string
}

func NewChatClient(client *genai.Client, model string) *ChatClient {
	if model == "" {
		model = DefaultChatModel
	}
	return &ChatClient{client: client, model: model}
}

// Generate sends the conversation so far plus the new user turn and
// returns the raw model reply. Transient failures are retried with
// backoff.
func (c *ChatClient) Generate(ctx context.Context, systemInstruction string, history []messages.ChatMessage, userText string) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", errors.New("empty user turn")
	}

	start := 0
	if len(history) > maxHistoryEntries {
		start = len(history) - maxHistoryEntries
	}
	contents := make([]*genai.Content, 0, len(history)-start+1)
	for _, m := range history[start:] {
		role := genai.Role(genai.RoleUser)
		if m.Role == messages.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(userText, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
		Temperature:     genai.Ptr[float32](0.7),
		MaxOutputTokens: 1024,
	}

	var lastErr error
	for attempt := 1; attempt <= chatMaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt-1) * chatRetryBackoff):
			}
		}

		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
		if err == nil {
			if text := responseText(resp); text != "" {
				return text, nil
			}
			err = errors.New("model returned an empty response")
		}
		lastErr = err
	}
	return "", fmt.Errorf("chat generation failed after %d attempts: %w", chatMaxAttempts, lastErr)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}
