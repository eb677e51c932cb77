package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/convogate/convogate/internal/models"
)

// chatClient is the minimal seam over the OpenAI chat API, so tests can
// substitute a canned completion.
type chatClient interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// openAIChat implements chatClient over the real API.
type openAIChat struct {
	client openai.Client
	model  string
}

func (c *openAIChat) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Compile-time checks for the OpenAI collaborators.
var (
	_ Source   = (*OpenAISource)(nil)
	_ Reviewer = (*OpenAIReviewer)(nil)
)

// OpenAISource asks the model for a structured verdict on the next governed
// step.
type OpenAISource struct {
	chat chatClient
}

// NewOpenAISource creates a decision source using the given API key.
func NewOpenAISource(apiKey string) (*OpenAISource, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAISource{chat: &openAIChat{client: client, model: openai.ChatModelGPT4oMini}}, nil
}

const decisionSystemPrompt = `You are the decision layer of a customer conversation system.
Given the user's message and the session's current state, choose the next state
from the allowed targets and draft a response. Reply with ONLY a JSON object:
{"next_state": "...", "response_text": "...", "message_type": "...",
 "confidence": 0.0, "requires_human": false, "reasoning_debug": "..."}
Set requires_human to true whenever you are unsure. Never invent state names.`

// Decide requests and parses a structured decision for the message.
func (s *OpenAISource) Decide(ctx context.Context, req Request) (*models.RawDecision, error) {
	userPrompt := fmt.Sprintf("Current state: %s\nAllowed next states: %s\nTurn: %d\nUser message: %s",
		req.CurrentState, strings.Join(req.ValidTargets, ", "), req.TurnCount, req.Text)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(decisionSystemPrompt),
		openai.UserMessage(userPrompt),
	}

	content, err := s.chat.GenerateWithMessages(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("decision request failed: %w", err)
	}

	decision, err := parseDecisionJSON(content)
	if err != nil {
		return nil, fmt.Errorf("decision response unparseable: %w", err)
	}

	slog.Debug("OpenAISource decision received", "sessionID", req.SessionID, "next_state", decision.NextState, "confidence", decision.Confidence)
	return decision, nil
}

const reviewerSystemPrompt = `You are a second-pass reviewer for borderline conversation decisions.
You receive a proposed decision and the original request. Either return a revised
JSON decision in the same shape, or the exact string DECLINE if you have nothing
better. Only raise confidence when the proposal is clearly correct.`

// OpenAIReviewer re-examines gray-zone decisions with a second model pass.
type OpenAIReviewer struct {
	chat chatClient
}

// NewOpenAIReviewer creates a reviewer using the given API key.
func NewOpenAIReviewer(apiKey string) (*OpenAIReviewer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIReviewer{chat: &openAIChat{client: client, model: openai.ChatModelGPT4oMini}}, nil
}

// Review returns a revised decision, or (nil, nil) when the reviewer
// declines.
func (r *OpenAIReviewer) Review(ctx context.Context, proposed models.RawDecision, req Request) (*models.RawDecision, error) {
	proposedJSON, err := json.Marshal(proposed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposed decision: %w", err)
	}
	userPrompt := fmt.Sprintf("Proposed decision: %s\nCurrent state: %s\nAllowed next states: %s\nUser message: %s",
		proposedJSON, req.CurrentState, strings.Join(req.ValidTargets, ", "), req.Text)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(reviewerSystemPrompt),
		openai.UserMessage(userPrompt),
	}

	content, err := r.chat.GenerateWithMessages(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("review request failed: %w", err)
	}
	if strings.Contains(strings.ToUpper(content), "DECLINE") && !strings.Contains(content, "{") {
		slog.Debug("OpenAIReviewer declined to revise", "sessionID", req.SessionID)
		return nil, nil
	}

	revised, err := parseDecisionJSON(content)
	if err != nil {
		// A garbled revision is treated as a decline; the validator fails
		// safe to human-required.
		slog.Warn("OpenAIReviewer returned unparseable revision", "error", err, "sessionID", req.SessionID)
		return nil, nil
	}
	return revised, nil
}

// parseDecisionJSON extracts a RawDecision from model output, tolerating
// markdown code fences around the JSON object.
func parseDecisionJSON(content string) (*models.RawDecision, error) {
	trimmed := strings.TrimSpace(content)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	var decision models.RawDecision
	if err := json.Unmarshal([]byte(trimmed), &decision); err != nil {
		return nil, err
	}
	decision.Normalize()
	return &decision, nil
}
