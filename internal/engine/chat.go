package engine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nmelkov/persona-matcher/internal/ai"
	"github.com/nmelkov/persona-matcher/internal/store"
	"github.com/nmelkov/persona-matcher/internal/utils"
)

//go:embed prompt_chat.md
var chatPromptTemplate string

//go:embed prompt_describe.md
var describePromptTemplate string

const (
	defaultChatBudget   = 2000
	defaultHistoryLimit = 50
)

// Chat relays messages between two users, answering as the receiver's persona.
// Once the running word count of a conversation reaches the budget the
// exchange is summarized, persisted, and the working history resets.
type Chat struct {
	generator    ai.Generator
	simulator    *Simulator
	store        store.Store
	budget       int
	historyLimit int
	logger       *zap.Logger
}

// ChatResult carries the generated reply and whether the conversation was
// summarized and persisted in this step.
type ChatResult struct {
	Reply      string
	History    []store.Turn
	Summarized bool
}

// NewChat creates the chat relay. Non-positive budget or historyLimit fall
// back to defaults.
func NewChat(generator ai.Generator, simulator *Simulator, st store.Store, budget, historyLimit int, logger *zap.Logger) *Chat {
	if budget <= 0 {
		budget = defaultChatBudget
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Chat{
		generator:    generator,
		simulator:    simulator,
		store:        st,
		budget:       budget,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// ProcessMessage appends the sender's message to the pair's history, generates
// the receiver's reply, and summarizes + persists the conversation once the
// running word count reaches the budget.
func (c *Chat) ProcessMessage(ctx context.Context, senderID, receiverID, content string) (*ChatResult, error) {
	if content == "" {
		return nil, errors.New("message content is required")
	}

	sender, err := c.store.GetProfile(ctx, senderID)
	if err != nil {
		return nil, err
	}

	receiver, err := c.store.GetProfile(ctx, receiverID)
	if err != nil {
		return nil, err
	}

	history, err := c.store.ConversationHistory(ctx, senderID, receiverID, c.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("conversation history: %w", err)
	}

	history = append(history, store.Turn{Speaker: senderID, Content: content})

	reply, err := c.generator.GenerateContent(ctx, renderPrompt(chatPromptTemplate, map[string]string{
		"{{SENDER_DESCRIPTION}}":   sender.Description,
		"{{RECEIVER_DESCRIPTION}}": receiver.Description,
		"{{TRANSCRIPT}}":           formatTranscript(history),
	}))
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	history = append(history, store.Turn{Speaker: receiverID, Content: reply})

	result := &ChatResult{Reply: reply, History: history}

	if c.wordCount(history) >= c.budget {
		summary, err := c.simulator.Summarize(ctx, history)
		if err != nil {
			return nil, fmt.Errorf("summarize conversation: %w", err)
		}

		if err := c.store.SaveConversation(ctx, senderID, receiverID, history, summary); err != nil {
			return nil, fmt.Errorf("save conversation: %w", err)
		}

		c.logger.Info("conversation summarized",
			zap.String("sender_id", senderID),
			zap.String("receiver_id", receiverID),
			zap.Int("turns", len(history)),
		)

		result.History = nil
		result.Summarized = true
	}

	return result, nil
}

// RefreshDescription regenerates the user's persona description from their
// conversation history with another user and persists the updated profile.
func (c *Chat) RefreshDescription(ctx context.Context, userID, otherUserID string) (string, error) {
	persona, err := c.store.GetProfile(ctx, userID)
	if err != nil {
		return "", err
	}

	history, err := c.store.ConversationHistory(ctx, userID, otherUserID, c.historyLimit)
	if err != nil {
		return "", fmt.Errorf("conversation history: %w", err)
	}

	if len(history) == 0 {
		return "", errors.New("no conversation history to describe")
	}

	description, err := c.generator.GenerateContent(ctx, renderPrompt(describePromptTemplate, map[string]string{
		"{{TRANSCRIPT}}": formatTranscript(history),
	}))
	if err != nil {
		return "", fmt.Errorf("generate description: %w", err)
	}

	persona.Description = description
	if err := c.store.UpsertProfile(ctx, persona); err != nil {
		return "", fmt.Errorf("update profile: %w", err)
	}

	return description, nil
}

func (c *Chat) wordCount(turns []store.Turn) int {
	total := 0
	for _, turn := range turns {
		total += utils.WordCount(turn.Content)
	}
	return total
}
