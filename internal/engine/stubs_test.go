package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/nmelkov/persona-matcher/internal/store"
)

// stubGenerator returns scripted responses in order and records prompts.
type stubGenerator struct {
	responses []string
	err       error
	errAtCall int // 1-based call index that fails; 0 disables
	calls     int
	prompts   []string
}

func (s *stubGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	s.calls++
	s.prompts = append(s.prompts, prompt)

	if s.err != nil && (s.errAtCall == 0 || s.errAtCall == s.calls) {
		return "", s.err
	}

	if len(s.responses) == 0 {
		return fmt.Sprintf("generated response %d", s.calls), nil
	}

	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func (s *stubGenerator) Model() string { return "stub-model" }

func (s *stubGenerator) lastPrompt() string {
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

// wordsGenerator emits a fixed number of words per call, for budget tests.
type wordsGenerator struct {
	wordsPerTurn int
	calls        int
}

func (w *wordsGenerator) GenerateContent(_ context.Context, _ string) (string, error) {
	w.calls++
	return strings.TrimSpace(strings.Repeat(fmt.Sprintf("word%d ", w.calls), w.wordsPerTurn)), nil
}

func (w *wordsGenerator) Model() string { return "words-model" }

type stubEmbedder struct {
	vector []float32
	err    error
	texts  []string
}

func (s *stubEmbedder) EmbedContent(_ context.Context, text string) ([]float32, error) {
	s.texts = append(s.texts, text)
	if s.err != nil {
		return nil, s.err
	}
	if s.vector != nil {
		return s.vector, nil
	}
	return []float32{1, 0, 0}, nil
}

// stubStore is an in-memory store.Store with per-candidate similarity scripts.
type stubStore struct {
	profiles   map[string]*store.Persona
	candidates []*store.Persona

	// similarities maps the candidate (record.UserB of the last saved
	// interaction) to the similarity values FindSimilar returns.
	similarities map[string][]float64

	saved           []*store.InteractionRecord
	recommendations []savedRecommendation
	conversations   []savedConversation
	history         []store.Turn

	lastSimilarityQuery store.SimilarityQuery

	getProfileErr  error
	candidatesErr  error
	saveErr        error
	findSimilarErr error
}

type savedRecommendation struct {
	userID      string
	candidateID string
	data        store.RecommendationData
}

type savedConversation struct {
	userID      string
	otherUserID string
	turns       []store.Turn
	summary     string
}

func newStubStore() *stubStore {
	return &stubStore{
		profiles:     make(map[string]*store.Persona),
		similarities: make(map[string][]float64),
	}
}

func (s *stubStore) GetProfile(_ context.Context, userID string) (*store.Persona, error) {
	if s.getProfileErr != nil {
		return nil, s.getProfileErr
	}
	persona, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", userID, store.ErrProfileNotFound)
	}
	return persona, nil
}

func (s *stubStore) UpsertProfile(_ context.Context, persona *store.Persona) error {
	s.profiles[persona.UserID] = persona
	return nil
}

func (s *stubStore) ListCandidates(_ context.Context, excludingUserID, groupID string, limit int) ([]*store.Persona, error) {
	if s.candidatesErr != nil {
		return nil, s.candidatesErr
	}

	var result []*store.Persona
	for _, candidate := range s.candidates {
		if candidate.UserID == excludingUserID {
			continue
		}
		if groupID != "" && candidate.GroupID != groupID {
			continue
		}
		result = append(result, candidate)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *stubStore) SaveInteraction(_ context.Context, record *store.InteractionRecord) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	if record.ID == "" {
		record.ID = fmt.Sprintf("record-%d", len(s.saved)+1)
	}
	s.saved = append(s.saved, record)
	return nil
}

func (s *stubStore) FindSimilar(_ context.Context, query store.SimilarityQuery) ([]store.SimilarInteraction, error) {
	if s.findSimilarErr != nil {
		return nil, s.findSimilarErr
	}

	s.lastSimilarityQuery = query

	candidateID := ""
	if len(s.saved) > 0 {
		candidateID = s.saved[len(s.saved)-1].UserB
	}

	var result []store.SimilarInteraction
	for i, similarity := range s.similarities[candidateID] {
		result = append(result, store.SimilarInteraction{
			Record:     &store.InteractionRecord{ID: fmt.Sprintf("prior-%d", i)},
			Similarity: similarity,
		})
	}
	return result, nil
}

func (s *stubStore) SaveRecommendation(_ context.Context, userID, candidateID string, data store.RecommendationData) error {
	s.recommendations = append(s.recommendations, savedRecommendation{
		userID:      userID,
		candidateID: candidateID,
		data:        data,
	})
	return nil
}

func (s *stubStore) SaveConversation(_ context.Context, userID, otherUserID string, turns []store.Turn, summary string) error {
	s.conversations = append(s.conversations, savedConversation{
		userID:      userID,
		otherUserID: otherUserID,
		turns:       turns,
		summary:     summary,
	})
	return nil
}

func (s *stubStore) ConversationHistory(_ context.Context, _, _ string, _ int) ([]store.Turn, error) {
	return s.history, nil
}

func (s *stubStore) Friends(_ context.Context, _ string) ([]store.Friend, error) {
	return nil, nil
}

func (s *stubStore) Close() error { return nil }
