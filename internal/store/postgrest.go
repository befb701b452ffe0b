package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	contentType = "application/json"

	// rpcMatchInteractions is the Postgres function performing the pgvector
	// similarity search on the Supabase side.
	rpcMatchInteractions = "match_interactions"
)

// SupabaseStore implements Store against a Supabase project's PostgREST API.
// Table CRUD goes through /rest/v1/<table>; similarity search is delegated to
// the match_interactions RPC backed by pgvector.
type SupabaseStore struct {
	baseURL    string
	key        string
	logger     *zap.Logger
	HTTPClient *http.Client
}

// NewSupabaseStore creates a store client for the given project URL and
// service key.
func NewSupabaseStore(baseURL, key string, logger *zap.Logger) (*SupabaseStore, error) {
	if baseURL == "" {
		return nil, errors.New("supabase url is required")
	}
	if key == "" {
		return nil, errors.New("supabase key is required")
	}

	return &SupabaseStore{
		baseURL: baseURL,
		key:     key,
		logger:  logger,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Close implements Store. The HTTP client holds no resources to release.
func (s *SupabaseStore) Close() error { return nil }

type profileRow struct {
	UserID      string   `json:"user_id"`
	Description string   `json:"description"`
	Interests   []string `json:"interests"`
	GroupID     string   `json:"group_id,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

func (r *profileRow) persona() *Persona {
	return &Persona{
		UserID:      r.UserID,
		Description: r.Description,
		Interests:   r.Interests,
		GroupID:     r.GroupID,
	}
}

// GetProfile implements Store.
func (s *SupabaseStore) GetProfile(ctx context.Context, userID string) (*Persona, error) {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("limit", "1")

	var rows []profileRow
	if err := s.getJSON(ctx, s.tableURL("profiles"), q, &rows); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("user %q: %w", userID, ErrProfileNotFound)
	}

	return rows[0].persona(), nil
}

// UpsertProfile implements Store.
func (s *SupabaseStore) UpsertProfile(ctx context.Context, persona *Persona) error {
	if persona == nil || persona.UserID == "" {
		return errors.New("persona with user id is required")
	}

	row := profileRow{
		UserID:      persona.UserID,
		Description: persona.Description,
		Interests:   persona.Interests,
		GroupID:     persona.GroupID,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}

	return s.postJSON(ctx, s.tableURL("profiles"), row, map[string]string{
		"Prefer": "resolution=merge-duplicates",
	})
}

// ListCandidates implements Store.
func (s *SupabaseStore) ListCandidates(ctx context.Context, excludingUserID, groupID string, limit int) ([]*Persona, error) {
	if limit <= 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("user_id", "neq."+excludingUserID)
	if groupID != "" {
		q.Set("group_id", "eq."+groupID)
	}
	q.Set("order", "user_id.asc")
	q.Set("limit", strconv.Itoa(limit))

	var rows []profileRow
	if err := s.getJSON(ctx, s.tableURL("profiles"), q, &rows); err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	personas := make([]*Persona, 0, len(rows))
	for i := range rows {
		personas = append(personas, rows[i].persona())
	}

	return personas, nil
}

type interactionRow struct {
	ID              string    `json:"id"`
	UserA           string    `json:"user_a"`
	UserB           string    `json:"user_b"`
	InteractionType string    `json:"interaction_type"`
	Transcript      []Turn    `json:"transcript"`
	Summary         string    `json:"summary"`
	Embedding       []float32 `json:"embedding,omitempty"`
	GroupID         string    `json:"group_id,omitempty"`
	CreatedAt       string    `json:"created_at"`
}

// SaveInteraction implements Store.
func (s *SupabaseStore) SaveInteraction(ctx context.Context, record *InteractionRecord) error {
	if record == nil {
		return errors.New("interaction record is required")
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	row := interactionRow{
		ID:              record.ID,
		UserA:           record.UserA,
		UserB:           record.UserB,
		InteractionType: record.InteractionType,
		Transcript:      record.Transcript,
		Summary:         record.Summary,
		Embedding:       record.Embedding,
		GroupID:         record.GroupID,
		CreatedAt:       record.CreatedAt.Format(time.RFC3339Nano),
	}

	return s.postJSON(ctx, s.tableURL("interactions"), row, nil)
}

type matchRow struct {
	interactionRow
	Similarity float64 `json:"similarity"`
}

// FindSimilar implements Store via the match_interactions RPC.
func (s *SupabaseStore) FindSimilar(ctx context.Context, query SimilarityQuery) ([]SimilarInteraction, error) {
	if len(query.Embedding) == 0 || query.K <= 0 {
		return nil, nil
	}

	payload := map[string]any{
		"query_embedding":  query.Embedding,
		"interaction_type": query.InteractionType,
		"exclude_id":       query.ExcludeID,
		"match_count":      query.K,
	}
	if query.GroupID != "" {
		payload["group_id"] = query.GroupID
	}

	var rows []matchRow
	if err := s.rpc(ctx, rpcMatchInteractions, payload, &rows); err != nil {
		return nil, fmt.Errorf("find similar interactions: %w", err)
	}

	results := make([]SimilarInteraction, 0, len(rows))
	for i := range rows {
		record := &InteractionRecord{
			ID:              rows[i].ID,
			UserA:           rows[i].UserA,
			UserB:           rows[i].UserB,
			InteractionType: rows[i].InteractionType,
			Transcript:      rows[i].Transcript,
			Summary:         rows[i].Summary,
			Embedding:       rows[i].Embedding,
			GroupID:         rows[i].GroupID,
		}
		if parsed, err := time.Parse(time.RFC3339Nano, rows[i].CreatedAt); err == nil {
			record.CreatedAt = parsed
		}

		results = append(results, SimilarInteraction{
			Record:     record,
			Similarity: rows[i].Similarity,
		})
	}

	return results, nil
}

// SaveRecommendation implements Store.
func (s *SupabaseStore) SaveRecommendation(ctx context.Context, userID, candidateID string, data RecommendationData) error {
	row := map[string]any{
		"id":             uuid.NewString(),
		"user_id":        userID,
		"candidate_id":   candidateID,
		"recommendation": data.Recommendation,
		"score":          data.Score,
		"strategy":       data.Strategy,
		"created_at":     time.Now().UTC().Format(time.RFC3339Nano),
	}

	return s.postJSON(ctx, s.tableURL("recommendations"), row, nil)
}

type conversationRow struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	OtherUserID string `json:"other_user_id"`
	Messages    []Turn `json:"messages"`
	Summary     string `json:"summary"`
	CreatedAt   string `json:"created_at"`
}

// SaveConversation implements Store.
func (s *SupabaseStore) SaveConversation(ctx context.Context, userID, otherUserID string, turns []Turn, summary string) error {
	row := conversationRow{
		ID:          uuid.NewString(),
		UserID:      userID,
		OtherUserID: otherUserID,
		Messages:    turns,
		Summary:     summary,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}

	return s.postJSON(ctx, s.tableURL("conversations"), row, nil)
}

// ConversationHistory implements Store.
func (s *SupabaseStore) ConversationHistory(ctx context.Context, userID, otherUserID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("or", fmt.Sprintf("(and(user_id.eq.%s,other_user_id.eq.%s),and(user_id.eq.%s,other_user_id.eq.%s))",
		userID, otherUserID, otherUserID, userID))
	q.Set("order", "created_at.desc")
	q.Set("limit", strconv.Itoa(limit))

	var rows []conversationRow
	if err := s.getJSON(ctx, s.tableURL("conversations"), q, &rows); err != nil {
		return nil, fmt.Errorf("conversation history: %w", err)
	}

	// Rows arrive newest-first; flatten back into chronological order.
	var history []Turn
	for i := len(rows) - 1; i >= 0; i-- {
		history = append(history, rows[i].Messages...)
	}

	return history, nil
}

// Friends implements Store.
func (s *SupabaseStore) Friends(ctx context.Context, userID string) ([]Friend, error) {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("order", "created_at.desc")

	var rows []conversationRow
	if err := s.getJSON(ctx, s.tableURL("conversations"), q, &rows); err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}

	seen := make(map[string]bool)
	var friends []Friend
	for i := range rows {
		other := rows[i].OtherUserID
		if seen[other] {
			continue
		}
		seen[other] = true

		persona, err := s.GetProfile(ctx, other)
		if err != nil && !errors.Is(err, ErrProfileNotFound) {
			return nil, err
		}

		friends = append(friends, Friend{
			UserID:      other,
			Persona:     persona,
			LastSummary: rows[i].Summary,
		})
	}

	return friends, nil
}

func (s *SupabaseStore) tableURL(table string) string {
	return fmt.Sprintf("%s/rest/v1/%s", s.baseURL, table)
}

func (s *SupabaseStore) getJSON(ctx context.Context, rawURL string, q url.Values, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}

	s.setHeaders(req)
	if q != nil {
		req.URL.RawQuery = q.Encode()
	}

	resp, err := s.request(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if target == nil {
		return nil
	}

	return json.Unmarshal(data, target)
}

func (s *SupabaseStore) postJSON(ctx context.Context, rawURL string, payload any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	s.setHeaders(req)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.request(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK &&
		resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	return nil
}

func (s *SupabaseStore) rpc(ctx context.Context, function string, payload any, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal rpc payload: %w", err)
	}

	rawURL := fmt.Sprintf("%s/rest/v1/rpc/%s", s.baseURL, function)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	s.setHeaders(req)

	resp, err := s.request(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if target == nil {
		return nil
	}

	return json.Unmarshal(data, target)
}

func (s *SupabaseStore) request(req *http.Request) (*http.Response, error) {
	if s.logger != nil {
		s.logger.Debug("make request", zap.String("url", req.URL.String()))
	}

	return s.HTTPClient.Do(req)
}

func (s *SupabaseStore) setHeaders(req *http.Request) {
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", contentType)
}
