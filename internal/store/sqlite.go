package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nmelkov/persona-matcher/internal/vecmath"
)

// SQLiteStore implements Store on a local SQLite database. Embeddings are
// stored as JSON arrays and similarity search is a brute-force cosine scan
// over one interaction type, which stays cheap at the candidate-pool sizes
// the engine works with.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetProfile implements Store.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*Persona, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, description, interests, group_id FROM profiles WHERE user_id = ?`, userID)

	persona, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", userID, ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	return persona, nil
}

// UpsertProfile implements Store.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, persona *Persona) error {
	if persona == nil || persona.UserID == "" {
		return errors.New("persona with user id is required")
	}

	interests, err := json.Marshal(persona.Interests)
	if err != nil {
		return fmt.Errorf("marshal interests: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, description, interests, group_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			description = excluded.description,
			interests   = excluded.interests,
			group_id    = excluded.group_id,
			updated_at  = excluded.updated_at`,
		persona.UserID, persona.Description, string(interests), persona.GroupID, now())
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}

	return nil
}

// ListCandidates implements Store.
func (s *SQLiteStore) ListCandidates(ctx context.Context, excludingUserID, groupID string, limit int) ([]*Persona, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `SELECT user_id, description, interests, group_id FROM profiles WHERE user_id != ?`
	args := []any{excludingUserID}

	if groupID != "" {
		query += ` AND group_id = ?`
		args = append(args, groupID)
	}

	query += ` ORDER BY user_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var personas []*Persona
	for rows.Next() {
		persona, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
		personas = append(personas, persona)
	}

	return personas, rows.Err()
}

// SaveInteraction implements Store. A missing record ID is filled in with a
// random UUID; the assigned ID stays on the record for later self-exclusion.
func (s *SQLiteStore) SaveInteraction(ctx context.Context, record *InteractionRecord) error {
	if record == nil {
		return errors.New("interaction record is required")
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	transcript, err := json.Marshal(record.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	var embedding any
	if len(record.Embedding) > 0 {
		data, err := json.Marshal(record.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		embedding = string(data)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, user_a, user_b, interaction_type, transcript, summary, embedding, group_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.UserA, record.UserB, record.InteractionType,
		string(transcript), record.Summary, embedding, record.GroupID,
		record.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save interaction: %w", err)
	}

	return nil
}

// FindSimilar implements Store with a brute-force cosine scan.
func (s *SQLiteStore) FindSimilar(ctx context.Context, query SimilarityQuery) ([]SimilarInteraction, error) {
	if len(query.Embedding) == 0 || query.K <= 0 {
		return nil, nil
	}

	sqlQuery := `
		SELECT id, user_a, user_b, interaction_type, transcript, summary, embedding, group_id, created_at
		FROM interactions
		WHERE interaction_type = ? AND embedding IS NOT NULL AND id != ?`
	args := []any{query.InteractionType, query.ExcludeID}

	if query.GroupID != "" {
		sqlQuery += ` AND group_id = ?`
		args = append(args, query.GroupID)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("find similar interactions: %w", err)
	}
	defer rows.Close()

	var results []SimilarInteraction
	for rows.Next() {
		record, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("find similar interactions: %w", err)
		}

		results = append(results, SimilarInteraction{
			Record:     record,
			Similarity: vecmath.CosineSimilarity(query.Embedding, record.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > query.K {
		results = results[:query.K]
	}

	return results, nil
}

// SaveRecommendation implements Store.
func (s *SQLiteStore) SaveRecommendation(ctx context.Context, userID, candidateID string, data RecommendationData) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recommendations (id, user_id, candidate_id, recommendation, score, strategy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, candidateID, data.Recommendation, data.Score, data.Strategy, now())
	if err != nil {
		return fmt.Errorf("save recommendation: %w", err)
	}

	return nil
}

// SaveConversation implements Store.
func (s *SQLiteStore) SaveConversation(ctx context.Context, userID, otherUserID string, turns []Turn, summary string) error {
	messages, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, other_user_id, messages, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, otherUserID, string(messages), summary, now())
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	return nil
}

// ConversationHistory implements Store. Messages from the most recent
// conversations between the pair are flattened oldest-first.
func (s *SQLiteStore) ConversationHistory(ctx context.Context, userID, otherUserID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT messages FROM conversations
		WHERE (user_id = ? AND other_user_id = ?) OR (user_id = ? AND other_user_id = ?)
		ORDER BY created_at DESC
		LIMIT ?`,
		userID, otherUserID, otherUserID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation history: %w", err)
	}
	defer rows.Close()

	var batches [][]Turn
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("conversation history: %w", err)
		}

		var turns []Turn
		if err := json.Unmarshal([]byte(raw), &turns); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
		batches = append(batches, turns)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows arrive newest-first; flatten back into chronological order.
	var history []Turn
	for i := len(batches) - 1; i >= 0; i-- {
		history = append(history, batches[i]...)
	}

	return history, nil
}

// Friends implements Store. Each distinct conversation partner appears once,
// with their latest conversation summary.
func (s *SQLiteStore) Friends(ctx context.Context, userID string) ([]Friend, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.other_user_id, c.summary
		FROM conversations c
		JOIN (
			SELECT other_user_id, MAX(created_at) AS latest
			FROM conversations
			WHERE user_id = ?
			GROUP BY other_user_id
		) last ON c.other_user_id = last.other_user_id AND c.created_at = last.latest
		WHERE c.user_id = ?
		ORDER BY c.created_at DESC`,
		userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	var friends []Friend
	for rows.Next() {
		var friend Friend
		if err := rows.Scan(&friend.UserID, &friend.LastSummary); err != nil {
			return nil, fmt.Errorf("list friends: %w", err)
		}
		friends = append(friends, friend)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range friends {
		persona, err := s.GetProfile(ctx, friends[i].UserID)
		if err != nil && !errors.Is(err, ErrProfileNotFound) {
			return nil, err
		}
		friends[i].Persona = persona
	}

	return friends, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersona(row rowScanner) (*Persona, error) {
	var persona Persona
	var interests string

	if err := row.Scan(&persona.UserID, &persona.Description, &interests, &persona.GroupID); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(interests), &persona.Interests); err != nil {
		return nil, fmt.Errorf("decode interests: %w", err)
	}

	return &persona, nil
}

func scanInteraction(row rowScanner) (*InteractionRecord, error) {
	var record InteractionRecord
	var transcript, createdAt string
	var embedding sql.NullString

	if err := row.Scan(&record.ID, &record.UserA, &record.UserB, &record.InteractionType,
		&transcript, &record.Summary, &embedding, &record.GroupID, &createdAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(transcript), &record.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}

	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &record.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}

	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		record.CreatedAt = parsed
	}

	return &record, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
