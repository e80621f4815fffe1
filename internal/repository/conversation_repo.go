package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"portfolio-backend/internal/models"
)

// ErrConversationNotFound is returned when no conversation matches the lookup.
var ErrConversationNotFound = errors.New("conversation not found")

const conversationCacheTTL = 24 * time.Hour

// ConversationRepo persists conversation transcripts in Postgres, with an
// optional Redis read-through cache keyed by conversation id. A nil cache
// client disables caching.
type ConversationRepo struct {
	pool  *pgxpool.Pool
	cache *redis.Client
}

func NewConversationRepo(pool *pgxpool.Pool, cache *redis.Client) *ConversationRepo {
	return &ConversationRepo{pool: pool, cache: cache}
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("conversation:%s", id.String())
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	if r.cache != nil {
		data, err := r.cache.Get(ctx, cacheKey(id)).Bytes()
		if err == nil {
			c := &models.Conversation{}
			if json.Unmarshal(data, c) == nil {
				return c, nil
			}
		}
	}

	c, err := r.scanOne(ctx,
		`SELECT id, session_id, messages, created_at, updated_at
		 FROM conversations WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, c)
	return c, nil
}

func (r *ConversationRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Conversation, error) {
	return r.scanOne(ctx,
		`SELECT id, session_id, messages, created_at, updated_at
		 FROM conversations WHERE session_id = $1`, sessionID)
}

// Create inserts a conversation for the session. At most one conversation
// exists per session id; if two first questions race, the insert is a no-op
// for the loser and both callers get the same row back.
func (r *ConversationRepo) Create(ctx context.Context, sessionID string, initialMessages []models.Message) (*models.Conversation, error) {
	msgJSON, err := json.Marshal(initialMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages: %w", err)
	}

	id := uuid.New()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO conversations (id, session_id, messages)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO NOTHING`,
		id, sessionID, msgJSON,
	)
	if err != nil {
		return nil, err
	}

	c, err := r.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, c)
	return c, nil
}

// AppendMessages appends to the transcript and bumps updated_at in one
// statement, so a concurrent read never sees new messages with a stale stamp.
func (r *ConversationRepo) AppendMessages(ctx context.Context, id uuid.UUID, newMessages []models.Message) (*models.Conversation, error) {
	msgJSON, err := json.Marshal(newMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages: %w", err)
	}

	c, err := r.scanOne(ctx,
		`UPDATE conversations
		 SET messages = messages || $2::jsonb, updated_at = NOW()
		 WHERE id = $1
		 RETURNING id, session_id, messages, created_at, updated_at`,
		id, msgJSON)
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, c)
	return c, nil
}

func (r *ConversationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return err
	}
	if r.cache != nil {
		r.cache.Del(ctx, cacheKey(id))
	}
	return nil
}

func (r *ConversationRepo) scanOne(ctx context.Context, query string, args ...interface{}) (*models.Conversation, error) {
	c := &models.Conversation{}
	var msgJSON []byte

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&c.ID, &c.SessionID, &msgJSON, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(msgJSON, &c.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) cacheSet(ctx context.Context, c *models.Conversation) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(c.ID), data, conversationCacheTTL).Err(); err != nil {
		log.Printf("Failed to cache conversation %s: %v", c.ID, err)
	}
}
