// Package threads manages conversation containers. Thread rows own ordering
// for the sidebar; the transcript itself lives in chat_log.
package threads

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/platform/qdrant"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/types"
)

var ErrInvalidThreadID = errors.New("invalid thread_id")

type ThreadSummary struct {
	ThreadID  string `json:"thread_id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updated_at"`
}

type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type Service interface {
	Create(ctx context.Context, userID, title, vantageID string) (*ThreadSummary, error)
	List(ctx context.Context, userID, vantageID string) ([]ThreadSummary, error)
	// Messages returns the ordered transcript with source collapsed to a
	// user/assistant role.
	Messages(ctx context.Context, threadID string, limit int) ([]Message, error)
	Rename(ctx context.Context, threadID, title string) (string, error)
	Archive(ctx context.Context, threadID string) error
	// Delete removes the transcript, the thread row, and the thread's vector
	// points (best-effort).
	Delete(ctx context.Context, threadID string) error
}

type service struct {
	ids        identity.Service
	threads    repos.ThreadRepo
	chatLogs   repos.ChatLogRepo
	store      qdrant.MemoryStore
	collection string
	log        *logger.Logger
}

func NewService(
	ids identity.Service,
	threadRepo repos.ThreadRepo,
	chatLogs repos.ChatLogRepo,
	store qdrant.MemoryStore,
	baseLog *logger.Logger,
) Service {
	return &service{
		ids:        ids,
		threads:    threadRepo,
		chatLogs:   chatLogs,
		store:      store,
		collection: envutil.String("RETRIEVAL_COLLECTION", "memory_raw"),
		log:        baseLog.With("service", "ThreadsService"),
	}
}

func validThreadID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrInvalidThreadID
	}
	return id, nil
}

func (s *service) Create(ctx context.Context, userID, title, vantageID string) (*ThreadSummary, error) {
	alias := strings.TrimSpace(userID)
	if alias == "" {
		alias = "anon"
	}
	vid := strings.TrimSpace(vantageID)
	if vid == "" {
		vid = "default"
	}
	uid := s.ids.Canonical(ctx, vid, alias)

	t := strings.TrimSpace(title)
	if t == "" {
		t = "New chat"
	}

	row, err := s.threads.Create(ctx, nil, &types.Thread{
		ID:        uuid.NewString(),
		UserID:    uid,
		Title:     t,
		VantageID: vid,
	})
	if err != nil {
		return nil, err
	}
	return &ThreadSummary{
		ThreadID:  row.ID,
		Title:     row.Title,
		UpdatedAt: row.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func (s *service) List(ctx context.Context, userID, vantageID string) ([]ThreadSummary, error) {
	alias := strings.TrimSpace(userID)
	if alias == "" {
		alias = "anon"
	}
	vid := strings.TrimSpace(vantageID)
	if vid == "" {
		vid = "default"
	}
	uid := s.ids.Canonical(ctx, vid, alias)

	rows, err := s.threads.ListByUser(ctx, nil, uid, false)
	if err != nil {
		return nil, err
	}
	out := make([]ThreadSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, ThreadSummary{
			ThreadID:  row.ID,
			Title:     row.Title,
			UpdatedAt: row.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (s *service) Messages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	tid, err := validThreadID(threadID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.chatLogs.ListByThread(ctx, nil, tid, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		role := "user"
		if strings.Contains(row.Source, "assistant") {
			role = "assistant"
		}
		out = append(out, Message{
			Role:      role,
			Content:   row.Text,
			CreatedAt: row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (s *service) Rename(ctx context.Context, threadID, title string) (string, error) {
	tid, err := validThreadID(threadID)
	if err != nil {
		return "", err
	}
	t := strings.TrimSpace(title)
	if t == "" {
		t = "New chat"
	}
	if err := s.threads.UpdateFields(ctx, nil, tid, map[string]interface{}{
		"title":      t,
		"updated_at": time.Now().UTC(),
	}); err != nil {
		return "", err
	}
	return t, nil
}

func (s *service) Archive(ctx context.Context, threadID string) error {
	tid, err := validThreadID(threadID)
	if err != nil {
		return err
	}
	return s.threads.UpdateFields(ctx, nil, tid, map[string]interface{}{
		"archived":   true,
		"updated_at": time.Now().UTC(),
	})
}

func (s *service) Delete(ctx context.Context, threadID string) error {
	tid, err := validThreadID(threadID)
	if err != nil {
		return err
	}
	if _, err := s.chatLogs.DeleteByThread(ctx, nil, tid); err != nil {
		return err
	}
	if err := s.threads.Delete(ctx, nil, tid); err != nil {
		return err
	}
	if err := s.store.DeleteByFilter(ctx, s.collection, map[string]any{"thread_id": tid}); err != nil {
		s.log.Warn("thread vector cleanup failed", "thread_id", tid, "error", err)
	}
	return nil
}
