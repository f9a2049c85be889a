package memlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/brains-backend/internal/platform/qdrant"
)

// ExportBundle is the downloadable account snapshot: threads, transcript,
// and card artifacts.
type ExportBundle struct {
	Status     string          `json:"status"`
	UserID     string          `json:"user_id"`
	ExportedAt string          `json:"exported_at"`
	Threads    []ExportThread  `json:"threads"`
	Messages   []ExportMessage `json:"messages"`
	Cards      []ExportCard    `json:"cards"`
}

type ExportThread struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Archived  bool   `json:"archived"`
}

type ExportMessage struct {
	ID        string   `json:"id"`
	ThreadID  *string  `json:"thread_id"`
	Source    string   `json:"source"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
}

type ExportCard struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload"`
}

// DeleteResult reports per-store outcomes so the client can distinguish
// partial success.
type DeleteResult struct {
	Status        string `json:"status"`
	UserID        string `json:"user_id"`
	PGChatLog     int64  `json:"pg_chat_log"`
	PGThreads     int64  `json:"pg_threads"`
	PGTraces      int64  `json:"pg_traces"`
	PGTelemetry   int64  `json:"pg_telemetry"`
	PGProfiles    int64  `json:"pg_profiles"`
	QdrantDeleted bool   `json:"qdrant_deleted"`
}

type DeleteRecentResult struct {
	Status              string `json:"status"`
	UserID              string `json:"user_id"`
	Minutes             int    `json:"minutes"`
	PGDeleted           int    `json:"pg_deleted"`
	QdrantDeletedPoints int    `json:"qdrant_deleted_points"`
}

func (s *service) Export(ctx context.Context, userID string, limit int) (*ExportBundle, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		uid = "anon"
	}
	if limit <= 0 {
		limit = 20000
	}
	if limit > 200000 {
		return nil, fmt.Errorf("limit too large")
	}

	threads, err := s.threads.ListByUser(ctx, nil, uid, true)
	if err != nil {
		return nil, err
	}
	messages, err := s.chatLogs.ListByUser(ctx, nil, uid, limit)
	if err != nil {
		return nil, err
	}

	out := &ExportBundle{
		Status:     "ok",
		UserID:     uid,
		ExportedAt: isoNow(),
		Threads:    []ExportThread{},
		Messages:   []ExportMessage{},
		Cards:      []ExportCard{},
	}
	for _, t := range threads {
		out.Threads = append(out.Threads, ExportThread{
			ID:        t.ID,
			Title:     t.Title,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt: t.UpdatedAt.UTC().Format(time.RFC3339),
			Archived:  t.Archived,
		})
	}
	for _, m := range messages {
		var tags []string
		_ = json.Unmarshal(m.Tags, &tags)
		if tags == nil {
			tags = []string{}
		}
		out.Messages = append(out.Messages, ExportMessage{
			ID:        m.ID,
			ThreadID:  m.ThreadID,
			Source:    m.Source,
			Text:      m.Text,
			Tags:      tags,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	// Card export is best-effort: Postgres content above is authoritative.
	kindsAny := make([]any, 0, len(defaultCardKinds))
	for _, k := range defaultCardKinds {
		kindsAny = append(kindsAny, k)
	}
	points, _, err := s.store.Scroll(ctx, s.collection, qdrant.ScrollOptions{
		Filter: map[string]any{
			"user_id": uid,
			"kind":    map[string]any{"$in": kindsAny},
		},
		Limit:       200,
		WithPayload: true,
	})
	if err != nil {
		s.log.Warn("card export failed", "user_id", uid, "error", err)
	} else {
		for _, p := range points {
			payload := p.Payload
			if payload == nil {
				payload = map[string]any{}
			}
			out.Cards = append(out.Cards, ExportCard{ID: p.ID, Payload: payload})
		}
	}
	return out, nil
}

func (s *service) DeleteUserData(ctx context.Context, userID string) (*DeleteResult, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		uid = "anon"
	}

	chatDeleted, err := s.chatLogs.DeleteByUser(ctx, nil, uid)
	if err != nil {
		return nil, fmt.Errorf("pg_delete_failed: %w", err)
	}
	threadsDeleted, err := s.threads.DeleteByUser(ctx, nil, uid)
	if err != nil {
		return nil, fmt.Errorf("pg_delete_failed: %w", err)
	}

	out := &DeleteResult{
		Status:    "ok",
		UserID:    uid,
		PGChatLog: chatDeleted,
		PGThreads: threadsDeleted,
	}

	if n, err := s.traces.DeleteByUser(ctx, nil, uid); err != nil {
		s.log.Warn("trace delete failed", "user_id", uid, "error", err)
	} else {
		out.PGTraces = n
	}
	if n, err := s.telemetry.DeleteByActor(ctx, nil, uid); err != nil {
		s.log.Warn("telemetry delete failed", "user_id", uid, "error", err)
	} else {
		out.PGTelemetry = n
	}
	if n, err := s.profiles.DeleteByUser(ctx, nil, uid); err != nil {
		s.log.Warn("profile delete failed", "user_id", uid, "error", err)
	} else {
		out.PGProfiles = n
	}

	if err := s.store.DeleteByFilter(ctx, s.collection, map[string]any{"user_id": uid}); err != nil {
		s.log.Warn("memory delete failed", "user_id", uid, "error", err)
	} else {
		out.QdrantDeleted = true
	}
	return out, nil
}

func (s *service) DeleteRecent(ctx context.Context, userID string, minutes int) (*DeleteRecentResult, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		uid = "anon"
	}
	if minutes < 1 {
		return nil, fmt.Errorf("minutes must be >= 1")
	}
	if minutes > 60*24*30 {
		return nil, fmt.Errorf("minutes too large")
	}

	ids, err := s.chatLogs.DeleteRecent(ctx, nil, uid, minutes)
	if err != nil {
		return nil, fmt.Errorf("pg_delete_failed: %w", err)
	}

	out := &DeleteRecentResult{
		Status:    "ok",
		UserID:    uid,
		Minutes:   minutes,
		PGDeleted: len(ids),
	}

	// Chat log ids double as point ids, so the vector cleanup is an id batch
	// delete, not a filter.
	const batchSize = 256
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := s.store.DeleteByIDs(ctx, s.collection, ids[i:end]); err != nil {
			s.log.Warn("memory point delete failed", "user_id", uid, "error", err)
			break
		}
		out.QdrantDeletedPoints += end - i
	}
	return out, nil
}
