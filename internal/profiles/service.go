// Package profiles persists client UI defaults server-side so a user's
// settings follow them across devices.
package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/types"
)

type UpsertRequest struct {
	UserID    string         `json:"user_id"`
	Name      string         `json:"name"`
	IsDefault bool           `json:"is_default"`
	Payload   map[string]any `json:"payload"`
}

type Profile struct {
	ID        string         `json:"profile_id"`
	UserID    string         `json:"user_id"`
	Name      string         `json:"name"`
	IsDefault bool           `json:"is_default"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

type Service interface {
	// Upsert stores a profile; marking it default clears the flag on the
	// user's other profiles.
	Upsert(ctx context.Context, vantageID string, req UpsertRequest) (*Profile, error)
	// GetDefault returns the user's default profile, falling back to the
	// most recently updated one; nil when the user has none.
	GetDefault(ctx context.Context, vantageID, userID string) (*Profile, error)
}

type service struct {
	ids      identity.Service
	profiles repos.VSProfileRepo
	log      *logger.Logger
}

func NewService(ids identity.Service, profileRepo repos.VSProfileRepo, baseLog *logger.Logger) Service {
	return &service{
		ids:      ids,
		profiles: profileRepo,
		log:      baseLog.With("service", "ProfilesService"),
	}
}

func toProfile(row *types.VSProfile) *Profile {
	if row == nil {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(row.Profile, &payload); err != nil {
		payload = map[string]any{}
	}
	return &Profile{
		ID:        row.ID.String(),
		UserID:    row.UserID,
		Name:      row.Name,
		IsDefault: row.IsDefault,
		Payload:   payload,
		CreatedAt: row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt: row.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *service) Upsert(ctx context.Context, vantageID string, req UpsertRequest) (*Profile, error) {
	alias := strings.TrimSpace(req.UserID)
	if alias == "" {
		return nil, fmt.Errorf("missing user_id")
	}
	vid := strings.TrimSpace(vantageID)
	if vid == "" {
		vid = "default"
	}
	userID := s.ids.Canonical(ctx, vid, alias)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "default"
	}

	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	// Provenance rides along under _meta without colliding with client keys.
	meta, _ := payload["_meta"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["vantage_id"] = vid
	meta["user_id_alias"] = alias
	meta["canonical_user_id"] = userID
	payload["_meta"] = meta

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	row, err := s.profiles.Upsert(ctx, nil, &types.VSProfile{
		UserID:    userID,
		Name:      name,
		IsDefault: req.IsDefault,
		Profile:   datatypes.JSON(raw),
	})
	if err != nil {
		return nil, err
	}
	return toProfile(row), nil
}

func (s *service) GetDefault(ctx context.Context, vantageID, userID string) (*Profile, error) {
	alias := strings.TrimSpace(userID)
	if alias == "" {
		return nil, fmt.Errorf("missing user_id")
	}
	vid := strings.TrimSpace(vantageID)
	if vid == "" {
		vid = "default"
	}
	uid := s.ids.Canonical(ctx, vid, alias)

	row, err := s.profiles.GetDefault(ctx, nil, uid)
	if err != nil {
		return nil, err
	}
	if row == nil {
		rows, err := s.profiles.ListByUser(ctx, nil, uid)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			row = rows[0]
		}
	}
	return toProfile(row), nil
}
