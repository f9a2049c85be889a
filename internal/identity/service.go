package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/types"
)

// Service resolves alias user ids to canonical ids and derives the
// deterministic ids keyed off the canonical user. Every write path must
// canonicalize before touching storage; cards keyed by alias are a bug.
type Service interface {
	// Canonical returns the canonical user id for (vantageID, userID). A
	// missing mapping — or a storage error — falls back to the alias itself,
	// so resolution never blocks a request.
	Canonical(ctx context.Context, vantageID, userID string) string
	Link(ctx context.Context, vantageID, aliasUserID, canonicalUserID string) error
	Aliases(ctx context.Context, canonicalUserID string) ([]string, error)
}

type service struct {
	aliases repos.UserAliasRepo
	log     *logger.Logger
}

func NewService(aliases repos.UserAliasRepo, baseLog *logger.Logger) Service {
	return &service{
		aliases: aliases,
		log:     baseLog.With("service", "IdentityService"),
	}
}

func (s *service) Canonical(ctx context.Context, vantageID, userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return userID
	}
	if vantageID == "" {
		vantageID = "default"
	}
	canonical, err := s.aliases.GetCanonical(ctx, nil, vantageID, userID)
	if err != nil {
		s.log.Warn("alias resolution failed, using alias as-is", "user_id", userID, "error", err)
		return userID
	}
	if canonical == "" {
		return userID
	}
	return canonical
}

func (s *service) Link(ctx context.Context, vantageID, aliasUserID, canonicalUserID string) error {
	aliasUserID = strings.TrimSpace(aliasUserID)
	canonicalUserID = strings.TrimSpace(canonicalUserID)
	if aliasUserID == "" || canonicalUserID == "" {
		return fmt.Errorf("alias and canonical user ids are required")
	}
	if vantageID == "" {
		vantageID = "default"
	}
	return s.aliases.Upsert(ctx, nil, &types.UserAlias{
		VantageID:       vantageID,
		AliasUserID:     aliasUserID,
		CanonicalUserID: canonicalUserID,
	})
}

func (s *service) Aliases(ctx context.Context, canonicalUserID string) ([]string, error) {
	rows, err := s.aliases.ListByCanonical(ctx, nil, canonicalUserID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.AliasUserID)
	}
	return out, nil
}

// SingletonCardID derives the stable id for a per-user singleton card:
// uuid5(DNS, "{canonical_user_id}|{kind}|{topic_key}").
func SingletonCardID(canonicalUserID, kind, topicKey string) string {
	name := canonicalUserID + "|" + kind + "|" + topicKey
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}
