package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/platform/redis"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/types"
)

// Policy is the per-vantage retrieval policy. Unknown keys are carried
// through Extras so operators can stash passthrough configuration without a
// schema change.
type Policy struct {
	CorpusPrimary  []string                   `json:"corpus_primary"`
	CorpusFallback []string                   `json:"corpus_fallback"`
	TopicOverrides map[string][]string        `json:"topic_overrides,omitempty"`
	Extras         map[string]json.RawMessage `json:"-"`
}

func (p *Policy) UnmarshalJSON(data []byte) error {
	type alias Policy
	var known alias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	delete(all, "corpus_primary")
	delete(all, "corpus_fallback")
	delete(all, "topic_overrides")
	*p = Policy(known)
	if len(all) > 0 {
		p.Extras = all
	}
	return nil
}

func (p Policy) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"corpus_primary":  p.CorpusPrimary,
		"corpus_fallback": p.CorpusFallback,
	}
	if len(p.TopicOverrides) > 0 {
		out["topic_overrides"] = p.TopicOverrides
	}
	for k, v := range p.Extras {
		out[k] = v
	}
	return json.Marshal(out)
}

// Service resolves the effective retrieval policy: stored row first, env
// defaults otherwise, with a short TTL cache in front of the database.
type Service interface {
	Get(ctx context.Context, vantageID string) (*Policy, bool, error)
	Effective(ctx context.Context, vantageID string) (*Policy, error)
	Upsert(ctx context.Context, vantageID string, policy *Policy) error
}

type service struct {
	policies repos.RagPolicyRepo
	cache    redis.Cache
	ttl      time.Duration
	log      *logger.Logger
}

func NewService(policies repos.RagPolicyRepo, cache redis.Cache, baseLog *logger.Logger) Service {
	ttlSeconds := envutil.Int("RAG_POLICY_TTL_SECONDS", 15)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	return &service{
		policies: policies,
		cache:    cache,
		ttl:      time.Duration(ttlSeconds) * time.Second,
		log:      baseLog.With("service", "PolicyService"),
	}
}

func cacheKey(vantageID string) string {
	return "rag_policy:" + vantageID
}

// Get returns the stored policy, reporting whether a row exists.
func (s *service) Get(ctx context.Context, vantageID string) (*Policy, bool, error) {
	if vantageID == "" {
		vantageID = "default"
	}
	if s.cache != nil {
		var cached Policy
		if hit, _ := s.cache.GetJSON(ctx, cacheKey(vantageID), &cached); hit {
			return &cached, true, nil
		}
	}
	row, err := s.policies.Get(ctx, nil, vantageID)
	if err != nil {
		return nil, false, err
	}
	if row == nil {
		return nil, false, nil
	}
	var policy Policy
	if err := json.Unmarshal(row.Policy, &policy); err != nil {
		return nil, false, fmt.Errorf("decode stored policy for %s: %w", vantageID, err)
	}
	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, cacheKey(vantageID), &policy, s.ttl)
	}
	return &policy, true, nil
}

// Effective layers the stored policy over env defaults. The stored row wins
// field-by-field; env supplies corpora when the row omits them.
func (s *service) Effective(ctx context.Context, vantageID string) (*Policy, error) {
	stored, found, err := s.Get(ctx, vantageID)
	if err != nil {
		return nil, err
	}
	envPrimary := envutil.CSV("RAG_CORPUS_PRIMARY")
	envFallback := envutil.CSV("RAG_CORPUS_FALLBACK")
	if !found {
		return &Policy{CorpusPrimary: envPrimary, CorpusFallback: envFallback}, nil
	}
	out := *stored
	if len(out.CorpusPrimary) == 0 {
		out.CorpusPrimary = envPrimary
	}
	if len(out.CorpusFallback) == 0 {
		out.CorpusFallback = envFallback
	}
	return &out, nil
}

func (s *service) Upsert(ctx context.Context, vantageID string, policy *Policy) error {
	if vantageID == "" {
		vantageID = "default"
	}
	if policy == nil {
		return fmt.Errorf("policy required")
	}
	raw, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	if err := s.policies.Upsert(ctx, nil, &types.RagPolicy{
		VantageID: vantageID,
		Policy:    datatypes.JSON(raw),
	}); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, cacheKey(vantageID))
	}
	return nil
}
