package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/types"
)

const (
	extractorName    = "kv_extractor"
	extractorVersion = "v1"

	docHashConfidence  = 0.90
	kvFactConfidence   = 0.60
	lowConfidenceFloor = 0.50
)

type ExtractResult struct {
	ProcessedSourceID string `json:"processed_source_id,omitempty"`
	FactsFound        int    `json:"facts_found"`
	ClaimsUpserted    int    `json:"claims_upserted"`
}

type ScanResult struct {
	GroupsScanned         int `json:"groups_scanned"`
	ContradictionsCreated int `json:"contradictions_created"`
	MaxGroups             int `json:"max_groups"`
}

// Drives is the fact-pipeline pressure snapshot the scheduler plans from.
type Drives struct {
	Mode               string  `json:"mode"`
	TSUnix             float64 `json:"ts_unix"`
	PendingSources     int64   `json:"pending_sources"`
	ProcessingSources  int64   `json:"processing_sources"`
	ErrorSources       int64   `json:"error_sources"`
	Entities           int64   `json:"entities"`
	ActiveClaims       int64   `json:"active_claims"`
	LowConfClaims      int64   `json:"low_conf_claims"`
	OpenContradictions int64   `json:"open_contradictions"`
}

type Service interface {
	// SeedFromChatLog inserts unseeded user chat rows as pending sources,
	// deduplicated by external_id. Returns the number inserted.
	SeedFromChatLog(ctx context.Context, vantageID string, limit int) (int, error)
	// ExtractOnce claims one pending source and turns it into entities,
	// claims and evidence inside a single transaction.
	ExtractOnce(ctx context.Context, maxFacts int) (*ExtractResult, error)
	// ContradictionScan opens contradiction groups for cardinality-one
	// predicates holding multiple distinct active values.
	ContradictionScan(ctx context.Context, maxGroups int) (*ScanResult, error)
	ComputeDrives(ctx context.Context) (*Drives, error)
}

type service struct {
	db             *gorm.DB
	sources        repos.SourceRepo
	entities       repos.EntityRepo
	claims         repos.ClaimRepo
	contradictions repos.ContradictionRepo
	chatLogs       repos.ChatLogRepo
	log            *logger.Logger
}

func NewService(
	db *gorm.DB,
	sources repos.SourceRepo,
	entities repos.EntityRepo,
	claims repos.ClaimRepo,
	contradictions repos.ContradictionRepo,
	chatLogs repos.ChatLogRepo,
	baseLog *logger.Logger,
) Service {
	return &service{
		db:             db,
		sources:        sources,
		entities:       entities,
		claims:         claims,
		contradictions: contradictions,
		chatLogs:       chatLogs,
		log:            baseLog.With("service", "FactService"),
	}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// objectLiteral is the typed literal wrapper stored in claim.object_literal.
type objectLiteral struct {
	Type string `json:"type"`
	V    string `json:"v"`
}

// CanonicalClaimKey derives the dedupe key for a literal claim.
func CanonicalClaimKey(subjectEntityID, predicate, objJSON, qualifiersJSON string) string {
	return SHA256Hex(fmt.Sprintf("s=%s|p=%s|ol=%s|q=%s", subjectEntityID, predicate, objJSON, qualifiersJSON))
}

func (s *service) SeedFromChatLog(ctx context.Context, vantageID string, limit int) (int, error) {
	if vantageID == "" {
		vantageID = "default"
	}
	if limit <= 0 {
		return 0, nil
	}
	rows, err := s.chatLogs.ListUnseeded(ctx, nil, vantageID, limit)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, row := range rows {
		vid := row.VantageID
		titleVID := vid
		if titleVID == "" {
			titleVID = "<NULL>"
		}
		meta := map[string]any{
			"origin":      "public.chat_log",
			"chat_log_id": row.ID,
			"role":        "user",
			"user_id":     row.UserID,
			"created_at":  row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if row.ThreadID != nil {
			meta["thread_id"] = *row.ThreadID
		}
		if vid != "" {
			meta["vantage_id"] = vid
		}
		src := &types.Source{
			SourceType: "chat_log",
			ExternalID: "chat_log:" + row.ID,
			Title:      "chat_log:user:" + titleVID + ":" + row.ID,
			Content:    row.Text,
			Metadata:   datatypes.JSON(compactJSON(meta)),
			Status:     types.SourceStatusPending,
		}
		ok, err := s.sources.Insert(ctx, nil, src)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	if inserted > 0 {
		s.log.Info("seeded fact sources from chat log", "vantage_id", vantageID, "inserted", inserted)
	}
	return inserted, nil
}

func (s *service) ExtractOnce(ctx context.Context, maxFacts int) (*ExtractResult, error) {
	if maxFacts <= 0 {
		maxFacts = 50
	}
	out := &ExtractResult{}
	var claimedID uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.sources.ClaimPending(ctx, tx, 1)
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		src := claimed[0]
		claimedID = src.SourceID
		out.ProcessedSourceID = src.SourceID.String()

		contentSHA := SHA256Hex(src.Content)

		docName := src.Title
		if docName == "" {
			docName = "source:" + src.SourceID.String()
		}
		docEntity, err := s.entities.GetOrCreate(ctx, tx, "document", docName)
		if err != nil {
			return err
		}

		// The content hash always becomes a claim so reprocessing is visible.
		hashClaim, err := s.upsertLiteralClaim(ctx, tx, docEntity, "doc.content_sha256",
			"sha256 of source content", contentSHA, docHashConfidence)
		if err != nil {
			return err
		}
		if err := s.claims.AddEvidence(ctx, tx, &types.Evidence{
			ClaimID:              hashClaim.ClaimID,
			SourceID:             src.SourceID,
			Extractor:            extractorName,
			ExtractorVersion:     extractorVersion,
			ExtractionConfidence: docHashConfidence,
		}); err != nil {
			return err
		}
		out.ClaimsUpserted = 1

		facts := ParseKVFacts(src.Content, maxFacts)
		out.FactsFound = len(facts)
		for _, f := range facts {
			claim, err := s.upsertLiteralClaim(ctx, tx, docEntity, f.Predicate,
				"key-value attribute from source", f.Value, kvFactConfidence)
			if err != nil {
				return err
			}
			if err := s.claims.AddEvidence(ctx, tx, &types.Evidence{
				ClaimID:              claim.ClaimID,
				SourceID:             src.SourceID,
				SpanStart:            f.SpanStart,
				SpanEnd:              f.SpanEnd,
				Snippet:              f.Snippet,
				Extractor:            extractorName,
				ExtractorVersion:     extractorVersion,
				ExtractionConfidence: kvFactConfidence,
			}); err != nil {
				return err
			}
			out.ClaimsUpserted++
		}

		return s.sources.MarkDone(ctx, tx, src.SourceID, contentSHA)
	})
	if err != nil {
		// The rollback put the source back to pending; park it in error so a
		// poisoned row cannot wedge the extract loop.
		if claimedID != uuid.Nil {
			if merr := s.sources.MarkError(ctx, nil, claimedID); merr != nil {
				s.log.Warn("mark source error failed", "source_id", claimedID, "error", merr)
			}
		}
		return nil, err
	}
	return out, nil
}

func (s *service) upsertLiteralClaim(ctx context.Context, tx *gorm.DB, subject *types.Entity, predicate, description, value string, confidence float64) (*types.Claim, error) {
	if err := s.entities.EnsurePredicate(ctx, tx, &types.Predicate{
		Predicate: predicate,
		ArgSchema: datatypes.JSON(compactJSON(map[string]any{
			"cardinality": "one",
			"description": description,
		})),
	}); err != nil {
		return nil, err
	}

	objJSON := compactJSON(objectLiteral{Type: "str", V: value})
	qualifiersJSON := "{}"
	claim := &types.Claim{
		SubjectEntityID: subject.EntityID,
		Predicate:       predicate,
		ObjectLiteral:   datatypes.JSON(objJSON),
		Qualifiers:      datatypes.JSON(qualifiersJSON),
		Confidence:      confidence,
		Status:          types.ClaimStatusActive,
		CanonicalKey:    CanonicalClaimKey(subject.EntityID.String(), predicate, objJSON, qualifiersJSON),
	}
	upserted, _, err := s.claims.Upsert(ctx, tx, claim)
	return upserted, err
}

func (s *service) ContradictionScan(ctx context.Context, maxGroups int) (*ScanResult, error) {
	if maxGroups <= 0 {
		maxGroups = 10
	}
	out := &ScanResult{MaxGroups: maxGroups}

	violations, err := s.contradictions.FindCardinalityViolations(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(violations) > maxGroups {
		violations = violations[:maxGroups]
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, v := range violations {
			out.GroupsScanned++

			existing, err := s.contradictions.ListOpen(ctx, tx, 0)
			if err != nil {
				return err
			}
			var open *types.Contradiction
			for _, c := range existing {
				if c.SubjectEntityID == v.SubjectEntityID && c.Predicate == v.Predicate {
					open = c
					break
				}
			}
			if open == nil {
				open, err = s.contradictions.EnsureOpen(ctx, tx, v.SubjectEntityID, v.Predicate, "")
				if err != nil {
					return err
				}
				out.ContradictionsCreated++
			}

			claims, err := s.claims.ListActive(ctx, tx, v.SubjectEntityID, v.Predicate)
			if err != nil {
				return err
			}
			for _, c := range claims {
				if _, err := s.contradictions.AddMember(ctx, tx, open.ContradictionID, c.ClaimID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) ComputeDrives(ctx context.Context) (*Drives, error) {
	d := &Drives{
		Mode:   "fact_drives_v1",
		TSUnix: float64(time.Now().UnixNano()) / float64(time.Second),
	}
	var err error
	if d.PendingSources, err = s.sources.CountByStatus(ctx, nil, types.SourceStatusPending); err != nil {
		return nil, err
	}
	if d.ProcessingSources, err = s.sources.CountByStatus(ctx, nil, types.SourceStatusProcessing); err != nil {
		return nil, err
	}
	if d.ErrorSources, err = s.sources.CountByStatus(ctx, nil, types.SourceStatusError); err != nil {
		return nil, err
	}
	if d.Entities, err = s.entities.Count(ctx, nil); err != nil {
		return nil, err
	}
	if d.ActiveClaims, err = s.claims.CountActive(ctx, nil); err != nil {
		return nil, err
	}
	if d.LowConfClaims, err = s.claims.CountActiveBelowConfidence(ctx, nil, lowConfidenceFloor); err != nil {
		return nil, err
	}
	if d.OpenContradictions, err = s.contradictions.CountOpen(ctx, nil); err != nil {
		return nil, err
	}
	return d, nil
}
