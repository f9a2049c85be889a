package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SourceStatusPending    = "pending"
	SourceStatusProcessing = "processing"
	SourceStatusDone       = "done"
	SourceStatusError      = "error"
)

// Source mirrors one user chat message for the fact pipeline. ExternalID is
// "chat_log:<chat_log_id>" for seeded rows, which makes re-seeding idempotent.
type Source struct {
	SourceID      uuid.UUID      `gorm:"type:uuid;primaryKey;column:source_id" json:"source_id"`
	SourceType    string         `gorm:"column:source_type;not null;index" json:"source_type"`
	ExternalID    string         `gorm:"column:external_id;not null;uniqueIndex" json:"external_id"`
	Title         string         `gorm:"column:title" json:"title"`
	Content       string         `gorm:"column:content;not null" json:"content"`
	ContentSHA256 string         `gorm:"column:content_sha256" json:"content_sha256"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	Status        string         `gorm:"column:status;not null;index" json:"status"`
	ProcessedAt   *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Source) TableName() string { return "vantage_fact.source" }

type Entity struct {
	EntityID      uuid.UUID `gorm:"type:uuid;primaryKey;column:entity_id" json:"entity_id"`
	EntityType    string    `gorm:"column:entity_type;not null;uniqueIndex:uniq_entity_name" json:"entity_type"`
	CanonicalName string    `gorm:"column:canonical_name;not null;uniqueIndex:uniq_entity_name" json:"canonical_name"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Entity) TableName() string { return "vantage_fact.entity" }

// Predicate declares cardinality via arg_schema.cardinality ("one"|"many").
type Predicate struct {
	Predicate string         `gorm:"column:predicate;primaryKey" json:"predicate"`
	ArgSchema datatypes.JSON `gorm:"type:jsonb;column:arg_schema" json:"arg_schema"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (Predicate) TableName() string { return "vantage_fact.predicate" }

const (
	ClaimStatusActive    = "active"
	ClaimStatusRetracted = "retracted"
)

type Claim struct {
	ClaimID         uuid.UUID      `gorm:"type:uuid;primaryKey;column:claim_id" json:"claim_id"`
	SubjectEntityID uuid.UUID      `gorm:"type:uuid;column:subject_entity_id;not null;index" json:"subject_entity_id"`
	Predicate       string         `gorm:"column:predicate;not null;index" json:"predicate"`
	ObjectLiteral   datatypes.JSON `gorm:"type:jsonb;column:object_literal;not null" json:"object_literal"`
	Qualifiers      datatypes.JSON `gorm:"type:jsonb;column:qualifiers" json:"qualifiers"`
	Confidence      float64        `gorm:"column:confidence;not null;default:0" json:"confidence"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	CanonicalKey    string         `gorm:"column:canonical_key;not null;uniqueIndex" json:"canonical_key"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Claim) TableName() string { return "vantage_fact.claim" }

type Evidence struct {
	EvidenceID           uuid.UUID `gorm:"type:uuid;primaryKey;column:evidence_id" json:"evidence_id"`
	ClaimID              uuid.UUID `gorm:"type:uuid;column:claim_id;not null;index" json:"claim_id"`
	SourceID             uuid.UUID `gorm:"type:uuid;column:source_id;not null;index" json:"source_id"`
	SpanStart            *int      `gorm:"column:span_start" json:"span_start,omitempty"`
	SpanEnd              *int      `gorm:"column:span_end" json:"span_end,omitempty"`
	Snippet              string    `gorm:"column:snippet" json:"snippet"`
	Extractor            string    `gorm:"column:extractor;not null" json:"extractor"`
	ExtractorVersion     string    `gorm:"column:extractor_version;not null" json:"extractor_version"`
	ExtractionConfidence float64   `gorm:"column:extraction_confidence;not null;default:0" json:"extraction_confidence"`
	CreatedAt            time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Evidence) TableName() string { return "vantage_fact.evidence" }

const (
	ContradictionStatusOpen     = "open"
	ContradictionStatusResolved = "resolved"
)

type Contradiction struct {
	ContradictionID uuid.UUID `gorm:"type:uuid;primaryKey;column:contradiction_id" json:"contradiction_id"`
	SubjectEntityID uuid.UUID `gorm:"type:uuid;column:subject_entity_id;not null;index" json:"subject_entity_id"`
	Predicate       string    `gorm:"column:predicate;not null;index" json:"predicate"`
	QualifierKey    string    `gorm:"column:qualifier_key" json:"qualifier_key"`
	Status          string    `gorm:"column:status;not null;index" json:"status"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Contradiction) TableName() string { return "vantage_fact.contradiction" }

type ContradictionMember struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ContradictionID uuid.UUID `gorm:"type:uuid;column:contradiction_id;not null;uniqueIndex:uniq_contradiction_member" json:"contradiction_id"`
	ClaimID         uuid.UUID `gorm:"type:uuid;column:claim_id;not null;uniqueIndex:uniq_contradiction_member" json:"claim_id"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ContradictionMember) TableName() string { return "vantage_fact.contradiction_member" }
