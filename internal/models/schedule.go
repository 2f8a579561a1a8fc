package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ScheduleState is one owner's persisted schedule document: a single JSON
// blob plus its last-write timestamp. The blob is stored opaque; only the
// normalizer interprets its shape.
type ScheduleState struct {
	OwnerID   string           `db:"owner_id" json:"ownerId"`
	Document  ScheduleDocument `db:"document" json:"document"`
	UpdatedAt time.Time        `db:"updated_at" json:"updatedAt"`
}

// ScheduleDocument wraps the raw JSON blob for JSONB round-tripping.
type ScheduleDocument json.RawMessage

// Value hands the raw JSON to the driver.
func (d ScheduleDocument) Value() (driver.Value, error) {
	if len(d) == 0 {
		return []byte("{}"), nil
	}
	return []byte(d), nil
}

// Scan reads a JSONB column back into the blob.
func (d *ScheduleDocument) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*d = append((*d)[:0], v...)
	case string:
		*d = ScheduleDocument(v)
	default:
		return fmt.Errorf("unsupported type %T for ScheduleDocument", value)
	}
	return nil
}

// MarshalJSON emits the blob as-is.
func (d ScheduleDocument) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON stores incoming JSON verbatim.
func (d *ScheduleDocument) UnmarshalJSON(data []byte) error {
	*d = append((*d)[:0], data...)
	return nil
}

// SchedulePublication is the persisted form of an owner's feed publication
// metadata: the owner-wide token plus optional per-clinician tokens.
type SchedulePublication struct {
	OwnerID         string            `db:"owner_id" json:"ownerId"`
	OwnerToken      string            `db:"owner_token" json:"ownerToken"`
	ClinicianTokens ClinicianTokenMap `db:"clinician_tokens" json:"clinicianTokens,omitempty"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updatedAt"`
}

// ClinicianTokenMap stores per-clinician feed tokens as JSONB.
type ClinicianTokenMap map[string]string

// Value marshals the token map for persistence.
func (m ClinicianTokenMap) Value() (driver.Value, error) {
	if m == nil {
		m = ClinicianTokenMap{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal clinician tokens: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSONB token map.
func (m *ClinicianTokenMap) Scan(value interface{}) error {
	if value == nil {
		*m = ClinicianTokenMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ClinicianTokenMap", value)
	}
	if len(data) == 0 {
		*m = ClinicianTokenMap{}
		return nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("unmarshal clinician tokens: %w", err)
	}
	return nil
}

// SystemMetrics aggregates process-level counters for operational endpoints.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
