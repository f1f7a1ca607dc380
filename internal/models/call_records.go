package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/code-100-precent/LingCall/pkg/callmgr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TranscriptColumn stores a call transcript as a JSON column.
type TranscriptColumn []callmgr.TranscriptEntry

func (t TranscriptColumn) Value() (driver.Value, error) {
	if len(t) == 0 {
		return nil, nil
	}
	return json.Marshal(t)
}

func (t *TranscriptColumn) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to convert value to []byte")
	}
	if len(bytes) == 0 {
		*t = nil
		return nil
	}
	return json.Unmarshal(bytes, t)
}

// StringList stores a string slice as a JSON column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to convert value to []byte")
	}
	if len(bytes) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// MetadataMap stores arbitrary call metadata as a JSON column.
type MetadataMap map[string]interface{}

func (m MetadataMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *MetadataMap) Scan(value interface{}) error {
	if value == nil {
		*m = make(MetadataMap)
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to convert value to []byte")
	}
	if len(bytes) == 0 {
		*m = make(MetadataMap)
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// CallRecord is the persisted row of one call. The in-memory record in
// callmgr is the source of truth while the call is live; this row mirrors its
// last persisted state, keyed by CallID.
type CallRecord struct {
	ID                uint             `json:"id" gorm:"primaryKey;autoIncrement"`
	CallID            string           `json:"callId" gorm:"uniqueIndex;size:64"`
	Provider          string           `json:"provider" gorm:"size:20;index"`
	Direction         string           `json:"direction" gorm:"size:10"`
	State             string           `json:"state" gorm:"size:20;index"`
	FromNumber        string           `json:"from" gorm:"size:64"`
	ToNumber          string           `json:"to" gorm:"size:64;index"`
	SessionKey        string           `json:"sessionKey,omitempty" gorm:"size:200;index"`
	StartedAt         time.Time        `json:"startedAt" gorm:"index"`
	EndedAt           *time.Time       `json:"endedAt,omitempty"`
	EndReason         string           `json:"endReason,omitempty" gorm:"size:500"`
	ProviderCallID    string           `json:"providerCallId,omitempty" gorm:"size:128;index"`
	Transcript        TranscriptColumn `json:"transcript,omitempty" gorm:"type:json"`
	ProcessedEventIDs StringList       `json:"-" gorm:"type:json"`
	Metadata          MetadataMap      `json:"metadata,omitempty" gorm:"type:json"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

func (CallRecord) TableName() string {
	return "call_records"
}

// rowFromRecord maps the manager's record onto the persisted row.
func rowFromRecord(rec *callmgr.CallRecord) *CallRecord {
	return &CallRecord{
		CallID:            rec.CallID,
		Provider:          rec.Provider,
		Direction:         string(rec.Direction),
		State:             string(rec.State),
		FromNumber:        rec.From,
		ToNumber:          rec.To,
		SessionKey:        rec.SessionKey,
		StartedAt:         rec.StartedAt,
		EndedAt:           rec.EndedAt,
		EndReason:         rec.EndReason,
		ProviderCallID:    rec.ProviderCallID,
		Transcript:        TranscriptColumn(rec.Transcript),
		ProcessedEventIDs: StringList(rec.ProcessedEventIDs),
		Metadata:          MetadataMap(rec.Metadata),
	}
}

// GormCallStore persists call records with overwrite-by-callId semantics.
type GormCallStore struct {
	db *gorm.DB
}

func NewGormCallStore(db *gorm.DB) *GormCallStore {
	return &GormCallStore{db: db}
}

// Persist upserts the row for the record's callId.
func (s *GormCallStore) Persist(rec *callmgr.CallRecord) error {
	row := rowFromRecord(rec)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "call_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider", "direction", "state", "from_number", "to_number",
			"session_key", "started_at", "ended_at", "end_reason",
			"provider_call_id", "transcript", "processed_event_ids",
			"metadata", "updated_at",
		}),
	}).Create(row).Error
}

// GetCallRecord loads one row by callId.
func GetCallRecord(db *gorm.DB, callID string) (*CallRecord, error) {
	var row CallRecord
	if err := db.Where("call_id = ?", callID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ListCallRecords returns rows newest first, optionally filtered by state.
func ListCallRecords(db *gorm.DB, state string, limit, offset int) ([]CallRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := db.Model(&CallRecord{}).Order("started_at DESC").Limit(limit).Offset(offset)
	if state != "" {
		query = query.Where("state = ?", state)
	}
	var rows []CallRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FailStaleCalls marks every non-terminal row as failed. Run at startup: a
// call that was live when the process died can never resume, so its row must
// not keep claiming a live state.
func FailStaleCalls(db *gorm.DB) (int64, error) {
	now := time.Now()
	res := db.Model(&CallRecord{}).
		Where("state IN ?", []string{
			string(callmgr.StateInitiated),
			string(callmgr.StateSpeaking),
			string(callmgr.StateListening),
		}).
		Updates(map[string]interface{}{
			"state":      string(callmgr.StateFailed),
			"end_reason": "interrupted by restart",
			"ended_at":   now,
		})
	return res.RowsAffected, res.Error
}
