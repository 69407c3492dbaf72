package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Criterion is one rule of a segment definition. Rules are combined with
// logical AND; there is no OR, nesting, or negation. Operator defaults to
// "=" and is only honored for fields with comparison semantics.
type Criterion struct {
	Field    string      `json:"field" validate:"required"`
	Operator string      `json:"operator,omitempty"`
	Value    interface{} `json:"value"`
}

// Segment is a saved, re-evaluable audience definition. Criteria are the
// source of truth; the contact_segment membership table is a cache rebuilt
// by sync, and ContactCount always mirrors the synced membership size.
type Segment struct {
	ID           string         `json:"id" gorm:"primaryKey;type:text"`
	Name         string         `json:"name" gorm:"type:text" validate:"required"`
	Description  string         `json:"description,omitempty" gorm:"type:text"`
	Criteria     datatypes.JSON `json:"criteria" gorm:"type:jsonb"`
	ContactCount int            `json:"contact_count" gorm:"default:0"`
	CreatedAt    time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Segment model.
func (Segment) TableName() string {
	return "segments"
}

// SegmentMember is one row of the materialized segment membership cache.
type SegmentMember struct {
	SegmentID string `gorm:"primaryKey;type:text;column:segment_id"`
	ContactID string `gorm:"primaryKey;type:text;column:contact_id"`
}

// TableName specifies the table name for the membership join table.
func (SegmentMember) TableName() string {
	return "contact_segment"
}

// DecodeCriteria unmarshals the stored criteria rules.
func (s *Segment) DecodeCriteria() ([]Criterion, error) {
	if len(s.Criteria) == 0 {
		return nil, nil
	}
	var rules []Criterion
	if err := json.Unmarshal(s.Criteria, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode segment criteria: %w", err)
	}
	return rules, nil
}

// EncodeCriteria marshals criteria rules for storage.
func EncodeCriteria(rules []Criterion) (datatypes.JSON, error) {
	data, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to encode segment criteria: %w", err)
	}
	return datatypes.JSON(data), nil
}
