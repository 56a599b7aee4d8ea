package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

type Session struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID     `gorm:"type:uuid;not null;index" json:"user_id"`
	ScenarioID     string        `gorm:"column:scenario_id;not null" json:"scenario_id"`
	CategoryID     string        `gorm:"column:category_id;not null;index" json:"category_id"`
	GoalTemplateID *string       `gorm:"column:goal_template_id" json:"goal_template_id,omitempty"`
	GoalCustom     *string       `gorm:"column:goal_custom" json:"goal_custom,omitempty"`
	Status         SessionStatus `gorm:"column:status;not null;index" json:"status"`

	// Dialogue policy cursor for scripted customer lines.
	PolicyState datatypes.JSON `gorm:"column:policy_state;type:jsonb" json:"-"`
	// Last allocated event id for this session.
	LastEventID int64 `gorm:"column:last_event_id;not null;default:0" json:"last_event_id"`

	TotalScore        *float64       `gorm:"column:total_score" json:"total_score,omitempty"`
	DimensionScores   datatypes.JSON `gorm:"column:dimension_scores;type:jsonb" json:"dimension_scores,omitempty"`
	Report            datatypes.JSON `gorm:"column:report;type:jsonb" json:"-"`
	ReportGeneratedAt *time.Time     `gorm:"column:report_generated_at" json:"report_generated_at,omitempty"`

	StartedAt time.Time  `gorm:"column:started_at;not null" json:"started_at"`
	EndedAt   *time.Time `gorm:"column:ended_at" json:"ended_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Session) TableName() string { return "voice_coach_sessions" }

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	return nil
}

func (s *Session) IsActive() bool { return s != nil && s.Status == SessionActive }

// Policy decodes the stored policy state; a missing or corrupt value yields
// the zero state.
func (s *Session) Policy() PolicyState {
	var st PolicyState
	if s == nil || len(s.PolicyState) == 0 {
		return st
	}
	_ = json.Unmarshal(s.PolicyState, &st)
	return st
}

// Scores decodes dimension_scores.
func (s *Session) Scores() map[string]float64 {
	out := map[string]float64{}
	if s == nil || len(s.DimensionScores) == 0 {
		return out
	}
	_ = json.Unmarshal(s.DimensionScores, &out)
	return out
}

// PolicyState tracks where a session sits in its category's intent graph.
type PolicyState struct {
	Version                 string   `json:"version"`
	CategoryID              string   `json:"category_id"`
	IntentIndex             int      `json:"intent_index"`
	AngleIndex              int      `json:"angle_index"`
	SameIntentRounds        int      `json:"same_intent_rounds"`
	StagnationCount         int      `json:"stagnation_count"`
	UsedLineIDs             []string `json:"used_line_ids"`
	LastBeauticianSignature string   `json:"last_beautician_signature"`
	GoalTemplateID          *string  `json:"goal_template_id,omitempty"`
	GoalCustom              *string  `json:"goal_custom,omitempty"`
}

// JSON marshals v for a jsonb column. Values here are plain structs, so a
// marshal failure is a programming error and yields "null".
func JSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}
