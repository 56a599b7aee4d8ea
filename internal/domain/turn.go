package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TurnRole string

const (
	RoleCustomer   TurnRole = "customer"
	RoleBeautician TurnRole = "beautician"
)

type TurnStatus string

const (
	TurnPending       TurnStatus = "pending"
	TurnTextReady     TurnStatus = "text_ready"
	TurnAudioReady    TurnStatus = "audio_ready"
	TurnAnalysisReady TurnStatus = "analysis_ready"
	// TurnFailed is terminal for a beautician turn whose audio yielded no text.
	TurnFailed TurnStatus = "failed"
)

type Emotion string

const (
	EmotionNeutral   Emotion = "neutral"
	EmotionWorried   Emotion = "worried"
	EmotionSkeptical Emotion = "skeptical"
	EmotionImpatient Emotion = "impatient"
	EmotionPleased   Emotion = "pleased"
)

func (e Emotion) Valid() bool {
	switch e {
	case EmotionNeutral, EmotionWorried, EmotionSkeptical, EmotionImpatient, EmotionPleased:
		return true
	}
	return false
}

// NormalizeEmotion returns raw when it is a known emotion, else fallback.
func NormalizeEmotion(raw string, fallback Emotion) Emotion {
	if e := Emotion(raw); e.Valid() {
		return e
	}
	return fallback
}

type ReplySource string

const (
	ReplyFixed ReplySource = "fixed"
	ReplyModel ReplySource = "model"
	ReplyMixed ReplySource = "mixed"
)

type Turn struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_vc_turn_session_index,priority:1" json:"session_id"`
	TurnIndex int        `gorm:"column:turn_index;not null;uniqueIndex:idx_vc_turn_session_index,priority:2" json:"turn_index"`
	Role      TurnRole   `gorm:"column:role;not null" json:"role"`
	Status    TurnStatus `gorm:"column:status;not null;index" json:"status"`
	Text      string     `gorm:"column:text;type:text;not null;default:''" json:"text"`
	Emotion   *Emotion   `gorm:"column:emotion" json:"emotion,omitempty"`

	IntentID    *string      `gorm:"column:intent_id" json:"intent_id,omitempty"`
	AngleID     *string      `gorm:"column:angle_id" json:"angle_id,omitempty"`
	LineID      *string      `gorm:"column:line_id" json:"line_id,omitempty"`
	ReplySource *ReplySource `gorm:"column:reply_source" json:"reply_source,omitempty"`

	ReplyToTurnID   *uuid.UUID `gorm:"type:uuid;column:reply_to_turn_id" json:"reply_to_turn_id,omitempty"`
	ClientAttemptID *string    `gorm:"column:client_attempt_id;index" json:"client_attempt_id,omitempty"`

	AudioPath     *string  `gorm:"column:audio_path" json:"audio_path,omitempty"`
	AudioSeconds  *float64 `gorm:"column:audio_seconds" json:"audio_seconds,omitempty"`
	AsrConfidence *float64 `gorm:"column:asr_confidence" json:"asr_confidence,omitempty"`

	Analysis datatypes.JSON `gorm:"column:analysis;type:jsonb" json:"-"`
	Features datatypes.JSON `gorm:"column:features;type:jsonb" json:"-"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Turn) TableName() string { return "voice_coach_turns" }

func (t *Turn) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// AnalysisValue decodes the stored analysis, if any.
func (t *Turn) AnalysisValue() *TurnAnalysis {
	if t == nil || len(t.Analysis) == 0 || string(t.Analysis) == "null" {
		return nil
	}
	var a TurnAnalysis
	if err := json.Unmarshal(t.Analysis, &a); err != nil {
		return nil
	}
	return &a
}

func (t *Turn) FeaturesValue() TurnFeatures {
	var f TurnFeatures
	if t == nil || len(t.Features) == 0 {
		return f
	}
	_ = json.Unmarshal(t.Features, &f)
	return f
}

func (t *Turn) EmotionValue() Emotion {
	if t == nil || t.Emotion == nil {
		return ""
	}
	return *t.Emotion
}

func (t *Turn) IntentValue() string {
	if t == nil || t.IntentID == nil {
		return ""
	}
	return *t.IntentID
}

type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityWarn Severity = "warn"
	SeverityBad  Severity = "bad"
)

type Highlight struct {
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Label    string   `json:"label"`
	Severity Severity `json:"severity"`
}

// TurnAnalysis is the coaching feedback attached to a beautician turn.
type TurnAnalysis struct {
	Suggestions   []string           `json:"suggestions"`
	Polished      string             `json:"polished"`
	Highlights    []Highlight        `json:"highlights,omitempty"`
	RiskNotes     []string           `json:"risk_notes,omitempty"`
	PerTurnScores map[string]float64 `json:"per_turn_scores,omitempty"`
	Source        string             `json:"source,omitempty"`
}

// TurnFeatures are derived metrics. Beautician turns carry wpm and
// filler_ratio, customer turns carry tag.
type TurnFeatures struct {
	WPM         *float64 `json:"wpm,omitempty"`
	FillerRatio *float64 `json:"filler_ratio,omitempty"`
	Tag         string   `json:"tag,omitempty"`
}

// HistoryItem is the compact turn shape used as model context.
type HistoryItem struct {
	Role    TurnRole `json:"role"`
	Text    string   `json:"text"`
	Emotion Emotion  `json:"emotion,omitempty"`
}

func ToHistory(turns []*Turn) []HistoryItem {
	out := make([]HistoryItem, 0, len(turns))
	for _, t := range turns {
		out = append(out, HistoryItem{Role: t.Role, Text: t.Text, Emotion: t.EmotionValue()})
	}
	return out
}
