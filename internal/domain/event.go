package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventTurnAccepted       EventType = "turn.accepted"
	EventAsrReady           EventType = "beautician.asr_ready"
	EventCustomerTextReady  EventType = "customer.text_ready"
	EventCustomerAudioReady EventType = "customer.audio_ready"
	EventAnalysisReady      EventType = "beautician.analysis_ready"
	EventTurnError          EventType = "turn.error"
)

// Event ids are allocated per session from Session.LastEventID, so the pair
// (session_id, id) is the key and id alone is the client cursor.
type Event struct {
	SessionID uuid.UUID      `gorm:"type:uuid;primaryKey;autoIncrement:false" json:"session_id"`
	ID        int64          `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"-"`
	Type      EventType      `gorm:"column:type;not null;index" json:"type"`
	TurnID    *uuid.UUID     `gorm:"type:uuid;column:turn_id" json:"turn_id,omitempty"`
	JobID     *uuid.UUID     `gorm:"type:uuid;column:job_id" json:"job_id,omitempty"`
	Data      datatypes.JSON `gorm:"column:data;type:jsonb" json:"data"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (Event) TableName() string { return "voice_coach_events" }

// Payload decodes Data into the variant matching Type.
func (e *Event) Payload() (EventData, error) {
	return DecodeEventData(e.Type, e.Data)
}

// EventData is implemented by every event payload variant.
type EventData interface {
	EventType() EventType
}

type TurnAccepted struct {
	TurnID    uuid.UUID `json:"turn_id"`
	JobID     uuid.UUID `json:"job_id"`
	TurnIndex int       `json:"turn_index"`
	TextOnly  bool      `json:"text_only"`
}

type AsrReady struct {
	TurnID          uuid.UUID `json:"turn_id"`
	Text            string    `json:"text"`
	Confidence      *float64  `json:"confidence"`
	AudioSeconds    *float64  `json:"audio_seconds"`
	AudioPath       *string   `json:"audio_path,omitempty"`
	AudioURL        *string   `json:"audio_url"`
	ReachedMaxTurns bool      `json:"reached_max_turns"`
	StageElapsedMs  int64     `json:"stage_elapsed_ms"`
}

type CustomerTextReady struct {
	TurnID         uuid.UUID   `json:"turn_id"`
	TurnIndex      int         `json:"turn_index"`
	Text           string      `json:"text"`
	Emotion        Emotion     `json:"emotion"`
	Tag            string      `json:"tag,omitempty"`
	ReplySource    ReplySource `json:"reply_source,omitempty"`
	StageElapsedMs int64       `json:"stage_elapsed_ms"`
}

// Stored audio events carry AudioPath only; AudioURL is filled when the
// event is served.
type CustomerAudioReady struct {
	TurnID         uuid.UUID `json:"turn_id"`
	AudioPath      *string   `json:"audio_path,omitempty"`
	AudioURL       *string   `json:"audio_url"`
	AudioSeconds   *float64  `json:"audio_seconds"`
	TTSFailed      bool      `json:"tts_failed"`
	Text           string    `json:"text"`
	StageElapsedMs int64     `json:"stage_elapsed_ms"`
}

type AnalysisReady struct {
	TurnID         uuid.UUID    `json:"turn_id"`
	Analysis       TurnAnalysis `json:"analysis"`
	StageElapsedMs int64        `json:"stage_elapsed_ms"`
}

type TurnError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Degraded bool   `json:"degraded,omitempty"`
}

func (TurnAccepted) EventType() EventType       { return EventTurnAccepted }
func (AsrReady) EventType() EventType           { return EventAsrReady }
func (CustomerTextReady) EventType() EventType  { return EventCustomerTextReady }
func (CustomerAudioReady) EventType() EventType { return EventCustomerAudioReady }
func (AnalysisReady) EventType() EventType      { return EventAnalysisReady }
func (TurnError) EventType() EventType          { return EventTurnError }

func DecodeEventData(t EventType, raw []byte) (EventData, error) {
	var (
		out EventData
		err error
	)
	switch t {
	case EventTurnAccepted:
		var v TurnAccepted
		err = json.Unmarshal(raw, &v)
		out = v
	case EventAsrReady:
		var v AsrReady
		err = json.Unmarshal(raw, &v)
		out = v
	case EventCustomerTextReady:
		var v CustomerTextReady
		err = json.Unmarshal(raw, &v)
		out = v
	case EventCustomerAudioReady:
		var v CustomerAudioReady
		err = json.Unmarshal(raw, &v)
		out = v
	case EventAnalysisReady:
		var v AnalysisReady
		err = json.Unmarshal(raw, &v)
		out = v
	case EventTurnError:
		var v TurnError
		err = json.Unmarshal(raw, &v)
		out = v
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return out, nil
}
