package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobKind string

const (
	// JobBeauticianTurn runs ASR, the next customer line, analysis and TTS.
	JobBeauticianTurn JobKind = "beautician_turn"
	// JobCustomerTTS synthesizes audio for an existing customer turn.
	JobCustomerTTS JobKind = "customer_tts"
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobError      JobStatus = "error"
	JobCanceled   JobStatus = "canceled"
)

type JobStage string

const (
	StageQueued   JobStage = "queued"
	StageASR      JobStage = "asr"
	StageCustomer JobStage = "customer"
	StageAnalysis JobStage = "analysis"
	StageTTS      JobStage = "tts"
	StageDone     JobStage = "done"
	StageError    JobStage = "error"
)

type AudioFormat string

const (
	AudioMP3  AudioFormat = "mp3"
	AudioWAV  AudioFormat = "wav"
	AudioOGG  AudioFormat = "ogg"
	AudioFLAC AudioFormat = "flac"
)

func (f AudioFormat) Supported() bool {
	switch f {
	case AudioMP3, AudioWAV, AudioOGG, AudioFLAC:
		return true
	}
	return false
}

func (f AudioFormat) ContentType() string {
	switch f {
	case AudioWAV:
		return "audio/wav"
	case AudioOGG:
		return "audio/ogg"
	case AudioFLAC:
		return "audio/flac"
	default:
		return "audio/mpeg"
	}
}

type JobPayload struct {
	ReplyToTurnID      *uuid.UUID  `json:"reply_to_turn_id,omitempty"`
	AudioFormat        AudioFormat `json:"audio_format,omitempty"`
	ClientAudioSeconds *float64    `json:"client_audio_seconds,omitempty"`
}

type JobResult struct {
	FinishedMs      int64 `json:"finished_ms"`
	ReachedMaxTurns bool  `json:"reached_max_turns"`
	AnalysisFailed  bool  `json:"analysis_failed,omitempty"`
	TTSFailed       bool  `json:"tts_failed,omitempty"`
}

type Job struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	TurnID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"turn_id"`
	Kind      JobKind        `gorm:"column:kind;not null" json:"kind"`
	Status    JobStatus      `gorm:"column:status;not null;index" json:"status"`
	Stage     JobStage       `gorm:"column:stage;not null" json:"stage"`
	Attempts  int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result    datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	LastError string         `gorm:"column:last_error" json:"last_error,omitempty"`

	ClaimedAt   *time.Time `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	FinishedAt  *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Job) TableName() string { return "voice_coach_jobs" }

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = JobQueued
	}
	if j.Stage == "" {
		j.Stage = StageQueued
	}
	return nil
}

func (j *Job) PayloadValue() JobPayload {
	var p JobPayload
	if j == nil || len(j.Payload) == 0 {
		return p
	}
	_ = json.Unmarshal(j.Payload, &p)
	return p
}
