package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/audio"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/events"
)

type SubmitInput struct {
	SessionID     uuid.UUID
	ReplyToTurnID uuid.UUID
	// Audio is the recorded reply; empty means a text-only submission.
	Audio              []byte
	AudioFormat        string
	Text               string
	ClientAudioSeconds *float64
	ClientAttemptID    string
}

type SubmitResult struct {
	TurnID          uuid.UUID `json:"turn_id"`
	JobID           uuid.UUID `json:"job_id"`
	ClientAttemptID string    `json:"client_attempt_id,omitempty"`
	NextCursor      int64     `json:"next_cursor"`
	ReachedMaxTurns bool      `json:"reached_max_turns"`
	Deduped         bool      `json:"deduped"`
	AudioURL        *string   `json:"audio_url"`
}

const msgUnsupportedAudio = "上传音频格式不支持"

// SubmitTurn records a beautician reply and queues its pipeline job. A retry
// carrying the same client_attempt_id returns the original turn and job.
func (s *service) SubmitTurn(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	session, err := s.loadActive(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	uid := session.UserID
	dbc := dbctx.Of(ctx)

	attempt := strings.TrimSpace(in.ClientAttemptID)
	if attempt != "" {
		if res, err := s.dedupe(ctx, session, attempt); err != nil || res != nil {
			return res, err
		}
	}

	allowed, err := s.limiter.Allow(ctx, "session:"+session.ID.String())
	if err != nil {
		s.log.Warn("rate limiter unavailable", "session_id", session.ID, "error", err)
		allowed = true
	}
	if !allowed {
		return nil, fmt.Errorf("session %s: %w", session.ID, types.ErrRateLimited)
	}

	text := strings.TrimSpace(in.Text)
	format := types.AudioFormat(strings.ToLower(strings.TrimSpace(in.AudioFormat)))
	if len(in.Audio) > 0 {
		if format == "" {
			format = types.AudioMP3
		}
		if !format.Supported() {
			s.events.TurnError(ctx, session.ID, uid, nil, nil, "unsupported_audio_format", msgUnsupportedAudio, false)
			return nil, fmt.Errorf("audio format %q: %w", format, types.ErrUnsupportedAudio)
		}
	} else if text == "" {
		return nil, fmt.Errorf("reply needs audio or text: %w", types.ErrInvalidInput)
	}

	last, err := s.repos.Turns.LastTurn(dbc, session.ID)
	if err != nil {
		return nil, fmt.Errorf("load last turn: %w", err)
	}
	if last == nil || last.Role != types.RoleCustomer || last.ID != in.ReplyToTurnID {
		return nil, fmt.Errorf("reply target %s is not the current customer turn: %w", in.ReplyToTurnID, types.ErrInvalidSequence)
	}
	beauticianNo := (last.TurnIndex + 2) / 2

	replyTo := last.ID
	turn := &types.Turn{
		ID:            uuid.New(),
		Role:          types.RoleBeautician,
		Status:        types.TurnPending,
		ReplyToTurnID: &replyTo,
		AudioSeconds:  in.ClientAudioSeconds,
	}
	if attempt != "" {
		turn.ClientAttemptID = &attempt
	}
	if len(in.Audio) > 0 {
		path := audio.TurnAudioPath(uid, session.ID, turn.ID, format)
		if err := s.store.Upload(ctx, path, in.Audio, format.ContentType()); err != nil {
			return nil, fmt.Errorf("upload reply audio: %w", err)
		}
		turn.AudioPath = &path
	} else {
		turn.Text = text
	}

	payload := types.JobPayload{ReplyToTurnID: &replyTo, ClientAudioSeconds: in.ClientAudioSeconds}
	if len(in.Audio) > 0 {
		payload.AudioFormat = format
	}
	var job *types.Job
	err = s.repos.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		stored, err := s.repos.Turns.AppendTurn(txc, session.ID, turn)
		if err != nil {
			return fmt.Errorf("append beautician turn: %w", err)
		}
		turn = stored
		job, err = s.repos.Jobs.Create(txc, &types.Job{
			SessionID: session.ID,
			UserID:    uid,
			TurnID:    turn.ID,
			Kind:      types.JobBeauticianTurn,
			Payload:   types.JSON(payload),
		})
		if err != nil {
			return fmt.Errorf("queue beautician job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	turnID, jobID := turn.ID, job.ID
	cursor := int64(0)
	if ev := s.events.Emit(ctx, events.EmitArgs{
		SessionID: session.ID,
		UserID:    uid,
		TurnID:    &turnID,
		JobID:     &jobID,
		Data: types.TurnAccepted{
			TurnID:    turn.ID,
			JobID:     job.ID,
			TurnIndex: turn.TurnIndex,
			TextOnly:  len(in.Audio) == 0,
		},
	}); ev != nil {
		cursor = ev.ID
	} else {
		cursor = s.lastCursor(ctx, session.ID)
	}
	s.wake()

	return &SubmitResult{
		TurnID:          turn.ID,
		JobID:           job.ID,
		ClientAttemptID: attempt,
		NextCursor:      cursor,
		ReachedMaxTurns: beauticianNo >= s.cfg.MaxTurns,
		AudioURL:        audio.SignOrNil(ctx, s.store, turn.AudioPath),
	}, nil
}

func (s *service) dedupe(ctx context.Context, session *types.Session, attempt string) (*SubmitResult, error) {
	dbc := dbctx.Of(ctx)
	existing, err := s.repos.Turns.FindByAttempt(dbc, session.ID, attempt)
	if err != nil {
		return nil, fmt.Errorf("find attempt: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	job, err := s.repos.Jobs.LatestForTurn(dbc, session.ID, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("load attempt job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("attempt %s has no job", attempt)
	}
	return &SubmitResult{
		TurnID:          existing.ID,
		JobID:           job.ID,
		ClientAttemptID: attempt,
		NextCursor:      s.lastCursor(ctx, session.ID),
		Deduped:         true,
		AudioURL:        audio.SignOrNil(ctx, s.store, existing.AudioPath),
	}, nil
}
