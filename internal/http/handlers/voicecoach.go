package handlers

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/http/response"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/session"
)

const defaultMaxAudioBytes = 10 << 20

type VoiceCoachHandler struct {
	log           *logger.Logger
	sessions      session.Service
	maxAudioBytes int
}

func NewVoiceCoachHandler(log *logger.Logger, sessions session.Service, maxAudioBytes int) *VoiceCoachHandler {
	if maxAudioBytes <= 0 {
		maxAudioBytes = defaultMaxAudioBytes
	}
	return &VoiceCoachHandler{
		log:           log.With("handler", "VoiceCoachHandler"),
		sessions:      sessions,
		maxAudioBytes: maxAudioBytes,
	}
}

func pathUUID(c *gin.Context, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(name)))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, code, err)
		return uuid.Nil, false
	}
	return id, true
}

func bodyUUID(c *gin.Context, raw, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, code, fmt.Errorf("%s: %w", code, err))
		return uuid.Nil, false
	}
	return id, true
}

// GET /api/voice-coach/catalog
func (h *VoiceCoachHandler) Catalog(c *gin.Context) {
	out, err := h.sessions.Catalog(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/voice-coach/sessions
func (h *VoiceCoachHandler) CreateSession(c *gin.Context) {
	var req session.CreateInput
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	out, err := h.sessions.Create(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondCreated(c, out)
}

// GET /api/voice-coach/sessions/:id
func (h *VoiceCoachHandler) GetSession(c *gin.Context) {
	sid, ok := pathUUID(c, "id", "invalid_session_id")
	if !ok {
		return
	}
	out, err := h.sessions.Get(c.Request.Context(), sid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, out)
}

type submitTurnRequest struct {
	ReplyToTurnID      string   `json:"reply_to_turn_id"`
	AudioBase64        string   `json:"audio_base64"`
	AudioFormat        string   `json:"audio_format"`
	Text               string   `json:"text"`
	ClientAudioSeconds *float64 `json:"client_audio_seconds"`
	ClientAttemptID    string   `json:"client_attempt_id"`
}

// POST /api/voice-coach/sessions/:id/beautician-turn
func (h *VoiceCoachHandler) SubmitTurn(c *gin.Context) {
	sid, ok := pathUUID(c, "id", "invalid_session_id")
	if !ok {
		return
	}
	var req submitTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	replyTo, ok := bodyUUID(c, req.ReplyToTurnID, "invalid_reply_to_turn_id")
	if !ok {
		return
	}

	var audio []byte
	if raw := strings.TrimSpace(req.AudioBase64); raw != "" {
		// data:audio/mpeg;base64,... prefixes come from browser recorders.
		if i := strings.Index(raw, ","); strings.HasPrefix(raw, "data:") && i > 0 {
			raw = raw[i+1:]
		}
		if base64.StdEncoding.DecodedLen(len(raw)) > h.maxAudioBytes {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "audio_too_large",
				fmt.Errorf("audio exceeds %d bytes", h.maxAudioBytes))
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_audio_base64", err)
			return
		}
		audio = decoded
	}
	attempt := req.ClientAttemptID
	if attempt == "" {
		attempt = c.GetHeader("Idempotency-Key")
	}

	out, err := h.sessions.SubmitTurn(c.Request.Context(), session.SubmitInput{
		SessionID:          sid,
		ReplyToTurnID:      replyTo,
		Audio:              audio,
		AudioFormat:        req.AudioFormat,
		Text:               req.Text,
		ClientAudioSeconds: req.ClientAudioSeconds,
		ClientAttemptID:    attempt,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if out.Deduped {
		response.RespondOK(c, out)
		return
	}
	response.RespondAccepted(c, out)
}

// GET /api/voice-coach/sessions/:id/turns/:turnId
func (h *VoiceCoachHandler) GetTurn(c *gin.Context) {
	sid, ok := pathUUID(c, "id", "invalid_session_id")
	if !ok {
		return
	}
	tid, ok := pathUUID(c, "turnId", "invalid_turn_id")
	if !ok {
		return
	}
	out, err := h.sessions.GetTurn(c.Request.Context(), sid, tid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"turn": out})
}

// POST /api/voice-coach/sessions/:id/hint
func (h *VoiceCoachHandler) Hint(c *gin.Context) {
	sid, ok := pathUUID(c, "id", "invalid_session_id")
	if !ok {
		return
	}
	var req struct {
		CustomerTurnID string `json:"customer_turn_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	tid, ok := bodyUUID(c, req.CustomerTurnID, "invalid_customer_turn_id")
	if !ok {
		return
	}
	out, err := h.sessions.RequestHint(c.Request.Context(), sid, tid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/voice-coach/sessions/:id/turns/:turnId/analysis
func (h *VoiceCoachHandler) Analysis(c *gin.Context) {
	sid, ok := pathUUID(c, "id", "invalid_session_id")
	if !ok {
		return
	}
	tid, ok := pathUUID(c, "turnId", "invalid_turn_id")
	if !ok {
		return
	}
	out, err := h.sessions.RefineAnalysis(c.Request.Context(), sid, tid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/voice-coach/sessions/:id/turns/:turnId/tts
func (h *VoiceCoachHandler) TTS(c *gin.Context) {
	sid, ok := pathUUID(c, "id", "invalid_session_id")
	if !ok {
		return
	}
	tid, ok := pathUUID(c, "turnId", "invalid_turn_id")
	if !ok {
		return
	}
	out, err := h.sessions.RequestTTS(c.Request.Context(), sid, tid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if out.Queued {
		response.RespondAccepted(c, out)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/voice-coach/sessions/:id/rollback
func (h *VoiceCoachHandler) Rollback(c *gin.Context) {
	sid, ok := pathUUID(c, "id", "invalid_session_id")
	if !ok {
		return
	}
	var req struct {
		FromTurnID string `json:"from_turn_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	from, ok := bodyUUID(c, req.FromTurnID, "invalid_from_turn_id")
	if !ok {
		return
	}
	out, err := h.sessions.Rollback(c.Request.Context(), sid, from)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/voice-coach/sessions/:id/end
func (h *VoiceCoachHandler) End(c *gin.Context) {
	sid, ok := pathUUID(c, "id", "invalid_session_id")
	if !ok {
		return
	}
	var req struct {
		Mode string `json:"mode"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	out, err := h.sessions.End(c.Request.Context(), sid, session.ParseEndMode(req.Mode))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/voice-coach/sessions/:id/report
func (h *VoiceCoachHandler) Report(c *gin.Context) {
	sid, ok := pathUUID(c, "id", "invalid_session_id")
	if !ok {
		return
	}
	out, err := h.sessions.Report(c.Request.Context(), sid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"session_id": sid, "report": out})
}
