package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/data/repos"
	"github.com/yungbote/voicecoach-backend/internal/data/repos/testutil"
	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/audio"
)

func TestAudioEventsStorePathAndSignOnRead(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	q := NewQueue(repos.NewEventRepo(db, log), nil, log)
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	store := audio.NewMemoryStore("test")

	turnID := uuid.New()
	path := audio.TurnAudioPath(s.UserID, s.ID, turnID, types.AudioMP3)
	if err := store.Upload(ctx, path, []byte("mp3"), types.AudioMP3.ContentType()); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	ev := q.Emit(ctx, EmitArgs{SessionID: s.ID, UserID: s.UserID, TurnID: &turnID,
		Data: types.CustomerAudioReady{TurnID: turnID, AudioPath: &path, Text: "好的"}})
	if ev == nil {
		t.Fatalf("emit returned nil")
	}

	list, err := q.ListSince(ctx, s.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	stored := string(list[0].Data)
	if strings.Contains(stored, "audio_url\":\"") || !strings.Contains(stored, path) {
		t.Fatalf("stored payload: %s", stored)
	}

	var served types.CustomerAudioReady
	if err := json.Unmarshal(SignedData(ctx, store, list[0]), &served); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if served.AudioURL == nil || *served.AudioURL == "" || served.AudioPath != nil {
		t.Fatalf("served: url=%v path=%v", served.AudioURL, served.AudioPath)
	}
	if served.Text != "好的" {
		t.Fatalf("text: %q", served.Text)
	}
}

func TestSignedDataPassesOtherEventsThrough(t *testing.T) {
	ev := &types.Event{Type: types.EventTurnError, Data: []byte(`{"code":"asr_empty","message":"x"}`)}
	if got := string(SignedData(context.Background(), nil, ev)); got != `{"code":"asr_empty","message":"x"}` {
		t.Fatalf("data: %s", got)
	}
	if got := string(SignedData(context.Background(), nil, &types.Event{Type: types.EventAsrReady})); got != "{}" {
		t.Fatalf("empty data: %s", got)
	}
}
