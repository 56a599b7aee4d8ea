package voicecoach

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/data/repos/testutil"
	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
)

func TestEventIDsArePerSessionAndIncreasing(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewEventRepo(db, testutil.Logger(t))
	a := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	b := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := a
			if i%3 == 0 {
				s = b
			}
			if _, err := repo.Append(dbctx.Of(ctx), &types.Event{
				SessionID: s.ID,
				UserID:    s.UserID,
				Type:      types.EventTurnError,
				Data:      types.JSON(types.TurnError{Code: "x"}),
			}); err != nil {
				t.Errorf("Append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	for _, tc := range []struct {
		session *types.Session
		want    int
	}{{a, 8}, {b, 4}} {
		events, err := repo.ListSince(dbctx.Of(ctx), tc.session.ID, 0, 50)
		if err != nil {
			t.Fatalf("ListSince: %v", err)
		}
		if len(events) != tc.want {
			t.Fatalf("count: want=%d got=%d", tc.want, len(events))
		}
		for i, ev := range events {
			if ev.ID != int64(i+1) {
				t.Fatalf("id: want=%d got=%d", i+1, ev.ID)
			}
		}
		last, err := repo.LastID(dbctx.Of(ctx), tc.session.ID)
		if err != nil {
			t.Fatalf("LastID: %v", err)
		}
		if last != int64(tc.want) {
			t.Fatalf("LastID: want=%d got=%d", tc.want, last)
		}
	}
}

func TestListSinceReturnsOnlyNewerEvents(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewEventRepo(db, testutil.Logger(t))
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")

	for i := 0; i < 60; i++ {
		if _, err := repo.Append(dbctx.Of(ctx), &types.Event{
			SessionID: s.ID,
			UserID:    s.UserID,
			Type:      types.EventTurnAccepted,
			Data:      types.JSON(types.TurnAccepted{TurnIndex: i}),
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	for _, cursor := range []int64{0, 5, 30, 59, 60, 100} {
		events, err := repo.ListSince(dbctx.Of(ctx), s.ID, cursor, 50)
		if err != nil {
			t.Fatalf("ListSince(%d): %v", cursor, err)
		}
		if len(events) > 50 {
			t.Fatalf("ListSince(%d): page too large %d", cursor, len(events))
		}
		prev := cursor
		for _, ev := range events {
			if ev.ID <= prev {
				t.Fatalf("ListSince(%d): id %d not > %d", cursor, ev.ID, prev)
			}
			prev = ev.ID
		}
	}
}

func TestAppendEventUnknownSession(t *testing.T) {
	db := testutil.DB(t)
	repo := NewEventRepo(db, testutil.Logger(t))
	_, err := repo.Append(dbctx.Of(context.Background()), &types.Event{SessionID: uuid.New(), Type: types.EventTurnError})
	if err == nil {
		t.Fatalf("want error for unknown session")
	}
}

func TestEventPayloadDecodes(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewEventRepo(db, testutil.Logger(t))
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	turnID := uuid.New()
	if _, err := repo.Append(dbctx.Of(ctx), &types.Event{
		SessionID: s.ID,
		UserID:    s.UserID,
		Type:      types.EventCustomerAudioReady,
		TurnID:    &turnID,
		Data:      types.JSON(types.CustomerAudioReady{TurnID: turnID, TTSFailed: true, Text: "嗯"}),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	events, err := repo.ListSince(dbctx.Of(ctx), s.ID, 0, 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("ListSince: n=%d err=%v", len(events), err)
	}
	payload, err := events[0].Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	audio, ok := payload.(types.CustomerAudioReady)
	if !ok {
		t.Fatalf("payload type: got=%T", payload)
	}
	if !audio.TTSFailed || audio.TurnID != turnID {
		t.Fatalf("payload: got=%+v", audio)
	}
}
