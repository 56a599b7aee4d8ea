package voicecoach

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/voicecoach-backend/internal/data/repos/testutil"
	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/dbctx"
)

func appendTurn(t *testing.T, repo TurnRepo, sessionID uuid.UUID, role types.TurnRole, status types.TurnStatus) *types.Turn {
	t.Helper()
	turn, err := repo.AppendTurn(dbctx.Of(context.Background()), sessionID, &types.Turn{Role: role, Status: status, Text: string(role)})
	if err != nil {
		t.Fatalf("AppendTurn(%s): %v", role, err)
	}
	return turn
}

func assertContiguous(t *testing.T, turns []*types.Turn) {
	t.Helper()
	for i, turn := range turns {
		if turn.TurnIndex != i {
			t.Fatalf("turn_index: want=%d got=%d", i, turn.TurnIndex)
		}
	}
}

func TestAppendTurnAssignsContiguousIndices(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := NewTurnRepo(db, log)
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")

	for i := 0; i < 6; i++ {
		role := types.RoleCustomer
		status := types.TurnTextReady
		if i%2 == 1 {
			role = types.RoleBeautician
		}
		got := appendTurn(t, repo, s.ID, role, status)
		if got.TurnIndex != i {
			t.Fatalf("turn %d: want index %d got=%d", i, i, got.TurnIndex)
		}
	}

	turns, err := repo.ListTurns(dbctx.Of(ctx), s.ID)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 6 {
		t.Fatalf("len: want=6 got=%d", len(turns))
	}
	assertContiguous(t, turns)

	// Roll back to index 3, then keep appending: indices stay gapless.
	if _, _, err := repo.RollbackFrom(dbctx.Of(ctx), s.ID, turns[3].ID); err != nil {
		t.Fatalf("RollbackFrom: %v", err)
	}
	appendTurn(t, repo, s.ID, types.RoleBeautician, types.TurnTextReady)
	appendTurn(t, repo, s.ID, types.RoleCustomer, types.TurnTextReady)

	turns, err = repo.ListTurns(dbctx.Of(ctx), s.ID)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 5 {
		t.Fatalf("len after rollback+append: want=5 got=%d", len(turns))
	}
	assertContiguous(t, turns)
}

func TestAppendTurnRejectsBrokenSequence(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewTurnRepo(db, testutil.Logger(t))
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")

	_, err := repo.AppendTurn(dbctx.Of(ctx), s.ID, &types.Turn{Role: types.RoleBeautician, Text: "hi"})
	if !errors.Is(err, types.ErrInvalidSequence) {
		t.Fatalf("beautician first: want ErrInvalidSequence got=%v", err)
	}

	customer := appendTurn(t, repo, s.ID, types.RoleCustomer, types.TurnTextReady)
	_, err = repo.AppendTurn(dbctx.Of(ctx), s.ID, &types.Turn{Role: types.RoleCustomer, Text: "again"})
	if !errors.Is(err, types.ErrInvalidSequence) {
		t.Fatalf("customer twice: want ErrInvalidSequence got=%v", err)
	}

	stale := uuid.New()
	_, err = repo.AppendTurn(dbctx.Of(ctx), s.ID, &types.Turn{Role: types.RoleBeautician, ReplyToTurnID: &stale})
	if !errors.Is(err, types.ErrInvalidSequence) {
		t.Fatalf("wrong reply target: want ErrInvalidSequence got=%v", err)
	}

	reply, err := repo.AppendTurn(dbctx.Of(ctx), s.ID, &types.Turn{Role: types.RoleBeautician, ReplyToTurnID: &customer.ID})
	if err != nil {
		t.Fatalf("AppendTurn reply: %v", err)
	}
	if reply.Status != types.TurnPending {
		t.Fatalf("status: want=%q got=%q", types.TurnPending, reply.Status)
	}

	// The pending reply must resolve before the next customer line.
	_, err = repo.AppendTurn(dbctx.Of(ctx), s.ID, &types.Turn{Role: types.RoleCustomer, ReplyToTurnID: &reply.ID})
	if !errors.Is(err, types.ErrInvalidSequence) {
		t.Fatalf("customer after pending: want ErrInvalidSequence got=%v", err)
	}
}

func TestAppendTurnUnknownSession(t *testing.T) {
	db := testutil.DB(t)
	repo := NewTurnRepo(db, testutil.Logger(t))
	_, err := repo.AppendTurn(dbctx.Of(context.Background()), uuid.New(), &types.Turn{Role: types.RoleCustomer})
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("want ErrNotFound got=%v", err)
	}
}

func TestRollbackFromCustomerTurnFails(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewTurnRepo(db, testutil.Logger(t))
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	turns := testutil.SeedTurns(t, ctx, db, s.ID, 5)

	for _, idx := range []int{0, 2, 4} {
		_, _, err := repo.RollbackFrom(dbctx.Of(ctx), s.ID, turns[idx].ID)
		if !errors.Is(err, types.ErrInvalidRole) {
			t.Fatalf("rollback customer %d: want ErrInvalidRole got=%v", idx, err)
		}
	}
	left, err := repo.ListTurns(dbctx.Of(ctx), s.ID)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(left) != 5 {
		t.Fatalf("failed rollback changed turns: got=%d", len(left))
	}
}

func TestRollbackFromBeauticianTurn(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	turnRepo := NewTurnRepo(db, log)
	eventRepo := NewEventRepo(db, log)
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	turns := testutil.SeedTurns(t, ctx, db, s.ID, 5)

	for i := 0; i < 4; i++ {
		turnID := turns[i].ID
		if _, err := eventRepo.Append(dbctx.Of(ctx), &types.Event{
			SessionID: s.ID,
			UserID:    s.UserID,
			Type:      types.EventTurnAccepted,
			TurnID:    &turnID,
			Data:      types.JSON(types.TurnAccepted{TurnID: turnID, TurnIndex: i}),
		}); err != nil {
			t.Fatalf("Append event: %v", err)
		}
	}
	before, err := eventRepo.ListSince(dbctx.Of(ctx), s.ID, 0, 50)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}

	surviving, removed, err := turnRepo.RollbackFrom(dbctx.Of(ctx), s.ID, turns[3].ID)
	if err != nil {
		t.Fatalf("RollbackFrom: %v", err)
	}
	if len(surviving) != 3 {
		t.Fatalf("surviving: want=3 got=%d", len(surviving))
	}
	assertContiguous(t, surviving)
	if surviving[2].ID != turns[2].ID || surviving[2].Role != types.RoleCustomer {
		t.Fatalf("paired customer turn not preserved")
	}
	if len(removed) != 2 {
		t.Fatalf("removed: want=2 got=%d", len(removed))
	}

	after, err := eventRepo.ListSince(dbctx.Of(ctx), s.ID, 0, 50)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("events changed by rollback: before=%d after=%d", len(before), len(after))
	}
	for i := range after {
		if after[i].ID != before[i].ID || after[i].Type != before[i].Type {
			t.Fatalf("event %d changed", i)
		}
	}
}

func TestTurnLookupsAreSessionScoped(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewTurnRepo(db, testutil.Logger(t))
	a := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	b := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	turns := testutil.SeedTurns(t, ctx, db, a.ID, 2)

	if _, err := repo.GetTurn(dbctx.Of(ctx), b.ID, turns[0].ID); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("GetTurn cross-session: want ErrNotFound got=%v", err)
	}
	_, err := repo.UpdateTurnFields(dbctx.Of(ctx), b.ID, turns[1].ID, map[string]interface{}{"text": "x"})
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("UpdateTurnFields cross-session: want ErrNotFound got=%v", err)
	}
	if _, _, err := repo.RollbackFrom(dbctx.Of(ctx), b.ID, turns[1].ID); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("RollbackFrom cross-session: want ErrNotFound got=%v", err)
	}
}

func TestUpdateTurnFieldsIfStatusGuards(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewTurnRepo(db, testutil.Logger(t))
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	customer := appendTurn(t, repo, s.ID, types.RoleCustomer, types.TurnTextReady)
	reply, err := repo.AppendTurn(dbctx.Of(ctx), s.ID, &types.Turn{Role: types.RoleBeautician, ReplyToTurnID: &customer.ID})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	expected := []types.TurnStatus{types.TurnPending}
	updates := map[string]interface{}{"status": types.TurnTextReady, "text": "您好"}
	ok, err := repo.UpdateTurnFieldsIfStatus(dbctx.Of(ctx), s.ID, reply.ID, expected, updates)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	ok, err = repo.UpdateTurnFieldsIfStatus(dbctx.Of(ctx), s.ID, reply.ID, expected, updates)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if ok {
		t.Fatalf("second transition: want no-op")
	}
}

func TestHistoryReturnsOldestFirst(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewTurnRepo(db, testutil.Logger(t))
	s := testutil.SeedSession(t, ctx, db, uuid.New(), "sale")
	testutil.SeedTurns(t, ctx, db, s.ID, 10)

	hist, err := repo.History(dbctx.Of(ctx), s.ID, 8, 6)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 6 {
		t.Fatalf("len: want=6 got=%d", len(hist))
	}
	if hist[0].TurnIndex != 3 || hist[5].TurnIndex != 8 {
		t.Fatalf("range: want 3..8 got %d..%d", hist[0].TurnIndex, hist[5].TurnIndex)
	}
}
