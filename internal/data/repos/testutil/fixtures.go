package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
)

func SeedSession(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, categoryID string) *types.Session {
	tb.Helper()
	s := &types.Session{
		UserID:     userID,
		ScenarioID: "objection_safety",
		CategoryID: categoryID,
		Status:     types.SessionActive,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed session: %v", err)
	}
	return s
}

// SeedTurns writes alternating customer/beautician turns 0..n-1 directly,
// bypassing sequence checks. Beautician turns are analysis_ready.
func SeedTurns(tb testing.TB, ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, n int) []*types.Turn {
	tb.Helper()
	out := make([]*types.Turn, 0, n)
	for i := 0; i < n; i++ {
		t := &types.Turn{SessionID: sessionID, TurnIndex: i}
		if i%2 == 0 {
			t.Role = types.RoleCustomer
			t.Status = types.TurnTextReady
			t.Text = "这个安全吗？"
		} else {
			t.Role = types.RoleBeautician
			t.Status = types.TurnAnalysisReady
			t.Text = "您放心，我们有规范流程。"
		}
		if err := tx.WithContext(ctx).Create(t).Error; err != nil {
			tb.Fatalf("seed turn %d: %v", i, err)
		}
		out = append(out, t)
	}
	return out
}
