package scriptpack

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
)

func loadPack(t *testing.T) *Pack {
	t.Helper()
	p, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return p
}

func TestLoadEmbeddedPack(t *testing.T) {
	p := loadPack(t)
	for _, c := range scenario.Categories() {
		if len(p.graph[c.ID]) == 0 {
			t.Fatalf("graph missing category %s", c.ID)
		}
		if _, ok := p.PickOpeningSeed(c.ID, "", "u1"); !ok {
			t.Fatalf("no opening for %s", c.ID)
		}
		for _, n := range p.graph[c.ID] {
			for _, a := range n.Angles {
				if _, ok := p.pickCandidate(c.ID, n.IntentID, a, nil, nil, "x"); !ok {
					t.Fatalf("no lines for %s/%s/%s", c.ID, n.IntentID, a)
				}
			}
		}
	}
	if len(p.CrisisGoalTemplates()) == 0 {
		t.Fatalf("no crisis goal templates")
	}
}

func TestLoadHonorsOverrideDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(packDirEnv, dir)
	// Files absent from the override dir still come from the embedded pack.
	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestQuickHash(t *testing.T) {
	if got := quickHash("a"); got != 97 {
		t.Fatalf("quickHash(a): got=%d", got)
	}
	if got := quickHash("ab"); got != 97*131+98 {
		t.Fatalf("quickHash(ab): got=%d", got)
	}
}

func TestPickOpeningSeedIsStable(t *testing.T) {
	p := loadPack(t)
	a, _ := p.PickOpeningSeed(scenario.CategorySale, "persuasion", "user-1")
	b, _ := p.PickOpeningSeed(scenario.CategorySale, "persuasion", "user-1")
	if a.LineID != b.LineID {
		t.Fatalf("opening not stable: %s vs %s", a.LineID, b.LineID)
	}
	if !a.Emotion.Valid() || a.Tag == "" {
		t.Fatalf("opening not normalized: %+v", a)
	}
}

func TestSelectNextCustomerLineAvoidsUsedLines(t *testing.T) {
	p := loadPack(t)
	st := p.InitialPolicyState(scenario.CategorySale, nil, nil, "safety_concern", "medical_advice")
	st.UsedLineIDs = []string{"sale.safety_concern.medical_advice.01"}

	sel, err := p.SelectNextCustomerLine(scenario.CategorySale, st, "我们有规范流程和资质认证", nil)
	if err != nil {
		t.Fatalf("SelectNextCustomerLine: %v", err)
	}
	if sel.Line.LineID != "sale.safety_concern.medical_advice.02" {
		t.Fatalf("line: got=%s", sel.Line.LineID)
	}
	if sel.Policy.SameIntentRounds != 1 || sel.Policy.LastBeauticianSignature != "proof|safety" {
		t.Fatalf("policy: %+v", sel.Policy)
	}
	if len(sel.Policy.UsedLineIDs) != 2 {
		t.Fatalf("used: %v", sel.Policy.UsedLineIDs)
	}

	again, err := p.SelectNextCustomerLine(scenario.CategorySale, st, "我们有规范流程和资质认证", nil)
	if err != nil {
		t.Fatalf("SelectNextCustomerLine: %v", err)
	}
	if again.Line.LineID != sel.Line.LineID {
		t.Fatalf("selection not deterministic")
	}
}

func TestLoopGuardOnStagnation(t *testing.T) {
	p := loadPack(t)
	st := p.InitialPolicyState(scenario.CategorySale, nil, nil, "", "")
	st.LastBeauticianSignature = "generic"
	st.StagnationCount = 1

	sel, err := p.SelectNextCustomerLine(scenario.CategorySale, st, "好的好的", nil)
	if err != nil {
		t.Fatalf("SelectNextCustomerLine: %v", err)
	}
	if !sel.LoopGuardTriggered {
		t.Fatalf("loop guard not triggered")
	}
	if sel.IntentID != "safety_concern" || sel.AngleID != "qualification" {
		t.Fatalf("want safety_concern/qualification got=%s/%s", sel.IntentID, sel.AngleID)
	}
	if sel.Policy.StagnationCount != 0 {
		t.Fatalf("stagnation: got=%d", sel.Policy.StagnationCount)
	}
}

func TestLoopGuardOnSameIntentRounds(t *testing.T) {
	p := loadPack(t)
	st := p.InitialPolicyState(scenario.CategorySale, nil, nil, "", "")
	st.SameIntentRounds = 4

	sel, err := p.SelectNextCustomerLine(scenario.CategorySale, st, "价格可以分期", nil)
	if err != nil {
		t.Fatalf("SelectNextCustomerLine: %v", err)
	}
	if !sel.LoopGuardTriggered || sel.IntentID != "price_objection" {
		t.Fatalf("want price_objection got=%s guard=%v", sel.IntentID, sel.LoopGuardTriggered)
	}
	if sel.Policy.SameIntentRounds != 1 {
		t.Fatalf("same intent rounds: got=%d", sel.Policy.SameIntentRounds)
	}
}

func TestSelectSkipsLinesAlreadySaid(t *testing.T) {
	p := loadPack(t)
	st := p.InitialPolicyState(scenario.CategorySale, nil, nil, "", "")
	history := []types.HistoryItem{
		{Role: types.RoleCustomer, Text: "医生说美容院不能按胸，这安全吗？"},
		{Role: types.RoleBeautician, Text: "您放心"},
	}
	sel, err := p.SelectNextCustomerLine(scenario.CategorySale, st, "您放心", history)
	if err != nil {
		t.Fatalf("SelectNextCustomerLine: %v", err)
	}
	if sel.Line.Text == history[0].Text {
		t.Fatalf("repeated a line already in history")
	}
}

func TestUsedLineIDsAreCapped(t *testing.T) {
	p := loadPack(t)
	st := p.InitialPolicyState(scenario.CategoryCrisis, nil, nil, "", "")
	for i := 0; i < 200; i++ {
		st.UsedLineIDs = append(st.UsedLineIDs, fmt.Sprintf("old.%d", i))
	}
	sel, err := p.SelectNextCustomerLine(scenario.CategoryCrisis, st, "非常抱歉，我们马上处理", nil)
	if err != nil {
		t.Fatalf("SelectNextCustomerLine: %v", err)
	}
	if len(sel.Policy.UsedLineIDs) != maxUsedLineIDs {
		t.Fatalf("used ids: got=%d", len(sel.Policy.UsedLineIDs))
	}
}

func TestEmptyPackHasNoLines(t *testing.T) {
	p := &Pack{}
	_, err := p.SelectNextCustomerLine(scenario.CategorySale, types.PolicyState{}, "x", nil)
	if !errors.Is(err, ErrNoCustomerLines) {
		t.Fatalf("want ErrNoCustomerLines got=%v", err)
	}
}

func TestTemplatesFallBackToCategory(t *testing.T) {
	p := loadPack(t)
	exact, ok := p.AnalysisTemplate(scenario.CategorySale, "price_objection")
	if !ok || exact.IntentID != "price_objection" {
		t.Fatalf("exact analysis template: %+v ok=%v", exact, ok)
	}
	fallback, ok := p.AnalysisTemplate(scenario.CategorySale, "close_next_step")
	if !ok || fallback.CategoryID != scenario.CategorySale {
		t.Fatalf("fallback analysis template: %+v ok=%v", fallback, ok)
	}
	if len(fallback.Suggestions) != 3 {
		t.Fatalf("analysis template suggestions: %d", len(fallback.Suggestions))
	}
	if _, ok := p.HintTemplate(scenario.CategoryPostsale, "referral"); !ok {
		t.Fatalf("postsale hint fallback missing")
	}
}

func TestRecommendCategory(t *testing.T) {
	def := RecommendCategory(nil)
	if def.CategoryID != scenario.CategorySale || !strings.Contains(def.Reason, "默认") {
		t.Fatalf("default: %+v", def)
	}

	rec := RecommendCategory(map[string]float64{
		"persuasion":    90,
		"fluency":       50,
		"expression":    55,
		"pronunciation": 80,
		"organization":  85,
	})
	// fluency (postsale .6, presale .4) + 0.8*expression (presale .4, postsale .4)
	if rec.CategoryID != scenario.CategoryPostsale {
		t.Fatalf("want postsale got=%s", rec.CategoryID)
	}
	if len(rec.BasedOnReport.WeakestDimensions) != 2 || rec.BasedOnReport.WeakestDimensions[0] != "fluency" {
		t.Fatalf("weakest: %v", rec.BasedOnReport.WeakestDimensions)
	}
	if !strings.Contains(rec.Reason, "售后") {
		t.Fatalf("reason: %s", rec.Reason)
	}
}

func TestShouldRewrite(t *testing.T) {
	if ShouldRewrite("x", 0) || !ShouldRewrite("x", 100) {
		t.Fatalf("bounds")
	}
	if ShouldRewrite("seed", 30) != ShouldRewrite("seed", 30) {
		t.Fatalf("not stable")
	}
}
