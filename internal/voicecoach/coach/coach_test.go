package coach

import (
	"context"
	"errors"
	"strings"
	"testing"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/llm"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scriptpack"
)

func history() []types.HistoryItem {
	return []types.HistoryItem{
		{Role: types.RoleCustomer, Text: "做胸部护理安全吗？", Emotion: types.EmotionWorried},
		{Role: types.RoleBeautician, Text: "您放心，我们有规范流程。"},
	}
}

func TestFormatHistory(t *testing.T) {
	if got := formatHistory(nil); got != "（无历史对话）" {
		t.Fatalf("empty history: %q", got)
	}
	got := formatHistory(history())
	want := "顾客（情绪：worried）：做胸部护理安全吗？\n美容师：您放心，我们有规范流程。"
	if got != want {
		t.Fatalf("formatHistory:\n got %q\nwant %q", got, want)
	}
}

func TestCustomerTurnUsesSchemaAndTarget(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.AddJSON(map[string]any{"text": "  有没有真实案例可以看看？ ", "emotion": "skeptical", "tag": "真实案例"})
	g := NewGenerator(mock, logger.Nop())

	sc := scenario.Get("")
	turn, err := g.CustomerTurn(context.Background(), sc, history(), DefaultCustomerTarget)
	if err != nil {
		t.Fatalf("CustomerTurn: %v", err)
	}
	if turn.Text != "有没有真实案例可以看看？" || turn.Emotion != types.EmotionSkeptical || turn.Tag != "真实案例" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("calls: %d", mock.CallCount())
	}
	req := mock.Calls[0]
	if req.Schema == nil || req.Schema.Name != customerTurnSchema.Name {
		t.Fatalf("schema not attached: %+v", req.Schema)
	}
	if req.Temperature != customerTemperature {
		t.Fatalf("temperature: %v", req.Temperature)
	}
	if !strings.Contains(req.Messages[0].Content, "本轮目标："+DefaultCustomerTarget) {
		t.Fatalf("target missing from prompt: %s", req.Messages[0].Content)
	}
	if !strings.Contains(req.System, sc.CustomerPersona) {
		t.Fatalf("persona missing from system prompt")
	}
}

func TestCustomerTurnRejectsInvalidEmotion(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.AddJSON(map[string]any{"text": "太贵了吧", "emotion": "furious", "tag": "价格"})
	g := NewGenerator(mock, logger.Nop())

	_, err := g.CustomerTurn(context.Background(), scenario.Get(""), nil, "")
	var inv *llm.ErrInvalidResponse
	if !errors.As(err, &inv) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestRewriteKeepsScriptedEmotionAndTag(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.AddJSON(map[string]any{"text": "那你们有资质证明吗？", "emotion": "pleased", "tag": "别的"})
	g := NewGenerator(mock, logger.Nop())

	line := scriptpack.CustomerLine{Text: "你们有资质吗？", Emotion: types.EmotionSkeptical, Tag: "资质"}
	out, err := g.RewriteLine(context.Background(), scenario.Get(""), history(), line)
	if err != nil {
		t.Fatalf("RewriteLine: %v", err)
	}
	if out.Text != "那你们有资质证明吗？" || out.Emotion != types.EmotionSkeptical || out.Tag != "资质" {
		t.Fatalf("unexpected rewrite: %+v", out)
	}
}

func TestAnalyzeTurnMergesRisks(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.AddJSON(map[string]any{
		"suggestions": []string{"先共情", "举出案例", "给出下一步"},
		"polished":    "我理解您的担心，我们全程按规范流程操作，也可以先带您看看真实案例。",
		"highlights": []map[string]any{
			{"start": 0, "end": 3, "label": "共情", "severity": "info"},
			{"start": 50, "end": 60, "label": "越界", "severity": "warn"},
		},
		"risk_notes": []string{},
	})
	g := NewGenerator(mock, logger.Nop())

	reply := "放心，保证100%安全"
	customer := types.HistoryItem{Role: types.RoleCustomer, Text: "安全吗？"}
	a, err := g.AnalyzeTurn(context.Background(), scenario.Get(""), history(), customer, reply)
	if err != nil {
		t.Fatalf("AnalyzeTurn: %v", err)
	}
	if a.Source != SourceModel {
		t.Fatalf("source: %q", a.Source)
	}
	if len(a.RiskNotes) != 2 {
		t.Fatalf("expected 2 risk notes, got %v", a.RiskNotes)
	}
	var bad int
	for _, h := range a.Highlights {
		if h.Start >= 50 {
			t.Fatalf("out-of-range highlight kept: %+v", h)
		}
		if h.Severity == types.SeverityBad {
			bad++
		}
	}
	if bad != 2 {
		t.Fatalf("expected 2 bad highlights, got %d (%+v)", bad, a.Highlights)
	}
}

func TestAnalyzeTurnRequiresThreeSuggestions(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.AddJSON(map[string]any{
		"suggestions": []string{"只有一条"},
		"polished":    "润色",
		"highlights":  []any{},
		"risk_notes":  []any{},
	})
	g := NewGenerator(mock, logger.Nop())
	_, err := g.AnalyzeTurn(context.Background(), scenario.Get(""), nil, types.HistoryItem{Text: "贵"}, "不贵")
	if err == nil {
		t.Fatalf("expected schema failure")
	}
}

func TestDetectRisksOffsetsAreRunes(t *testing.T) {
	notes, hs := DetectRisks("我们绝对没有风险")
	if len(notes) != 2 || len(hs) != 2 {
		t.Fatalf("notes=%v highlights=%v", notes, hs)
	}
	for _, h := range hs {
		switch h.Label {
		case "风险否认":
			if h.Start != 4 || h.End != 8 {
				t.Fatalf("风险否认 range: %+v", h)
			}
		case "绝对化用语":
			if h.Start != 2 || h.End != 4 {
				t.Fatalf("绝对 range: %+v", h)
			}
		default:
			t.Fatalf("unexpected label %q", h.Label)
		}
	}
	if notes, _ := DetectRisks("我们会按流程操作，并说明个体差异。"); len(notes) != 0 {
		t.Fatalf("clean reply flagged: %v", notes)
	}
}

func TestMergeRisksDoesNotDuplicate(t *testing.T) {
	a := types.TurnAnalysis{Suggestions: []string{"a", "b", "c"}, Polished: "p"}
	a = MergeRisks(a, "保证有效")
	a = MergeRisks(a, "保证有效")
	if len(a.RiskNotes) != 1 || len(a.Highlights) != 1 {
		t.Fatalf("duplicated merge: %+v", a)
	}
}

func TestHintDegradesWhenProviderDown(t *testing.T) {
	g := NewGenerator(llm.NewMockProvider(), logger.Nop())
	_, err := g.Hint(context.Background(), scenario.Get(""), history(), types.HistoryItem{Text: "贵"})
	var unavailable *llm.ErrProviderUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}

	h := StaticHint(scenario.CategoryCrisis)
	if !h.Degraded || h.Source != SourceStatic || h.HintText == "" {
		t.Fatalf("static hint: %+v", h)
	}
	if StaticHint("unknown").HintText != StaticHint(scenario.CategorySale).HintText {
		t.Fatalf("unknown category should use the sale hint")
	}
}

func TestHintFromModel(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.AddJSON(map[string]any{"hint_text": "先认同顾虑，再讲流程和案例。", "hint_points": []string{"共情", "举证"}})
	g := NewGenerator(mock, logger.Nop())
	h, err := g.Hint(context.Background(), scenario.Get(""), history(), types.HistoryItem{Text: "安全吗"})
	if err != nil {
		t.Fatalf("Hint: %v", err)
	}
	if h.Source != SourceModel || len(h.HintPoints) != 2 || h.Degraded {
		t.Fatalf("unexpected hint: %+v", h)
	}
}

func TestFromTemplate(t *testing.T) {
	a := FromTemplate(scriptpack.AnalysisTemplate{
		Suggestions: []string{"1", "2", "3", "4"},
		Polished:    "照读",
	})
	if len(a.Suggestions) != 3 || a.Source != SourceFixed || a.Highlights == nil || a.RiskNotes == nil {
		t.Fatalf("unexpected template analysis: %+v", a)
	}
}
