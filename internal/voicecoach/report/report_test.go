package report

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/audio"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
)

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

func customer(idx int, text, tag string) *types.Turn {
	return &types.Turn{
		ID:        uuid.New(),
		TurnIndex: idx,
		Role:      types.RoleCustomer,
		Status:    types.TurnTextReady,
		Text:      text,
		Features:  types.JSON(types.TurnFeatures{Tag: tag}),
	}
}

func beautician(idx int, text string, seconds, conf *float64, a *types.TurnAnalysis) *types.Turn {
	t := &types.Turn{
		ID:            uuid.New(),
		TurnIndex:     idx,
		Role:          types.RoleBeautician,
		Status:        types.TurnAnalysisReady,
		Text:          text,
		AudioSeconds:  seconds,
		AsrConfidence: conf,
	}
	if a != nil {
		t.Analysis = types.JSON(a)
	}
	return t
}

func TestGenerateWithoutAnalysisUsesDefaults(t *testing.T) {
	sc := scenario.Get("")
	turns := []*types.Turn{customer(0, "这个安全吗？", "")}
	r := Generate(sc, turns)

	scores := r.Scores()
	want := map[string]float64{
		DimPersuasion:    66,
		DimFluency:       60,
		DimExpression:    70,
		DimPronunciation: 70,
		DimOrganization:  64,
	}
	if !reflect.DeepEqual(scores, want) {
		t.Fatalf("scores: want=%v got=%v", want, scores)
	}
	// 66*.25 + 60*.2 + 70*.2 + 70*.15 + 64*.2
	if r.TotalScore != 65.8 {
		t.Fatalf("total: want=65.8 got=%v", r.TotalScore)
	}
	if !reflect.DeepEqual(r.Tabs.Persuasion.Tags, sc.SeedTopics) {
		t.Fatalf("tags should fall back to seed topics: %v", r.Tabs.Persuasion.Tags)
	}
	if r.Tabs.Persuasion.YourResponse != "（暂无）" {
		t.Fatalf("your_response: %q", r.Tabs.Persuasion.YourResponse)
	}
	if r.Tabs.Fluency.AvgSpeedWPM != nil || r.Tabs.Fluency.Submetrics[0].Status != "一般" {
		t.Fatalf("fluency tab: %+v", r.Tabs.Fluency)
	}
	if n := len(r.Tabs.Fluency.Charts[0].Points); n != 31 {
		t.Fatalf("default chart points: want=31 got=%d", n)
	}
	if r.Tabs.Organization.AudioExamples == nil {
		t.Fatalf("audio examples should be an empty list, not nil")
	}
}

func TestGenerateScoresFromTurns(t *testing.T) {
	analysis := &types.TurnAnalysis{
		Suggestions: []string{"先共情", "补充案例", "约体验"},
		Polished:    "姐，我理解您的担心，我们有规范流程和真实案例，您可以先预约体验。",
		Highlights:  []types.Highlight{{Start: 0, End: 2, Label: "绝对化承诺", Severity: types.SeverityBad}},
		RiskNotes:   []string{"绝对化承诺"},
	}
	// 23 CJK chars over 5s is 276 wpm.
	text := "您放心我们有规范流程和真实案例可以预约体验一下"
	turns := []*types.Turn{
		customer(0, "这个安全吗？", "安全顾虑"),
		beautician(1, text, f(5), f(0.9), analysis),
		customer(2, "价格太贵了", "价格异议"),
		beautician(3, "嗯", nil, nil, nil),
	}
	turns[1].AudioPath = s("u/s/1.mp3")

	r := Generate(scenario.Get(""), turns)
	scores := r.Scores()

	// one analysed exchange: 80 - 8*1 - 6*1
	if scores[DimPersuasion] != 66 {
		t.Fatalf("persuasion: %v", scores[DimPersuasion])
	}
	// 74 - 8 + 3 cue groups * 4
	if scores[DimOrganization] != 78 {
		t.Fatalf("organization: %v", scores[DimOrganization])
	}
	if scores[DimPronunciation] != 90 {
		t.Fatalf("pronunciation: %v", scores[DimPronunciation])
	}
	if r.Tabs.Persuasion.Submetrics[0].AdviceParagraph != "先共情；补充案例；约体验" {
		t.Fatalf("advice: %q", r.Tabs.Persuasion.Submetrics[0].AdviceParagraph)
	}
	if r.Tabs.Persuasion.ImprovedResponse != analysis.Polished {
		t.Fatalf("improved: %q", r.Tabs.Persuasion.ImprovedResponse)
	}
	if got := r.Tabs.Persuasion.Tags; len(got) != 2 || got[0] != "安全顾虑" {
		t.Fatalf("tags: %v", got)
	}
	if r.Tabs.Organization.Submetrics[0].Status != "一般" {
		t.Fatalf("organization status: %q", r.Tabs.Organization.Submetrics[0].Status)
	}
	ex := r.Tabs.Organization.AudioExamples
	if len(ex) != 1 || ex[0].TurnID != turns[1].ID || ex[0].AudioURL != nil {
		t.Fatalf("audio examples: %+v", ex)
	}
	if n := len(r.Tabs.Pronunciation.Charts[0].Points); n != 6 {
		t.Fatalf("chart points over 5s: want=6 got=%d", n)
	}
	if !strings.Contains(r.SummaryBlocks[2], "说服力") {
		t.Fatalf("weakest-dimension summary: %q", r.SummaryBlocks[2])
	}
}

func TestGenerateSkipsUnpairedBeauticianTurns(t *testing.T) {
	a := &types.TurnAnalysis{Suggestions: []string{"x"}, Polished: "y"}
	turns := []*types.Turn{beautician(1, "您好，请问有什么可以帮您的吗", nil, nil, a)}
	r := Generate(scenario.Get(""), turns)
	if got := r.Scores()[DimPersuasion]; got != defaultPersuasion {
		t.Fatalf("unpaired turn should not score: %v", got)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	a := &types.TurnAnalysis{Suggestions: []string{"x"}, Polished: "y", Highlights: []types.Highlight{{Severity: types.SeverityWarn}}}
	turns := []*types.Turn{
		customer(0, "这个安全吗？", "安全"),
		beautician(1, "您放心，我们有资质认证。", f(3), f(0.7), a),
	}
	first, _ := json.Marshal(Generate(scenario.Get(""), turns))
	second, _ := json.Marshal(Generate(scenario.Get(""), []*types.Turn{turns[1], turns[0]}))
	if string(first) != string(second) {
		t.Fatalf("report not deterministic")
	}
}

func TestSignLeavesStoredReportUntouched(t *testing.T) {
	ctx := context.Background()
	store := audio.NewMemoryStore("")
	path := "u/s/1.mp3"
	if err := store.Upload(ctx, path, []byte("ID3"), "audio/mpeg"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	turns := []*types.Turn{customer(0, "贵", ""), beautician(1, "您好", f(2), nil, nil), beautician(3, "好的", f(1), nil, nil)}
	turns[1].AudioPath = &path
	missing := "u/s/missing.mp3"
	turns[2].AudioPath = &missing

	r := Generate(scenario.Get(""), turns)
	signed := Sign(ctx, r, store)
	if signed.Tabs.Organization.AudioExamples[0].AudioURL == nil {
		t.Fatalf("stored example should be signed")
	}
	if signed.Tabs.Organization.AudioExamples[1].AudioURL != nil {
		t.Fatalf("missing object should have no url")
	}
	if r.Tabs.Organization.AudioExamples[0].AudioURL != nil {
		t.Fatalf("Sign mutated the original report")
	}

	raw, _ := json.Marshal(signed)
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Tabs.Organization.AudioExamples[0].AudioURL != nil {
		t.Fatalf("decoded report should drop urls")
	}
	if none, err := Decode(nil); none != nil || err != nil {
		t.Fatalf("Decode(nil): %v %v", none, err)
	}
}
