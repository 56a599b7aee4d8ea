// Package coach generates the model-backed content of a practice session:
// customer lines, reply analyses and hints. Every call is structured output
// validated against a JSON schema; callers own the fallbacks.
package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/llm"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scriptpack"
)

// Analysis and hint sources.
const (
	SourceFixed  = "fixed"
	SourceModel  = "model"
	SourceStatic = "static"
)

const (
	customerTemperature = 0.7
	rewriteTemperature  = 0.6
	analysisTemperature = 0.5
	hintTemperature     = 0.5
)

var errEmptyOutput = errors.New("empty model output")

type CustomerTurn struct {
	Text    string        `json:"text"`
	Emotion types.Emotion `json:"emotion"`
	Tag     string        `json:"tag"`
}

type Hint struct {
	HintText   string   `json:"hint_text"`
	HintPoints []string `json:"hint_points"`
	Source     string   `json:"source"`
	Degraded   bool     `json:"degraded,omitempty"`
}

type Generator struct {
	provider llm.Provider
	log      *logger.Logger
}

func NewGenerator(provider llm.Provider, baseLog *logger.Logger) *Generator {
	return &Generator{provider: provider, log: baseLog.With("service", "CoachGenerator")}
}

func (g *Generator) generate(ctx context.Context, purpose string, schema *llm.Schema, system, user string, temperature float64, out any) error {
	if g == nil || g.provider == nil {
		return fmt.Errorf("%s: %w", purpose, &llm.ErrProviderUnavailable{})
	}
	resp, err := g.provider.Generate(llm.WithPurpose(ctx, purpose), llm.UserPrompt(system, user, schema, temperature))
	if err != nil {
		return fmt.Errorf("%s: %w", purpose, err)
	}
	if err := json.Unmarshal(resp.Content, out); err != nil {
		return fmt.Errorf("%s: decode: %w", purpose, err)
	}
	return nil
}

// CustomerTurn generates the next customer line. An empty target uses the
// opening objective.
func (g *Generator) CustomerTurn(ctx context.Context, sc scenario.Scenario, history []types.HistoryItem, target string) (CustomerTurn, error) {
	system, user := customerTurnPrompt(sc, history, target)
	var out CustomerTurn
	if err := g.generate(ctx, "customer_turn", customerTurnSchema, system, user, customerTemperature, &out); err != nil {
		return CustomerTurn{}, err
	}
	return normalizeCustomerTurn(out, types.EmotionNeutral, firstTopic(sc))
}

// RewriteLine rephrases a scripted line to fit the conversation. Emotion and
// tag stay with the scripted line so the dialogue policy is unaffected.
func (g *Generator) RewriteLine(ctx context.Context, sc scenario.Scenario, history []types.HistoryItem, line scriptpack.CustomerLine) (CustomerTurn, error) {
	system, user := rewritePrompt(sc, history, line.Text, line.Emotion, line.Tag)
	var out CustomerTurn
	if err := g.generate(ctx, "customer_rewrite", customerTurnSchema, system, user, rewriteTemperature, &out); err != nil {
		return CustomerTurn{}, err
	}
	out.Emotion = line.Emotion
	out.Tag = line.Tag
	return normalizeCustomerTurn(out, types.EmotionNeutral, firstTopic(sc))
}

// AnalyzeTurn asks the model for feedback on one reply and merges the
// rule-based risk findings into it.
func (g *Generator) AnalyzeTurn(ctx context.Context, sc scenario.Scenario, history []types.HistoryItem, customer types.HistoryItem, beauticianText string) (types.TurnAnalysis, error) {
	system, user := analysisPrompt(sc, history, customer, beauticianText)
	var out types.TurnAnalysis
	if err := g.generate(ctx, "turn_analysis", turnAnalysisSchema, system, user, analysisTemperature, &out); err != nil {
		return types.TurnAnalysis{}, err
	}
	if strings.TrimSpace(out.Polished) == "" || len(out.Suggestions) == 0 {
		return types.TurnAnalysis{}, fmt.Errorf("turn_analysis: %w", errEmptyOutput)
	}
	out.Highlights = clampHighlights(out.Highlights, utf8.RuneCountInString(beauticianText))
	if out.RiskNotes == nil {
		out.RiskNotes = []string{}
	}
	out.PerTurnScores = nil
	out.Source = SourceModel
	return MergeRisks(out, beauticianText), nil
}

// Hint asks the model for a reply hint. Callers fall back to StaticHint.
func (g *Generator) Hint(ctx context.Context, sc scenario.Scenario, history []types.HistoryItem, customer types.HistoryItem) (Hint, error) {
	system, user := hintPrompt(sc, history, customer)
	var out Hint
	if err := g.generate(ctx, "hint", hintSchema, system, user, hintTemperature, &out); err != nil {
		return Hint{}, err
	}
	out.HintText = strings.TrimSpace(out.HintText)
	if out.HintText == "" {
		return Hint{}, fmt.Errorf("hint: %w", errEmptyOutput)
	}
	if out.HintPoints == nil {
		out.HintPoints = []string{}
	}
	out.Source = SourceModel
	return out, nil
}

func normalizeCustomerTurn(t CustomerTurn, fallbackEmotion types.Emotion, fallbackTag string) (CustomerTurn, error) {
	t.Text = strings.TrimSpace(t.Text)
	if t.Text == "" {
		return CustomerTurn{}, fmt.Errorf("customer_turn: %w", errEmptyOutput)
	}
	t.Emotion = types.NormalizeEmotion(string(t.Emotion), fallbackEmotion)
	t.Tag = strings.TrimSpace(t.Tag)
	if t.Tag == "" {
		t.Tag = fallbackTag
	}
	if utf8.RuneCountInString(t.Tag) > 40 {
		t.Tag = string([]rune(t.Tag)[:40])
	}
	return t, nil
}

func firstTopic(sc scenario.Scenario) string {
	if len(sc.SeedTopics) > 0 {
		return sc.SeedTopics[0]
	}
	return "顾客疑问"
}

// clampHighlights drops ranges that fall outside the reply.
func clampHighlights(in []types.Highlight, n int) []types.Highlight {
	out := make([]types.Highlight, 0, len(in))
	for _, h := range in {
		if h.Start < 0 || h.Start >= n || h.End <= h.Start {
			continue
		}
		if h.End > n {
			h.End = n
		}
		out = append(out, h)
	}
	return out
}

var staticHints = map[scenario.CategoryID]Hint{
	scenario.CategoryPresale: {
		HintText:   "先别急着介绍项目，用开放式问题了解顾客最在意的问题、预算和时间安排，再结合她的情况给出一两个适合的方向，最后邀请她先做一次体验或面诊。",
		HintPoints: []string{"先提问再推荐", "确认预算与时间", "约定体验或面诊"},
	},
	scenario.CategorySale: {
		HintText:   "先认同顾客的顾虑，再用规范流程、资质和真实案例说明安全性，提醒个体差异，不做绝对承诺，最后给出一个低门槛的下一步，比如先看案例或预约体验。",
		HintPoints: []string{"先共情再解释", "用流程和案例举证", "给出可执行的下一步"},
	},
	scenario.CategoryPostsale: {
		HintText:   "先和顾客一起回顾这次护理的变化，再给出具体的维护节奏和居家建议，在她认可效果的前提下，再自然地提到续卡或带朋友一起体验。",
		HintPoints: []string{"复盘效果", "给出维护计划", "顺势推荐升级或转介绍"},
	},
	scenario.CategoryCrisis: {
		HintText:   "先稳定顾客情绪，真诚道歉并复述她的诉求，说明马上会做的补救安排和负责人，约定回复时间，全程不要推销新项目。",
		HintPoints: []string{"先道歉和倾听", "给出补救安排", "约定跟进时间"},
	},
}

// StaticHint is the degraded hint used when the model is unavailable.
func StaticHint(cat scenario.CategoryID) Hint {
	h, ok := staticHints[cat]
	if !ok {
		h = staticHints[scenario.CategorySale]
	}
	h.HintPoints = append([]string(nil), h.HintPoints...)
	h.Source = SourceStatic
	h.Degraded = true
	return h
}

// TemplateHint converts a script-pack hint template.
func TemplateHint(t scriptpack.HintTemplate) Hint {
	points := append([]string{}, t.HintPoints...)
	return Hint{HintText: t.HintText, HintPoints: points, Source: SourceFixed}
}
