package coach

import (
	"strings"
	"unicode/utf8"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scriptpack"
)

type riskRule struct {
	phrases []string
	label   string
	note    string
}

var riskRules = []riskRule{
	{
		phrases: []string{"100%", "百分百", "百分之百"},
		label:   "绝对化承诺",
		note:    "避免承诺100%效果，说明个体差异。",
	},
	{
		phrases: []string{"保证"},
		label:   "效果保证",
		note:    "不要“保证”效果，改为介绍规范流程和真实案例。",
	},
	{
		phrases: []string{"没有风险", "零风险", "无风险"},
		label:   "风险否认",
		note:    "不要宣称没有风险，应说明风险提示和应对措施。",
	},
	{
		phrases: []string{"绝对"},
		label:   "绝对化用语",
		note:    "避免“绝对”等绝对化用语。",
	},
	{
		phrases: []string{"一定"},
		label:   "确定性承诺",
		note:    "避免“一定有效”这类确定性表述。",
	},
	{
		phrases: []string{"治疗", "治好", "根治"},
		label:   "医疗表述",
		note:    "避免医疗诊断或治疗结论，如有不适建议先咨询医生。",
	},
}

// DetectRisks scans a reply for absolute promises and medical claims. Each
// rule reports at most once; highlight offsets are rune indices into text.
func DetectRisks(text string) ([]string, []types.Highlight) {
	var (
		notes      []string
		highlights []types.Highlight
	)
	for _, rule := range riskRules {
		for _, phrase := range rule.phrases {
			idx := strings.Index(text, phrase)
			if idx < 0 {
				continue
			}
			start := utf8.RuneCountInString(text[:idx])
			notes = append(notes, rule.note)
			highlights = append(highlights, types.Highlight{
				Start:    start,
				End:      start + utf8.RuneCountInString(phrase),
				Label:    rule.label,
				Severity: types.SeverityBad,
			})
			break
		}
	}
	return notes, highlights
}

// MergeRisks folds rule-based findings into an analysis without duplicating
// notes the model already produced.
func MergeRisks(a types.TurnAnalysis, beauticianText string) types.TurnAnalysis {
	notes, highlights := DetectRisks(beauticianText)
	if len(notes) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a.RiskNotes))
	for _, n := range a.RiskNotes {
		seen[n] = true
	}
	for _, n := range notes {
		if !seen[n] {
			a.RiskNotes = append(a.RiskNotes, n)
			seen[n] = true
		}
	}
	for _, h := range highlights {
		if !hasHighlight(a.Highlights, h) {
			a.Highlights = append(a.Highlights, h)
		}
	}
	return a
}

func hasHighlight(list []types.Highlight, h types.Highlight) bool {
	for _, x := range list {
		if x.Start == h.Start && x.End == h.End && x.Severity == h.Severity {
			return true
		}
	}
	return false
}

// FromTemplate builds a fixed analysis from a script-pack template.
func FromTemplate(t scriptpack.AnalysisTemplate) types.TurnAnalysis {
	suggestions := t.Suggestions
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	return types.TurnAnalysis{
		Suggestions: append([]string(nil), suggestions...),
		Polished:    t.Polished,
		Highlights:  []types.Highlight{},
		RiskNotes:   []string{},
		Source:      SourceFixed,
	}
}
