package coach

import (
	"strings"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
)

const (
	// DefaultCustomerTarget steers generated customer lines after a reply.
	DefaultCustomerTarget = "继续追问并要求更具体证据，推动美容师给出可验证信息"
	openingCustomerTarget = "继续提出疑问/异议，推动美容师给出更有说服力的回复"
)

func formatHistory(history []types.HistoryItem) string {
	if len(history) == 0 {
		return "（无历史对话）"
	}
	lines := make([]string, 0, len(history))
	for _, h := range history {
		who := "美容师"
		emo := ""
		if h.Role == types.RoleCustomer {
			who = "顾客"
			if h.Emotion != "" {
				emo = "（情绪：" + string(h.Emotion) + "）"
			}
		}
		lines = append(lines, who+emo+"："+h.Text)
	}
	return strings.Join(lines, "\n")
}

func customerTurnPrompt(sc scenario.Scenario, history []types.HistoryItem, target string) (string, string) {
	if strings.TrimSpace(target) == "" {
		target = openingCustomerTarget
	}
	system := strings.Join([]string{
		"你在一个微信小程序里扮演“顾客”，用于训练美容师销售话术。",
		"场景：" + sc.Name,
		"商家背景：" + sc.BusinessContext,
		"顾客人设：" + sc.CustomerPersona,
		"要求：只输出严格 JSON，不要任何多余文字。",
		`JSON 结构：{ "text": string, "emotion": "neutral|worried|skeptical|impatient|pleased", "tag": string }`,
		"约束：顾客说话要自然、口语化，长度 10-35 字。",
	}, "\n")
	user := strings.Join([]string{
		"对话历史：",
		formatHistory(history),
		"",
		"本轮目标：" + target,
		"",
		"可用话题标签：" + strings.Join(sc.SeedTopics, " / "),
	}, "\n")
	return system, user
}

func rewritePrompt(sc scenario.Scenario, history []types.HistoryItem, line string, emotion types.Emotion, tag string) (string, string) {
	system := strings.Join([]string{
		"你在一个微信小程序里扮演“顾客”，用于训练美容师销售话术。",
		"场景：" + sc.Name,
		"顾客人设：" + sc.CustomerPersona,
		"任务：把给定的顾客台词改写得更贴合上文，保持原意、情绪和话题不变。",
		"要求：只输出严格 JSON，不要任何多余文字。",
		`JSON 结构：{ "text": string, "emotion": "neutral|worried|skeptical|impatient|pleased", "tag": string }`,
		"约束：口语化，长度 10-35 字；不要引入新的话题。",
	}, "\n")
	user := strings.Join([]string{
		"对话历史：",
		formatHistory(history),
		"",
		"原台词：" + line,
		"原情绪：" + string(emotion),
		"原话题标签：" + tag,
	}, "\n")
	return system, user
}

func analysisPrompt(sc scenario.Scenario, history []types.HistoryItem, customer types.HistoryItem, beauticianText string) (string, string) {
	system := strings.Join([]string{
		"你是美业销售话术教练。",
		"场景：" + sc.Name,
		"商家背景：" + sc.BusinessContext,
		"任务：评价美容师这一句回复，输出严格 JSON。",
		"只输出严格 JSON，不要任何多余文字。",
		"JSON 结构：",
		"{",
		`  "suggestions": [string,string,string],`,
		`  "polished": string,`,
		`  "highlights": [{ "start": number, "end": number, "label": string, "severity": "info|warn|bad" }],`,
		`  "risk_notes": string[]`,
		"}",
		"约束：",
		"1) suggestions 必须是 3 条、可执行、具体。",
		"2) polished 要可直接照读，长度 40-220 字。",
		"3) 合规：不要给医疗诊断/疗效承诺/虚假数据。",
	}, "\n")
	user := strings.Join([]string{
		"对话历史（最近信息更重要）：",
		formatHistory(history),
		"",
		"顾客本句：" + customer.Text,
		"美容师本句：" + beauticianText,
	}, "\n")
	return system, user
}

func hintPrompt(sc scenario.Scenario, history []types.HistoryItem, customer types.HistoryItem) (string, string) {
	system := strings.Join([]string{
		"你是美业销售话术教练。",
		"场景：" + sc.Name,
		"任务：给出本轮“适宜话术”的提示，鼓励美容师用自己的话表达。",
		"只输出严格 JSON。",
		`JSON 结构：{ "hint_text": string, "hint_points": string[] }`,
		"约束：hint_text 80-160 字；hint_points 最多 3 条。",
		"合规约束：不要给出医疗诊断/治疗结论；不要夸大承诺。",
	}, "\n")
	user := strings.Join([]string{
		"对话历史：",
		formatHistory(history),
		"",
		"顾客本句：" + customer.Text,
	}, "\n")
	return system, user
}
