package report

import (
	"fmt"
	"strings"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/metrics"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
)

const (
	defaultObjection = "顾客对项目安全性存在担忧。"
	defaultImproved  = "姐，您这个担心非常正常。我们这项护理会先做情况评估，再按标准流程操作，并且全程有卫生消毒与风险提示。如果您有特殊情况也建议先咨询医生。您更在意的是安全性还是效果？我可以给您看一些真实案例对比与顾客反馈。"
	defaultAdvice    = "建议先共情顾客担忧，再给出可验证的信息（流程/资质/保障），最后提出明确下一步（看案例/预约体验）。"
)

func persuasionTab(sc scenario.Scenario, customers, beauticians []*types.Turn, score float64) PersuasionTab {
	var tags []string
	seen := map[string]bool{}
	for _, c := range customers {
		tag := strings.TrimSpace(c.FeaturesValue().Tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	if len(tags) == 0 {
		tags = append([]string{}, sc.SeedTopics...)
	}

	objection := defaultObjection
	if len(customers) > 0 && strings.TrimSpace(customers[0].Text) != "" {
		objection = customers[0].Text
	}
	response := "（暂无）"
	improved := defaultImproved
	advice := defaultAdvice
	if len(beauticians) > 0 {
		first := beauticians[0]
		if strings.TrimSpace(first.Text) != "" {
			response = first.Text
		}
		if a := first.AnalysisValue(); a != nil {
			if p := strings.TrimSpace(a.Polished); p != "" {
				improved = p
			}
			var sugg []string
			for _, s := range a.Suggestions {
				if s = strings.TrimSpace(s); s != "" {
					sugg = append(sugg, s)
				}
				if len(sugg) == 3 {
					break
				}
			}
			if len(sugg) > 0 {
				advice = strings.Join(sugg, "；")
			}
		}
	}

	status := "有待改进"
	if score >= 80 {
		status = "良好"
	}
	return PersuasionTab{
		Title: dimensionNames[DimPersuasion],
		Submetrics: []Submetric{{
			Name:            "异议处理",
			Status:          status,
			Stars:           metrics.ScoreToStars(score),
			AdviceParagraph: advice,
		}},
		Tags:              tags,
		CustomerObjection: objection,
		YourResponse:      response,
		ImprovedResponse:  improved,
	}
}

func fluencyTab(avgWpm *float64, score, chartSeconds float64) FluencyTab {
	band := metrics.DefaultTargetWPM
	status := "一般"
	advice := "建议保持语速稳定，重点信息放慢一点，让顾客更容易理解。"
	curve := 220.0
	if avgWpm != nil {
		w := *avgWpm
		curve = w
		switch {
		case w > band[1]:
			status = "过快"
			advice = fmt.Sprintf("你的平均语速在 %.2f 字/分钟，偏快，建议放慢到 %.0f-%.0f。", w, band[0], band[1])
		case w < band[0]:
			status = "过慢"
			advice = fmt.Sprintf("你的平均语速在 %.2f 字/分钟，偏慢，建议提升到 %.0f-%.0f。", w, band[0], band[1])
		default:
			status = "适中"
			advice = fmt.Sprintf("你的平均语速在 %.2f 字/分钟，整体适中。", w)
		}
	}
	return FluencyTab{
		Title: dimensionNames[DimFluency],
		Submetrics: []Submetric{
			{Name: "语速", Status: status, Stars: metrics.ScoreToStars(score), AdviceParagraph: advice},
			{Name: "停顿", Status: "有待改进", Stars: 3, AdviceParagraph: "不恰当的停顿可能让表达不自然。建议提前规划好要点，关键句之间做短停顿即可。"},
		},
		AvgSpeedWPM:      roundPtr(avgWpm, 2),
		TargetSpeedRange: band,
		Charts: []Chart{
			{ID: "speech_rate_curve", Label: "语速变化曲线", Unit: "字/分钟", TargetRange: band, Points: buildConstantCurve(chartSeconds, curve)},
			{ID: "pause_curve", Label: "停顿变化曲线", Unit: "占比", TargetRange: [2]float64{0.05, 0.18}, Points: buildConstantCurve(chartSeconds, 0.12)},
		},
	}
}

func expressionTab(avgFiller *float64, score, chartSeconds float64) ExpressionTab {
	status := "一般"
	advice := "建议减少“嗯/那个/就是”等口头禅，让表达更直接简洁。"
	if avgFiller != nil {
		if *avgFiller < 0.04 {
			status = "无冗余词"
			advice = "非常棒，冗余词占比低于 4%，能让语言表达更直接和简洁。"
		} else {
			status = "有待改进"
			advice = "冗余词偏多，建议有意识减少口头禅，必要时用短停顿替代。"
		}
	}
	return ExpressionTab{
		Title: dimensionNames[DimExpression],
		Submetrics: []Submetric{
			{Name: "冗余词", Status: status, Stars: metrics.ScoreToStars(score), AdviceParagraph: advice},
			{Name: "语调", Status: "相对单调", Stars: 3, AdviceParagraph: "建议在关键句提升语调或放慢语速，强化重点与情绪共鸣，让表达更有感染力。"},
		},
		FillerRatio: roundPtr(avgFiller, 4),
		Charts: []Chart{
			{ID: "pitch_curve", Label: "语调变化曲线", Unit: "相对值", TargetRange: [2]float64{0.3, 0.7}, Points: buildConstantCurve(chartSeconds, 0.5)},
		},
	}
}

func pronunciationTab(avgConf *float64, score, chartSeconds float64) PronunciationTab {
	status := "一般"
	advice := "建议保持吐字清晰，避免含糊，必要时放慢语速。"
	curve := 82.0
	if avgConf != nil {
		curve = round(*avgConf*100, 1)
		if *avgConf >= 0.78 {
			status = "清晰"
			advice = "非常棒，发音清晰度高，听众能轻松理解你所表达的意思。"
		} else {
			status = "有待改进"
			advice = "清晰度有提升空间，建议放慢语速并强化关键字发音。"
		}
	}
	return PronunciationTab{
		Title: dimensionNames[DimPronunciation],
		Submetrics: []Submetric{
			{Name: "清晰度", Status: status, Stars: metrics.ScoreToStars(score), AdviceParagraph: advice},
		},
		Charts: []Chart{
			{ID: "clarity_curve", Label: "清晰度变化曲线", Unit: "分", TargetRange: [2]float64{75, 95}, Points: buildConstantCurve(chartSeconds, curve)},
		},
	}
}

func organizationTab(beauticians []*types.Turn, score float64) OrganizationTab {
	status := "有待改进"
	switch {
	case score >= 80:
		status = "良好"
	case score >= 65:
		status = "一般"
	}
	examples := []AudioExample{}
	for _, b := range beauticians {
		if b.AudioPath == nil || *b.AudioPath == "" {
			continue
		}
		examples = append(examples, AudioExample{
			TurnID:       b.ID,
			AudioPath:    *b.AudioPath,
			AudioSeconds: b.AudioSeconds,
		})
		if len(examples) == maxAudioExamples {
			break
		}
	}
	return OrganizationTab{
		Title: dimensionNames[DimOrganization],
		Submetrics: []Submetric{{
			Name:            "逻辑性",
			Status:          status,
			Stars:           metrics.ScoreToStars(score),
			AdviceParagraph: "建议用“三段式”组织：先共情与确认问题，再给信息与证据，最后给明确下一步（案例/体验/预约）。",
		}},
		AdviceParagraph: "你的回答整体能被理解，但在“信息具体度”和“推进下一步”上还有空间。建议每次只讲 1-2 个核心优势，并补充可验证细节（流程/资质/案例/保障），最后抛出一个明确问题或行动指令。",
		AudioExamples:   examples,
	}
}
