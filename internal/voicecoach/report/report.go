// Package report reduces a finished session's turn log into the five
// dimension coaching report.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/metrics"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
)

const (
	DimPersuasion    = "persuasion"
	DimFluency       = "fluency"
	DimExpression    = "expression"
	DimPronunciation = "pronunciation"
	DimOrganization  = "organization"

	maxAudioExamples = 3
	maxTags          = 6
)

// Weights sum to 1.
var Weights = map[string]float64{
	DimPersuasion:    0.25,
	DimFluency:       0.20,
	DimExpression:    0.20,
	DimPronunciation: 0.15,
	DimOrganization:  0.20,
}

const (
	defaultPersuasion   = 66
	defaultOrganization = 64
)

type Dimension struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	Stars int     `json:"stars"`
}

type Submetric struct {
	Name            string `json:"name"`
	Status          string `json:"status"`
	Stars           int    `json:"stars"`
	AdviceParagraph string `json:"advice_paragraph"`
}

type Point struct {
	X int     `json:"x"`
	Y float64 `json:"y"`
}

type Chart struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Unit        string     `json:"unit"`
	TargetRange [2]float64 `json:"target_range"`
	Points      []Point    `json:"points"`
}

type PersuasionTab struct {
	Title             string      `json:"title"`
	Submetrics        []Submetric `json:"submetrics"`
	Tags              []string    `json:"tags"`
	CustomerObjection string      `json:"customer_objection"`
	YourResponse      string      `json:"your_response"`
	ImprovedResponse  string      `json:"improved_response"`
}

type FluencyTab struct {
	Title            string      `json:"title"`
	Submetrics       []Submetric `json:"submetrics"`
	AvgSpeedWPM      *float64    `json:"avg_speed_wpm"`
	TargetSpeedRange [2]float64  `json:"target_speed_range"`
	Charts           []Chart     `json:"charts"`
}

type ExpressionTab struct {
	Title       string      `json:"title"`
	Submetrics  []Submetric `json:"submetrics"`
	FillerRatio *float64    `json:"filler_ratio"`
	Charts      []Chart     `json:"charts"`
}

type PronunciationTab struct {
	Title      string      `json:"title"`
	Submetrics []Submetric `json:"submetrics"`
	Charts     []Chart     `json:"charts"`
}

type AudioExample struct {
	TurnID       uuid.UUID `json:"turn_id"`
	AudioPath    string    `json:"audio_path"`
	AudioSeconds *float64  `json:"audio_seconds"`
	AudioURL     *string   `json:"audio_url,omitempty"`
}

type OrganizationTab struct {
	Title           string         `json:"title"`
	Submetrics      []Submetric    `json:"submetrics"`
	AdviceParagraph string         `json:"advice_paragraph"`
	AudioExamples   []AudioExample `json:"audio_examples"`
}

type Tabs struct {
	Persuasion    PersuasionTab    `json:"persuasion"`
	Fluency       FluencyTab       `json:"fluency"`
	Expression    ExpressionTab    `json:"expression"`
	Pronunciation PronunciationTab `json:"pronunciation"`
	Organization  OrganizationTab  `json:"organization"`
}

type Report struct {
	TotalScore    float64     `json:"total_score"`
	Dimension     []Dimension `json:"dimension"`
	SummaryBlocks []string    `json:"summary_blocks"`
	Tabs          Tabs        `json:"tabs"`
}

// Scores returns dimension id → score, the shape stored in
// sessions.dimension_scores.
func (r Report) Scores() map[string]float64 {
	out := make(map[string]float64, len(r.Dimension))
	for _, d := range r.Dimension {
		out[d.ID] = d.Score
	}
	return out
}

type exchange struct {
	customer   *types.Turn
	beautician *types.Turn
}

// Generate is a pure function of sc and turns; equal inputs give equal
// reports.
func Generate(sc scenario.Scenario, turns []*types.Turn) Report {
	sorted := make([]*types.Turn, 0, len(turns))
	for _, t := range turns {
		if t != nil {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TurnIndex < sorted[j].TurnIndex })

	byIndex := make(map[int]*types.Turn, len(sorted))
	var customers, beauticians []*types.Turn
	for _, t := range sorted {
		byIndex[t.TurnIndex] = t
		switch t.Role {
		case types.RoleCustomer:
			customers = append(customers, t)
		case types.RoleBeautician:
			beauticians = append(beauticians, t)
		}
	}
	var exchanges []exchange
	for _, b := range beauticians {
		c, ok := byIndex[b.TurnIndex-1]
		if !ok || c.Role != types.RoleCustomer {
			continue
		}
		exchanges = append(exchanges, exchange{customer: c, beautician: b})
	}

	var wpms, fillers, confs []*float64
	var totalSeconds float64
	for _, b := range beauticians {
		wpms = append(wpms, metrics.WordsPerMinute(b.Text, b.AudioSeconds))
		fillers = append(fillers, metrics.FillerRatio(b.Text))
		confs = append(confs, b.AsrConfidence)
		if b.AudioSeconds != nil && *b.AudioSeconds > 0 {
			totalSeconds += *b.AudioSeconds
		}
	}
	avgWpm := safeAvg(wpms)
	avgFiller := safeAvg(fillers)
	avgConf := safeAvg(confs)

	persuasion, organization := textScores(exchanges)
	fluency := metrics.Round1(metrics.ScoreFluencyFromWpm(avgWpm, metrics.DefaultTargetWPM))
	expression := metrics.Round1(metrics.ScoreExpressionFromFillerRatio(avgFiller))
	pronunciation := metrics.Round1(metrics.ScorePronunciationFromAsrConfidence(avgConf))

	scores := map[string]float64{
		DimPersuasion:    persuasion,
		DimFluency:       fluency,
		DimExpression:    expression,
		DimPronunciation: pronunciation,
		DimOrganization:  organization,
	}
	total := 0.0
	for _, id := range dimensionOrder {
		total += scores[id] * Weights[id]
	}

	chartSeconds := totalSeconds
	if chartSeconds == 0 {
		chartSeconds = 30
	}

	rep := Report{
		TotalScore:    metrics.Round1(metrics.ClampScore(total)),
		SummaryBlocks: summaryBlocks(scores),
	}
	for _, id := range dimensionOrder {
		rep.Dimension = append(rep.Dimension, Dimension{
			ID:    id,
			Name:  dimensionNames[id],
			Score: scores[id],
			Stars: metrics.ScoreToStars(scores[id]),
		})
	}
	rep.Tabs.Persuasion = persuasionTab(sc, customers, beauticians, persuasion)
	rep.Tabs.Fluency = fluencyTab(avgWpm, fluency, chartSeconds)
	rep.Tabs.Expression = expressionTab(avgFiller, expression, chartSeconds)
	rep.Tabs.Pronunciation = pronunciationTab(avgConf, pronunciation, chartSeconds)
	rep.Tabs.Organization = organizationTab(beauticians, organization)
	return rep
}

var dimensionOrder = []string{DimPersuasion, DimFluency, DimExpression, DimPronunciation, DimOrganization}

var dimensionNames = map[string]string{
	DimPersuasion:    "说服力",
	DimFluency:       "流利度",
	DimExpression:    "语言表达",
	DimPronunciation: "发音准确度",
	DimOrganization:  "语言组织",
}

func safeAvg(vals []*float64) *float64 {
	sum, n := 0.0, 0
	for _, v := range vals {
		if v == nil {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

var organizationCues = [][]string{
	{"理解", "担心", "放心", "您"},
	{"案例", "资质", "流程", "认证"},
	{"预约", "体验", "安排", "下一步"},
}

// textScores averages per-exchange persuasion and organization scores over
// exchanges whose beautician turn carries an analysis.
func textScores(exchanges []exchange) (float64, float64) {
	var pSum, oSum float64
	n := 0
	for _, ex := range exchanges {
		a := ex.beautician.AnalysisValue()
		if a == nil {
			continue
		}
		var info, warn, bad int
		for _, h := range a.Highlights {
			switch h.Severity {
			case types.SeverityInfo:
				info++
			case types.SeverityWarn:
				warn++
			case types.SeverityBad:
				bad++
			}
		}
		p := 80 - 8*float64(bad) - 4*float64(warn) + 2*float64(info) - 6*float64(len(a.RiskNotes))
		pSum += metrics.ClampScore(p)

		o := 74 - 5*float64(warn) - 8*float64(bad)
		for _, group := range organizationCues {
			for _, cue := range group {
				if strings.Contains(ex.beautician.Text, cue) {
					o += 4
					break
				}
			}
		}
		o = metrics.ClampScore(o)
		if metrics.CountChineseChars(ex.beautician.Text) < 10 {
			o = metrics.ClampScore(o - 10)
		}
		oSum += o
		n++
	}
	if n == 0 {
		return defaultPersuasion, defaultOrganization
	}
	return metrics.Round1(pSum / float64(n)), metrics.Round1(oSum / float64(n))
}

func summaryBlocks(scores map[string]float64) []string {
	weakest := make([]string, len(dimensionOrder))
	copy(weakest, dimensionOrder)
	sort.SliceStable(weakest, func(i, j int) bool { return scores[weakest[i]] < scores[weakest[j]] })
	return []string{
		"你在沟通中整体态度专业，能回应顾客关注点，这是很好的基础。",
		"建议在关键异议上补充更具体的信息与证据（流程、保障、案例、下一步安排），并控制语速与表达层次，让顾客更容易跟上并建立信任。",
		fmt.Sprintf("本次相对薄弱的维度是「%s」和「%s」，下次练习可重点关注。", dimensionNames[weakest[0]], dimensionNames[weakest[1]]),
	}
}

func buildConstantCurve(totalSeconds float64, value float64) []Point {
	t := int(math.Round(totalSeconds))
	if t < 1 {
		t = 1
	}
	if t > 120 {
		t = 120
	}
	points := make([]Point, 0, t+1)
	for x := 0; x <= t; x++ {
		points = append(points, Point{X: x, Y: value})
	}
	return points
}

func round(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	return math.Round(v*p) / p
}

func roundPtr(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	r := round(*v, places)
	return &r
}
