package scriptpack

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
)

const RecommendStrategy = "weakest_dimensions"

type weightedCategory struct {
	cat    scenario.CategoryID
	weight float64
}

var dimensionCategoryWeights = map[string][]weightedCategory{
	"persuasion":    {{scenario.CategorySale, 0.6}, {scenario.CategoryCrisis, 0.4}},
	"organization":  {{scenario.CategoryPresale, 0.5}, {scenario.CategorySale, 0.5}},
	"fluency":       {{scenario.CategoryPostsale, 0.6}, {scenario.CategoryPresale, 0.4}},
	"expression":    {{scenario.CategoryPresale, 0.5}, {scenario.CategoryPostsale, 0.5}},
	"pronunciation": {{scenario.CategoryPresale, 0.7}, {scenario.CategoryPostsale, 0.3}},
}

type ReportBasis struct {
	WeakestDimensions []string           `json:"weakest_dimensions"`
	Scores            map[string]float64 `json:"scores"`
}

type Recommendation struct {
	CategoryID    scenario.CategoryID `json:"category_id"`
	Reason        string              `json:"reason"`
	BasedOnReport ReportBasis         `json:"based_on_report"`
	Strategy      string              `json:"strategy"`
}

// RecommendCategory maps the two weakest report dimensions onto the
// category that trains them most. Without scores it recommends sale.
func RecommendCategory(scores map[string]float64) Recommendation {
	if len(scores) == 0 {
		return Recommendation{
			CategoryID:    scenario.CategorySale,
			Reason:        "默认先练售中异议处理，再按报告短板动态推荐。",
			BasedOnReport: ReportBasis{WeakestDimensions: []string{}, Scores: map[string]float64{}},
			Strategy:      RecommendStrategy,
		}
	}

	dims := make([]string, 0, len(scores))
	for d := range scores {
		dims = append(dims, d)
	}
	sort.Slice(dims, func(i, j int) bool {
		if scores[dims[i]] != scores[dims[j]] {
			return scores[dims[i]] < scores[dims[j]]
		}
		return dims[i] < dims[j]
	})
	weakest := dims
	if len(weakest) > 2 {
		weakest = weakest[:2]
	}

	cats := scenario.Categories()
	totals := make(map[scenario.CategoryID]float64, len(cats))
	for i, dim := range weakest {
		dimWeight := 1.0
		if i > 0 {
			dimWeight = 0.8
		}
		for _, wc := range dimensionCategoryWeights[dim] {
			totals[wc.cat] += wc.weight * dimWeight
		}
	}
	ranked := make([]scenario.CategoryID, 0, len(cats))
	for _, c := range cats {
		ranked = append(ranked, c.ID)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return totals[ranked[i]] > totals[ranked[j]]
	})
	chosen := ranked[0]

	copied := make(map[string]float64, len(scores))
	for k, v := range scores {
		copied[k] = v
	}
	return Recommendation{
		CategoryID:    chosen,
		Reason:        fmt.Sprintf("根据上次短板维度（%s）优先推荐 %s 训练。", strings.Join(weakest, "、"), scenario.CategoryByID(chosen).Name),
		BasedOnReport: ReportBasis{WeakestDimensions: append([]string{}, weakest...), Scores: copied},
		Strategy:      RecommendStrategy,
	}
}
