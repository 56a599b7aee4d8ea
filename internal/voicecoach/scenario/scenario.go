// Package scenario holds the static practice catalog: categories and the
// scenario (persona, goal, constraints) each category is practiced against.
package scenario

type CategoryID string

const (
	CategoryPresale  CategoryID = "presale"
	CategorySale     CategoryID = "sale"
	CategoryPostsale CategoryID = "postsale"
	CategoryCrisis   CategoryID = "crisis"
)

type Category struct {
	ID        CategoryID `json:"id"`
	Name      string     `json:"name"`
	Subtitle  string     `json:"subtitle"`
	Objective string     `json:"objective"`
}

type Scenario struct {
	ID                string     `json:"id"`
	CategoryID        CategoryID `json:"category_id"`
	Name              string     `json:"name"`
	Goal              string     `json:"goal"`
	CustomerPersona   string     `json:"customer_persona"`
	BusinessContext   string     `json:"business_context"`
	SafetyConstraints []string   `json:"safety_constraints"`
	SeedTopics        []string   `json:"seed_topics"`
}

const DefaultScenarioID = "objection_safety"

var categories = []Category{
	{ID: CategoryPresale, Name: "售前", Subtitle: "破冰与需求诊断", Objective: "识别需求、预算、时间与安全顾虑，建立基础信任。"},
	{ID: CategorySale, Name: "售中", Subtitle: "异议处理与推进成交", Objective: "处理价格/安全/效果/对比异议，推动可执行下一步。"},
	{ID: CategoryPostsale, Name: "售后", Subtitle: "复购与裂变", Objective: "复盘效果、安排维护、推动升级与转介绍。"},
	{ID: CategoryCrisis, Name: "危机", Subtitle: "情绪急救与止损", Objective: "先稳情绪，再补救，再转售后流程，不继续硬卖。"},
}

var baseConstraints = []string{
	"禁止虚假承诺（如“100%有效”“一定不复发”）。",
	"避免医疗诊断/治疗结论；可强调规范流程、资质、卫生消毒、风险提示与个体差异。",
	"不要诱导顾客忽略医生建议；可建议如有疾病/不适先咨询医生。",
}

var crisisConstraints = append(append([]string{}, baseConstraints...), "投诉处理中不得推销新项目或办卡。")

var scenarios = map[string]Scenario{
	DefaultScenarioID: {
		ID:                DefaultScenarioID,
		CategoryID:        CategorySale,
		Name:              "异议处理·安全性（胸部安全）",
		Goal:              "在不夸大承诺、不触碰医疗结论的前提下，消除顾客对安全性的顾虑，并引导下一步（看案例/预约体验/了解会员）。",
		CustomerPersona:   "谨慎、担心风险、会反复追问“是否安全/有没有证据/有没有真实案例”。",
		BusinessContext:   "你是一家美容机构的美容师，正在向顾客介绍胸部护理/按摩相关服务与会员卡。",
		SafetyConstraints: baseConstraints,
		SeedTopics:        []string{"胸部安全", "真实案例", "价格贵", "产品信任"},
	},
	"presale_discovery": {
		ID:                "presale_discovery",
		CategoryID:        CategoryPresale,
		Name:              "售前·破冰与需求诊断",
		Goal:              "通过提问了解顾客的需求、预算、时间安排与安全顾虑，给出适合的初步建议并约定体验。",
		CustomerPersona:   "第一次到店，礼貌但有戒心，不愿意一开始就被推销。",
		BusinessContext:   "你是一家美容机构的美容师，正在接待一位新到店的顾客。",
		SafetyConstraints: baseConstraints,
		SeedTopics:        []string{"需求预算", "时间安排", "安全顾虑", "项目适配"},
	},
	"postsale_maintenance": {
		ID:                "postsale_maintenance",
		CategoryID:        CategoryPostsale,
		Name:              "售后·复盘与维护",
		Goal:              "复盘护理效果，给出维护节奏，在顾客认可的前提下推荐升级或转介绍。",
		CustomerPersona:   "老顾客，对上次效果基本满意，关心如何保持效果和是否值得续卡。",
		BusinessContext:   "你是一家美容机构的美容师，正在为做完疗程的顾客做回访。",
		SafetyConstraints: baseConstraints,
		SeedTopics:        []string{"维护计划", "效果复盘", "续卡升级", "转介绍"},
	},
	"crisis_complaint": {
		ID:                "crisis_complaint",
		CategoryID:        CategoryCrisis,
		Name:              "危机·情绪急救与止损",
		Goal:              "先稳定顾客情绪，再给出补救方案与责任说明，转入售后流程，不继续推销。",
		CustomerPersona:   "对服务结果不满，情绪激动，要求说法，对推销非常反感。",
		BusinessContext:   "你是一家美容机构的美容师，正在处理顾客的当面投诉。",
		SafetyConstraints: crisisConstraints,
		SeedTopics:        []string{"情绪急救", "补救方案", "责任说明", "售后跟进"},
	},
}

var categoryScenario = map[CategoryID]string{
	CategoryPresale:  "presale_discovery",
	CategorySale:     DefaultScenarioID,
	CategoryPostsale: "postsale_maintenance",
	CategoryCrisis:   "crisis_complaint",
}

// Get never fails: an unknown or empty id yields the default scenario.
func Get(id string) Scenario {
	if s, ok := scenarios[id]; ok {
		return s
	}
	return scenarios[DefaultScenarioID]
}

func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

func IsCategory(raw string) bool {
	for _, c := range categories {
		if string(c.ID) == raw {
			return true
		}
	}
	return false
}

// NormalizeCategory maps unknown ids to sale.
func NormalizeCategory(raw string) CategoryID {
	if IsCategory(raw) {
		return CategoryID(raw)
	}
	return CategorySale
}

// CategoryByID falls back to sale for unknown ids.
func CategoryByID(id CategoryID) Category {
	for _, c := range categories {
		if c.ID == id {
			return c
		}
	}
	return categories[1]
}

func ForCategory(id CategoryID) Scenario {
	return Get(categoryScenario[NormalizeCategory(string(id))])
}

// Resolve picks the scenario for a session. An explicit category wins; a
// scenario id that names a category selects that category's scenario.
func Resolve(scenarioID, categoryID string) (Scenario, CategoryID) {
	if IsCategory(categoryID) {
		cat := CategoryID(categoryID)
		if s, ok := scenarios[scenarioID]; ok && s.CategoryID == cat {
			return s, cat
		}
		return ForCategory(cat), cat
	}
	if IsCategory(scenarioID) {
		cat := CategoryID(scenarioID)
		return ForCategory(cat), cat
	}
	s := Get(scenarioID)
	return s, s.CategoryID
}

// Opening is a static first customer line used when no seed applies.
type Opening struct {
	Text    string
	Emotion string
	Tag     string
}

var fallbackOpenings = map[CategoryID]Opening{
	CategorySale:     {Text: "医生说美容院不能按胸，这安全吗？", Emotion: "worried", Tag: "胸部安全"},
	CategoryPresale:  {Text: "我第一次来，想先了解下你们会怎么帮我判断适合项目？", Emotion: "neutral", Tag: "需求预算"},
	CategoryPostsale: {Text: "这次做完感觉还可以，后续我该怎么维护效果会更稳？", Emotion: "neutral", Tag: "维护计划"},
	CategoryCrisis:   {Text: "我现在不太满意，先别推项目，先说你们怎么处理这个问题。", Emotion: "impatient", Tag: "情绪急救"},
}

func FallbackOpening(id CategoryID) Opening {
	return fallbackOpenings[NormalizeCategory(string(id))]
}

var fallbackFollowUps = map[CategoryID]Opening{
	CategorySale:     {Text: "你说的这些有没有能证明的？比如资质或者真实案例？", Emotion: "skeptical", Tag: "证据追问"},
	CategoryPresale:  {Text: "那像我这种情况，你们具体会怎么安排？", Emotion: "neutral", Tag: "方案细节"},
	CategoryPostsale: {Text: "那接下来多久来一次比较合适？费用怎么算？", Emotion: "neutral", Tag: "维护计划"},
	CategoryCrisis:   {Text: "你们到底打算怎么补救？什么时候给我答复？", Emotion: "impatient", Tag: "补救方案"},
}

// FallbackFollowUp is the static customer line used when neither the script
// pack nor the model can produce the next one.
func FallbackFollowUp(id CategoryID) Opening {
	return fallbackFollowUps[NormalizeCategory(string(id))]
}
