// Package scriptpack loads the scripted dialogue material for practice
// sessions: customer lines, the per-category intent graph, opening seeds and
// fixed coaching templates. The YAML is embedded; VOICE_COACH_SCRIPT_PACK_DIR
// points at a directory that overrides it file by file.
package scriptpack

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
)

const packDirEnv = "VOICE_COACH_SCRIPT_PACK_DIR"

const PolicyVersion = "v1"

//go:embed *.yaml
var packFS embed.FS

var ErrNoCustomerLines = errors.New("voice_coach_no_customer_lines")

type CustomerLine struct {
	LineID          string              `yaml:"line_id" json:"line_id"`
	CategoryID      scenario.CategoryID `yaml:"category_id" json:"category_id"`
	IntentID        string              `yaml:"intent_id" json:"intent_id"`
	AngleID         string              `yaml:"angle_id" json:"angle_id"`
	Difficulty      int                 `yaml:"difficulty" json:"difficulty"`
	Text            string              `yaml:"text" json:"text"`
	Emotion         types.Emotion       `yaml:"emotion" json:"emotion"`
	Tag             string              `yaml:"tag" json:"tag"`
	Tone            string              `yaml:"tone" json:"tone"`
	ComplianceFlags []string            `yaml:"compliance_flags" json:"compliance_flags"`
	AudioSeedPath   string              `yaml:"audio_seed_path" json:"audio_seed_path,omitempty"`
}

type OpeningSeed struct {
	LineID        string        `yaml:"line_id" json:"line_id"`
	IntentID      string        `yaml:"intent_id" json:"intent_id"`
	AngleID       string        `yaml:"angle_id" json:"angle_id"`
	Text          string        `yaml:"text" json:"text"`
	Emotion       types.Emotion `yaml:"emotion" json:"emotion"`
	Tag           string        `yaml:"tag" json:"tag"`
	AudioSeedPath string        `yaml:"audio_seed_path" json:"audio_seed_path"`
	AudioSeconds  *float64      `yaml:"audio_seconds" json:"audio_seconds,omitempty"`
}

type HintTemplate struct {
	CategoryID scenario.CategoryID `yaml:"category_id" json:"category_id"`
	IntentID   string              `yaml:"intent_id" json:"intent_id"`
	HintText   string              `yaml:"hint_text" json:"hint_text"`
	HintPoints []string            `yaml:"hint_points" json:"hint_points"`
}

type AnalysisTemplate struct {
	CategoryID  scenario.CategoryID `yaml:"category_id" json:"category_id"`
	IntentID    string              `yaml:"intent_id" json:"intent_id"`
	Suggestions []string            `yaml:"suggestions" json:"suggestions"`
	Polished    string              `yaml:"polished" json:"polished"`
}

type CrisisGoalTemplate struct {
	GoalTemplateID string `yaml:"goal_template_id" json:"goal_template_id"`
	Name           string `yaml:"name" json:"name"`
	Description    string `yaml:"description" json:"description"`
	DefaultGoal    string `yaml:"default_goal" json:"default_goal"`
}

type IntentNode struct {
	IntentID string   `yaml:"intent_id"`
	Angles   []string `yaml:"angles"`
}

type LoopGuard struct {
	StagnationThreshold int `yaml:"stagnation_threshold"`
	MaxSameIntentRounds int `yaml:"max_same_intent_rounds"`
}

type yamlLines struct {
	Lines []CustomerLine `yaml:"lines"`
}

type yamlOpenings struct {
	Openings map[scenario.CategoryID][]OpeningSeed `yaml:"openings"`
}

type yamlTemplates struct {
	HintTemplates       []HintTemplate       `yaml:"hint_templates"`
	AnalysisTemplates   []AnalysisTemplate   `yaml:"analysis_templates"`
	CrisisGoalTemplates []CrisisGoalTemplate `yaml:"crisis_goal_templates"`
}

type yamlGraph struct {
	LoopGuard  LoopGuard `yaml:"loop_guard"`
	Categories map[scenario.CategoryID]struct {
		Intents []IntentNode `yaml:"intents"`
	} `yaml:"categories"`
}

type Pack struct {
	lines       []CustomerLine
	openings    map[scenario.CategoryID][]OpeningSeed
	hints       []HintTemplate
	analyses    []AnalysisTemplate
	crisisGoals []CrisisGoalTemplate
	graph       map[scenario.CategoryID][]IntentNode
	loopGuard   LoopGuard
}

var (
	defaultOnce sync.Once
	defaultPack *Pack
	defaultErr  error
)

// Default returns the process-wide pack. A load failure is logged once and
// yields an empty pack, which makes every caller use its static fallbacks.
func Default(log *logger.Logger) *Pack {
	defaultOnce.Do(func() {
		defaultPack, defaultErr = Load()
		if defaultErr != nil {
			if log != nil {
				log.Warn("scriptpack: load failed; using empty pack", "error", defaultErr)
			}
			defaultPack = &Pack{
				openings: map[scenario.CategoryID][]OpeningSeed{},
				graph:    map[scenario.CategoryID][]IntentNode{},
			}
		}
	})
	return defaultPack
}

func Load() (*Pack, error) {
	var lines yamlLines
	if err := decodeFile("customer_lines.v1.yaml", &lines); err != nil {
		return nil, err
	}
	var openings yamlOpenings
	if err := decodeFile("openings.v1.yaml", &openings); err != nil {
		return nil, err
	}
	var templates yamlTemplates
	if err := decodeFile("coach_templates.v1.yaml", &templates); err != nil {
		return nil, err
	}
	var graph yamlGraph
	if err := decodeFile("intent_graph.v1.yaml", &graph); err != nil {
		return nil, err
	}

	p := &Pack{
		lines:       lines.Lines,
		openings:    openings.Openings,
		hints:       templates.HintTemplates,
		analyses:    templates.AnalysisTemplates,
		crisisGoals: templates.CrisisGoalTemplates,
		graph:       map[scenario.CategoryID][]IntentNode{},
		loopGuard:   graph.LoopGuard,
	}
	if p.openings == nil {
		p.openings = map[scenario.CategoryID][]OpeningSeed{}
	}
	for cat, g := range graph.Categories {
		p.graph[cat] = g.Intents
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeFile(name string, out any) error {
	data, err := readPackFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func readPackFile(name string) ([]byte, error) {
	if dir := strings.TrimSpace(os.Getenv(packDirEnv)); dir != "" {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return os.ReadFile(path)
		}
	}
	return packFS.ReadFile(name)
}

func (p *Pack) validate() error {
	seen := map[string]bool{}
	for _, line := range p.lines {
		if strings.TrimSpace(line.LineID) == "" {
			return errors.New("customer line without line_id")
		}
		if seen[line.LineID] {
			return fmt.Errorf("duplicate line_id: %s", line.LineID)
		}
		seen[line.LineID] = true
		if !scenario.IsCategory(string(line.CategoryID)) {
			return fmt.Errorf("line %s: unknown category %q", line.LineID, line.CategoryID)
		}
		if strings.TrimSpace(line.Text) == "" {
			return fmt.Errorf("line %s: empty text", line.LineID)
		}
	}
	for cat, nodes := range p.graph {
		for _, n := range nodes {
			if n.IntentID == "" || len(n.Angles) == 0 {
				return fmt.Errorf("intent graph %s: incomplete node %q", cat, n.IntentID)
			}
		}
	}
	return nil
}

func (p *Pack) Lines() []CustomerLine {
	return append([]CustomerLine(nil), p.lines...)
}

// HintTemplate prefers an exact (category, intent) match, then the first
// template of the category.
func (p *Pack) HintTemplate(cat scenario.CategoryID, intentID string) (HintTemplate, bool) {
	for _, t := range p.hints {
		if t.CategoryID == cat && t.IntentID == intentID {
			return t, true
		}
	}
	for _, t := range p.hints {
		if t.CategoryID == cat {
			return t, true
		}
	}
	return HintTemplate{}, false
}

func (p *Pack) AnalysisTemplate(cat scenario.CategoryID, intentID string) (AnalysisTemplate, bool) {
	for _, t := range p.analyses {
		if t.CategoryID == cat && t.IntentID == intentID {
			return t, true
		}
	}
	for _, t := range p.analyses {
		if t.CategoryID == cat {
			return t, true
		}
	}
	return AnalysisTemplate{}, false
}

func (p *Pack) CrisisGoalTemplates() []CrisisGoalTemplate {
	return append([]CrisisGoalTemplate(nil), p.crisisGoals...)
}

func (p *Pack) CrisisGoalTemplate(id string) (CrisisGoalTemplate, bool) {
	for _, t := range p.crisisGoals {
		if t.GoalTemplateID == id {
			return t, true
		}
	}
	return CrisisGoalTemplate{}, false
}

// PickOpeningSeed chooses a category opening deterministically per user and
// recommended dimension.
func (p *Pack) PickOpeningSeed(cat scenario.CategoryID, dimension string, userID string) (OpeningSeed, bool) {
	list := p.openings[cat]
	if len(list) == 0 {
		return OpeningSeed{}, false
	}
	seed := fmt.Sprintf("%s|%s|%s", cat, dimension, userID)
	selected := list[quickHash(seed)%uint32(len(list))]
	selected.Emotion = types.NormalizeEmotion(string(selected.Emotion), types.EmotionSkeptical)
	selected.Tag = normalizeTag(selected.Tag, "开场追问")
	return selected, true
}

func (p *Pack) intentNodes(cat scenario.CategoryID) []IntentNode {
	if nodes := p.graph[cat]; len(nodes) > 0 {
		return nodes
	}
	for _, line := range p.lines {
		if line.CategoryID == cat {
			return []IntentNode{{IntentID: line.IntentID, Angles: []string{line.AngleID}}}
		}
	}
	return []IntentNode{{IntentID: "general_followup", Angles: []string{"default"}}}
}

// InitialPolicyState positions the cursor on the opening's intent and angle
// when the graph knows them.
func (p *Pack) InitialPolicyState(cat scenario.CategoryID, goalTemplateID, goalCustom *string, openingIntent, openingAngle string) types.PolicyState {
	nodes := p.intentNodes(cat)
	intentIndex, angleIndex := 0, 0
	if openingIntent != "" {
		for i, n := range nodes {
			if n.IntentID != openingIntent {
				continue
			}
			intentIndex = i
			for j, a := range n.Angles {
				if a == openingAngle {
					angleIndex = j
					break
				}
			}
			break
		}
	}
	return types.PolicyState{
		Version:        PolicyVersion,
		CategoryID:     string(cat),
		IntentIndex:    intentIndex,
		AngleIndex:     angleIndex,
		UsedLineIDs:    []string{},
		GoalTemplateID: goalTemplateID,
		GoalCustom:     goalCustom,
	}
}

func normalizeTag(raw, fallback string) string {
	if tag := strings.TrimSpace(raw); tag != "" {
		return tag
	}
	return fallback
}
