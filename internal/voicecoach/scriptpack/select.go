package scriptpack

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf16"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/scenario"
)

const maxUsedLineIDs = 180

var signalPatterns = []struct {
	re  *regexp.Regexp
	key string
}{
	{regexp.MustCompile(`安全|风险|卫生|禁忌|评估|规范|资质|认证`), "safety"},
	{regexp.MustCompile(`价格|预算|贵|性价比|折扣|优惠|套餐`), "price"},
	{regexp.MustCompile(`案例|前后|对比|反馈|证据|品牌|认证`), "proof"},
	{regexp.MustCompile(`时间|频次|周期|复访|安排|节奏`), "schedule"},
	{regexp.MustCompile(`售后|补救|处理|责任|投诉|跟进`), "aftercare"},
}

// quickHash is h = h*131 + unit over UTF-16 code units, mod 2^32.
func quickHash(s string) uint32 {
	var h uint32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*131 + uint32(u)
	}
	return h
}

// signal is the sorted set of topic keys a beautician reply touches.
func signal(text string) string {
	var hits []string
	for _, p := range signalPatterns {
		if p.re.MatchString(text) {
			hits = append(hits, p.key)
		}
	}
	if len(hits) == 0 {
		return "generic"
	}
	sort.Strings(hits)
	return strings.Join(hits, "|")
}

func (g LoopGuard) stagnationThreshold() int {
	if g.StagnationThreshold < 1 {
		return 2
	}
	return g.StagnationThreshold
}

func (g LoopGuard) maxSameIntentRounds() int {
	if g.MaxSameIntentRounds <= 0 {
		return 4
	}
	if g.MaxSameIntentRounds < 2 {
		return 2
	}
	return g.MaxSameIntentRounds
}

func clampIndex(n, max int) int {
	if max <= 0 || n < 0 {
		return 0
	}
	if n >= max {
		return max - 1
	}
	return n
}

func uniqueStrings(items []string, maxLen int) []string {
	out := make([]string, 0, len(items))
	seen := map[string]bool{}
	for _, raw := range items {
		id := strings.TrimSpace(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) >= maxLen {
			break
		}
	}
	return out
}

func (p *Pack) normalizePolicy(cat scenario.CategoryID, st types.PolicyState) types.PolicyState {
	nodes := p.intentNodes(cat)
	st.Version = PolicyVersion
	st.CategoryID = string(cat)
	st.IntentIndex = clampIndex(st.IntentIndex, len(nodes))
	st.AngleIndex = clampIndex(st.AngleIndex, len(nodes[st.IntentIndex].Angles))
	if st.SameIntentRounds < 0 {
		st.SameIntentRounds = 0
	}
	if st.StagnationCount < 0 {
		st.StagnationCount = 0
	}
	used := make([]string, 0, len(st.UsedLineIDs))
	for _, id := range st.UsedLineIDs {
		if id != "" {
			used = append(used, id)
		}
	}
	st.UsedLineIDs = used
	return st
}

type Selection struct {
	Line               CustomerLine
	Policy             types.PolicyState
	IntentID           string
	AngleID            string
	LoopGuardTriggered bool
}

func (p *Pack) pickCandidate(cat scenario.CategoryID, intentID, angleID string, used, historyTexts map[string]bool, seed string) (CustomerLine, bool) {
	var scoped []CustomerLine
	for _, line := range p.lines {
		if line.CategoryID == cat && line.IntentID == intentID && line.AngleID == angleID {
			scoped = append(scoped, line)
		}
	}
	if len(scoped) == 0 {
		return CustomerLine{}, false
	}
	var fresh, unseen []CustomerLine
	for _, line := range scoped {
		if historyTexts[line.Text] {
			continue
		}
		unseen = append(unseen, line)
		if !used[line.LineID] {
			fresh = append(fresh, line)
		}
	}
	pool := fresh
	if len(pool) == 0 {
		pool = unseen
	}
	if len(pool) == 0 {
		pool = scoped
	}
	idx := quickHash(fmt.Sprintf("%s|%s|%s", seed, intentID, angleID)) % uint32(len(pool))
	return pool[idx], true
}

// SelectNextCustomerLine advances the dialogue policy by one customer turn.
// A reply that touches no new topic counts as stagnation; the loop guard
// moves to the next angle or intent after too much stagnation or too many
// rounds on the same intent. Selection is a pure function of its inputs.
func (p *Pack) SelectNextCustomerLine(cat scenario.CategoryID, state types.PolicyState, beauticianText string, history []types.HistoryItem) (Selection, error) {
	nodes := p.intentNodes(cat)
	st := p.normalizePolicy(cat, state)

	nextSignal := signal(beauticianText)
	stagnation := st.StagnationCount + 1
	if st.LastBeauticianSignature == "" || st.LastBeauticianSignature != nextSignal {
		stagnation = 0
	}
	loopGuard := false

	intentIndex := st.IntentIndex
	angleIndex := st.AngleIndex

	threshold := p.loopGuard.stagnationThreshold()
	maxSame := p.loopGuard.maxSameIntentRounds()

	if stagnation >= threshold {
		loopGuard = true
		stagnation = 0
		if angleIndex+1 < len(nodes[intentIndex].Angles) {
			angleIndex++
		} else {
			intentIndex = (intentIndex + 1) % len(nodes)
			angleIndex = 0
		}
	}
	if st.SameIntentRounds >= maxSame {
		loopGuard = true
		intentIndex = (intentIndex + 1) % len(nodes)
		angleIndex = 0
	}

	used := map[string]bool{}
	for _, id := range st.UsedLineIDs {
		used[id] = true
	}
	historyTexts := map[string]bool{}
	for _, h := range history {
		if h.Role == types.RoleCustomer {
			historyTexts[strings.TrimSpace(h.Text)] = true
		}
	}

	var (
		selected CustomerLine
		found    bool
	)
	selIntent, selAngle := intentIndex, angleIndex
	maxAttempts := len(nodes) * 4
	if maxAttempts < 3 {
		maxAttempts = 3
	}
	for i := 0; i < maxAttempts; i++ {
		node := nodes[selIntent]
		angles := node.Angles
		if len(angles) == 0 {
			angles = []string{"default"}
		}
		angleID := angles[clampIndex(selAngle, len(angles))]
		seed := fmt.Sprintf("%s|%d|%d|%d", beauticianText, len(history), len(st.UsedLineIDs), i)
		selected, found = p.pickCandidate(cat, node.IntentID, angleID, used, historyTexts, seed)
		if found {
			break
		}
		if selAngle+1 < len(angles) {
			selAngle++
		} else {
			selIntent = (selIntent + 1) % len(nodes)
			selAngle = 0
		}
	}
	if !found {
		for _, line := range p.lines {
			if line.CategoryID == cat {
				selected, found = line, true
				break
			}
		}
		if !found && len(p.lines) > 0 {
			selected, found = p.lines[0], true
		}
		if !found {
			return Selection{}, ErrNoCustomerLines
		}
		selIntent, selAngle = 0, 0
	}

	selNode := nodes[selIntent]
	selAngleID := selected.AngleID
	if len(selNode.Angles) > 0 {
		selAngleID = selNode.Angles[clampIndex(selAngle, len(selNode.Angles))]
	}

	sameRounds := 1
	if selIntent == st.IntentIndex {
		sameRounds = st.SameIntentRounds + 1
	}

	next := st
	next.IntentIndex = selIntent
	next.AngleIndex = clampIndex(selAngle, len(selNode.Angles))
	next.SameIntentRounds = sameRounds
	next.StagnationCount = stagnation
	next.UsedLineIDs = uniqueStrings(append(append([]string{}, st.UsedLineIDs...), selected.LineID), maxUsedLineIDs)
	next.LastBeauticianSignature = nextSignal

	selected.Emotion = types.NormalizeEmotion(string(selected.Emotion), types.EmotionSkeptical)
	selected.Tag = normalizeTag(selected.Tag, "跟进追问")

	return Selection{
		Line:               selected,
		Policy:             next,
		IntentID:           selected.IntentID,
		AngleID:            selAngleID,
		LoopGuardTriggered: loopGuard,
	}, nil
}

// ShouldRewrite decides whether a scripted line goes through the model
// rewrite. The decision is a stable hash of seed against percent.
func ShouldRewrite(seed string, percent int) bool {
	if percent <= 0 {
		return false
	}
	if percent >= 100 {
		return true
	}
	return int(quickHash(seed)%100) < percent
}
