// Package metrics turns a beautician transcript and its audio stats into
// bounded 0-100 sub-scores. Every function is total: partial input yields a
// neutral default instead of an error.
package metrics

import (
	"math"
	"strings"
	"unicode"
)

// DefaultTargetWPM is the comfortable speaking band for Mandarin sales talk.
var DefaultTargetWPM = [2]float64{180, 260}

var fillerWords = []string{"嗯", "呃", "啊", "那个", "就是", "然后", "可能", "其实"}

// CountChineseChars counts runes in the CJK Unified Ideographs block.
func CountChineseChars(text string) int {
	n := 0
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fff {
			n++
		}
	}
	return n
}

// WordsPerMinute is nil when the duration is unknown.
func WordsPerMinute(transcript string, audioSeconds *float64) *float64 {
	if audioSeconds == nil || *audioSeconds <= 0 || math.IsNaN(*audioSeconds) {
		return nil
	}
	chars := CountChineseChars(transcript)
	v := 0.0
	if chars > 0 {
		v = float64(chars) / *audioSeconds * 60
	}
	return &v
}

// FillerRatio is nil when the transcript has no CJK characters.
func FillerRatio(transcript string) *float64 {
	total := CountChineseChars(transcript)
	if total == 0 {
		return nil
	}
	count := 0
	for _, w := range fillerWords {
		count += strings.Count(transcript, w)
	}
	v := float64(count) / float64(total)
	return &v
}

func ClampScore(score float64) float64 {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func ScoreToStars(score float64) int {
	stars := int(math.Ceil(ClampScore(score) / 20))
	if stars < 1 {
		return 1
	}
	if stars > 5 {
		return 5
	}
	return stars
}

// ScoreFluencyFromWpm peaks at the band midpoint and never leaves [35,100].
func ScoreFluencyFromWpm(wpm *float64, band [2]float64) float64 {
	if wpm == nil || math.IsNaN(*wpm) {
		return 60
	}
	lo, hi := band[0], band[1]
	w := *wpm
	if w >= lo && w <= hi {
		mid := (lo + hi) / 2
		half := (hi - lo) / 2
		t := 1.0
		if half > 0 {
			t = 1 - math.Abs(w-mid)/half
		}
		return ClampScore(82 + 18*t)
	}
	dist := w - hi
	if w < lo {
		dist = lo - w
	}
	penalty := math.Min(55, dist*0.35)
	return math.Max(35, 80-penalty)
}

// ScoreExpressionFromFillerRatio maps 0.00 to 95, 0.04 to about 80 and
// 0.10 to about 57.
func ScoreExpressionFromFillerRatio(ratio *float64) float64 {
	if ratio == nil {
		return 70
	}
	return ClampScore(95 - *ratio*375)
}

func ScorePronunciationFromAsrConfidence(confidence *float64) float64 {
	if confidence == nil {
		return 70
	}
	return ClampScore(*confidence * 100)
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// IsSilent reports whether a transcript carries no speech content at all.
func IsSilent(transcript string) bool {
	for _, r := range transcript {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
