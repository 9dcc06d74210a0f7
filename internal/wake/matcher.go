package wake

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultTargets are the accepted transcriptions of the wake phrase. ASR
// often hears the tense consonant as a plain or aspirated one.
var DefaultTargets = []string{"싸비스", "사비스", "써비스", "서비스"}

// DefaultNegatives are everyday words that must never wake the robot.
var DefaultNegatives = []string{
	"안녕", "헬로", "하이", "좋아", "싫어", "예", "아니오",
	"고마워", "미안", "잘가", "안녕하세요", "감사합니다",
}

// Match is a matcher's verdict on a transcript.
type Match struct {
	Valid       bool
	Confidence  float64
	Reason      string
	MatchedWord string
}

// Matcher decides whether a transcript names one of the target words.
type Matcher interface {
	Match(ctx context.Context, text string, targets []string) (Match, error)
}

// LocalMatcher matches transcripts on-device with normalised exact,
// containment and Levenshtein tiers.
type LocalMatcher struct {
	// FuzzyThreshold is the minimum similarity for a fuzzy accept.
	// Zero means 0.7.
	FuzzyThreshold float64

	// Negatives are rejected with high confidence when nothing matched.
	// Nil means DefaultNegatives.
	Negatives []string
}

var _ Matcher = (*LocalMatcher)(nil)

// Match implements Matcher. It never returns an error.
func (m *LocalMatcher) Match(_ context.Context, text string, targets []string) (Match, error) {
	norm := Normalize(text)

	for _, t := range targets {
		if Normalize(t) == norm {
			return Match{Valid: true, Confidence: 1.0, Reason: "exact_match: " + t, MatchedWord: t}, nil
		}
	}
	for _, t := range targets {
		if tn := Normalize(t); tn != "" && strings.Contains(norm, tn) {
			return Match{Valid: true, Confidence: 0.95, Reason: "contains: " + t, MatchedWord: t}, nil
		}
	}

	th := m.FuzzyThreshold
	if th <= 0 {
		th = 0.7
	}
	var (
		best       float64
		bestTarget string
	)
	for _, t := range targets {
		if s := Similarity(norm, Normalize(t)); s > best {
			best, bestTarget = s, t
		}
	}
	if best >= th {
		return Match{Valid: true, Confidence: best, Reason: "fuzzy_match: " + bestTarget, MatchedWord: bestTarget}, nil
	}

	negatives := m.Negatives
	if negatives == nil {
		negatives = DefaultNegatives
	}
	for _, n := range negatives {
		if Normalize(n) == norm {
			return Match{Confidence: 0.95, Reason: "negative_word: " + n}, nil
		}
	}

	conf := 0.1
	if best > 0.3 {
		conf = best
	}
	return Match{
		Confidence: conf,
		Reason:     fmt.Sprintf("no_match (best: %s, score: %.2f)", bestTarget, best),
	}, nil
}

// Normalize lowercases s and keeps only Hangul syllables, ASCII letters and
// digits.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= '가' && r <= '힣',
			r >= 'a' && r <= 'z',
			r < unicode.MaxASCII && unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)) counted in
// runes, or 0 when either side is empty. Containment of b in a scores 1.
func Similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	if strings.Contains(a, b) {
		return 1
	}
	return 1 - float64(matchr.Levenshtein(a, b))/float64(max(la, lb))
}
