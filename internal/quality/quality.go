// Package quality scores an embedded text layer. The score is used as the
// confidence of directly extracted pages that were not classified as text.
package quality

import (
	"math"
	"strings"
	"unicode"
)

type Verdict string

const (
	Good    Verdict = "good"
	Suspect Verdict = "suspect"
	Poor    Verdict = "poor"
)

type Assessment struct {
	Score   float64
	Verdict Verdict
	Signals []string
	Words   int
}

// NeedsOCR reports whether the text layer is too damaged to trust.
func (a Assessment) NeedsOCR() bool { return a.Verdict == Poor }

// features are the ratios and counts every rule reads.
type features struct {
	words       int
	alpha       float64
	digit       float64
	punct       float64
	space       float64
	garbage     float64
	lines       int
	avgLineLen  float64
	shortLines  float64
	uniqueWords float64
	singleChars float64
	repeatedRun bool
	bulletLines float64
	mathOrCode  bool
}

// rule adjusts the score when it applies. Negative deltas are penalties.
type rule struct {
	signal string
	delta  func(f features, minWords int) float64
}

var rules = []rule{
	{"low_word_count", func(f features, minWords int) float64 {
		if f.words >= minWords {
			return 0
		}
		p := 0.45
		if f.words < minWords/2 {
			p = 0.60
		}
		if f.bulletLines > 0.3 || f.mathOrCode {
			p /= 2
		}
		return -p
	}},
	{"low_alpha_ratio", func(f features, _ int) float64 {
		if f.alpha >= 0.25 {
			return 0
		}
		p := 0.35
		if f.alpha < 0.15 {
			p = 0.50
		}
		if f.digit > 0.20 {
			p *= 0.6
		}
		return -p
	}},
	{"garbage_chars", func(f features, _ int) float64 {
		if f.garbage <= 0.01 {
			return 0
		}
		return -math.Min(0.50, f.garbage*50)
	}},
	{"fragmented_lines", func(f features, _ int) float64 {
		if f.lines > 0 && f.shortLines > 0.75 && f.avgLineLen < 12 && f.alpha < 0.40 {
			return -0.25
		}
		return 0
	}},
	{"low_unique_words", func(f features, _ int) float64 {
		if f.words > 50 && f.uniqueWords < 0.20 {
			return -0.15
		}
		return 0
	}},
	{"repeated_patterns", func(f features, _ int) float64 {
		if f.repeatedRun {
			return -0.20
		}
		return 0
	}},
	{"scrambled_text", func(f features, _ int) float64 {
		if f.singleChars > 0.30 {
			return -0.25
		}
		return 0
	}},
	{"excessive_punctuation", func(f features, _ int) float64 {
		if f.punct > 0.50 && f.alpha < 0.20 {
			return -0.20
		}
		return 0
	}},
	{"abnormal_spacing", func(f features, _ int) float64 {
		if f.space > 0.60 || (f.words > 10 && f.space < 0.05) {
			return -0.15
		}
		return 0
	}},
	// tables and line items on invoices are digit heavy
	{"numeric_heavy", func(f features, minWords int) float64 {
		if f.digit > 0.25 && f.alpha > 0.15 && f.words >= minWords/2 {
			return 0.10
		}
		return 0
	}},
	{"good_prose", func(f features, minWords int) float64 {
		if f.alpha > 0.60 && f.words >= minWords && f.uniqueWords > 0.30 {
			return 0.10
		}
		return 0
	}},
	{"structured_content", func(f features, _ int) float64 {
		if f.bulletLines > 0.2 || f.mathOrCode {
			return 0.15
		}
		return 0
	}},
	{"mixed_content", func(f features, minWords int) float64 {
		if f.alpha > 0.40 && f.digit > 0.10 && f.words >= minWords {
			return 0.10
		}
		return 0
	}},
}

// Assess scores text in [0,1]. Below 0.5 is Poor, below 0.7 Suspect.
func Assess(text string, minWords int) Assessment {
	clean := normalize(text)
	if clean == "" {
		return Assessment{Verdict: Poor, Signals: []string{"empty_text"}}
	}

	f := measure(clean)
	score := 1.0
	signals := []string{}
	for _, r := range rules {
		if d := r.delta(f, minWords); d != 0 {
			score += d
			signals = append(signals, r.signal)
		}
	}
	score = math.Max(0, math.Min(1, score))

	v := Good
	switch {
	case score < 0.50:
		v = Poor
	case score < 0.70:
		v = Suspect
	}
	return Assessment{Score: score, Verdict: v, Signals: signals, Words: f.words}
}

func measure(s string) features {
	runes := []rune(s)
	total := float64(len(runes))

	var alpha, digit, punct, space, garbage int
	for _, r := range runes {
		switch {
		case unicode.IsLetter(r):
			alpha++
		case unicode.IsDigit(r):
			digit++
		case unicode.IsSpace(r):
			space++
		case r == '\uFFFD' || unicode.IsControl(r):
			garbage++
		}
		if unicode.IsPunct(r) {
			punct++
		}
	}

	words := strings.Fields(s)
	lines := nonEmptyLines(s)
	avg, short := lineStats(lines)

	return features{
		words:       len(words),
		alpha:       float64(alpha) / total,
		digit:       float64(digit) / total,
		punct:       float64(punct) / total,
		space:       float64(space) / total,
		garbage:     float64(garbage) / total,
		lines:       len(lines),
		avgLineLen:  avg,
		shortLines:  short,
		uniqueWords: uniqueRatio(words),
		singleChars: singleCharRatio(words),
		repeatedRun: hasRun(s, 5),
		bulletLines: bulletRatio(lines),
		mathOrCode:  looksLikeMathOrCode(s),
	}
}

// normalize collapses intra-line whitespace and long blank runs.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.Join(strings.Fields(ln), " ")
	}
	s = strings.Join(lines, "\n")
	for strings.Contains(s, "\n\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

func lineStats(lines []string) (avg, shortRatio float64) {
	if len(lines) == 0 {
		return 0, 0
	}
	sum, short := 0, 0
	for _, ln := range lines {
		n := len([]rune(ln))
		sum += n
		if n < 15 {
			short++
		}
	}
	return float64(sum) / float64(len(lines)), float64(short) / float64(len(lines))
}

func uniqueRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return float64(len(set)) / float64(len(words))
}

// singleCharRatio is high when extraction split words into letters.
func singleCharRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	n := 0
	for _, w := range words {
		if len([]rune(w)) == 1 {
			n++
		}
	}
	return float64(n) / float64(len(words))
}

func hasRun(s string, n int) bool {
	count := 0
	var last rune = -1
	for _, r := range s {
		if r == last {
			count++
			if count >= n {
				return true
			}
			continue
		}
		last, count = r, 1
	}
	return false
}

func bulletRatio(lines []string) float64 {
	if len(lines) == 0 {
		return 0
	}
	n := 0
	for _, ln := range lines {
		rs := []rune(ln)
		switch {
		case strings.ContainsRune("•◦▪–-", rs[0]):
			n++
		case len(rs) > 2 && rs[1] == '.' && (unicode.IsDigit(rs[0]) || unicode.IsLetter(rs[0])):
			n++
		}
	}
	return float64(n) / float64(len(lines))
}

var mathSymbols = []string{
	"=", "≈", "≠", "±", "×", "÷", "∑", "∫", "∂", "√",
	"α", "β", "γ", "θ", "λ", "π", "σ", "Δ", "Ω",
	"∈", "∉", "⊂", "⊃", "∪", "∩", "∀", "∃",
}

func looksLikeMathOrCode(s string) bool {
	distinct := 0
	for _, sym := range mathSymbols {
		if strings.Contains(s, sym) {
			distinct++
			if distinct >= 3 {
				return true
			}
		}
	}
	if len(s) <= 100 {
		return false
	}
	if strings.Count(s, "=") > 5 {
		return true
	}
	return strings.Count(s, "{")+strings.Count(s, "[")+strings.Count(s, "(") > 10
}
