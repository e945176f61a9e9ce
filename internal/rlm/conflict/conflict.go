// Package conflict flags disagreement between per-perspective responses
// with a deterministic, explainable heuristic: marker counting plus
// lexical Jaccard similarity against a tunable agreement threshold. It
// never calls the model; the scoring is pure so it can be tested without
// one.
package conflict

import (
	"fmt"
	"sort"
	"strings"
)

// PairType classifies the relationship between two responses.
type PairType string

const (
	PairConflict  PairType = "conflict"
	PairAgreement PairType = "agreement"
	PairNeutral   PairType = "neutral"
)

// Response is one per-perspective answer under comparison.
type Response struct {
	// Source is the attribution label, usually an agent or group
	// display name.
	Source string `json:"source"`

	// Perspective is the role label the answer was produced under.
	// Empty when the sub-query ran without a perspective.
	Perspective string `json:"perspective,omitempty"`

	// Text is the full response body.
	Text string `json:"text"`
}

// Side carries one half of a compared pair into the report.
type Side struct {
	Source      string `json:"source"`
	Perspective string `json:"perspective,omitempty"`
	Excerpt     string `json:"excerpt"`
}

// Pair is the comparison result for one unordered response pair.
type Pair struct {
	Type PairType `json:"type"`

	// Confidence is the heuristic's certainty in the classification,
	// 0.5 (none) to 1.
	Confidence float64 `json:"confidence"`

	// Similarity is the Jaccard index over words longer than three
	// characters.
	Similarity float64 `json:"similarity"`

	Left  Side `json:"left"`
	Right Side `json:"right"`
}

// Analysis aggregates all pairwise comparisons for one query. Computed
// fresh per query, never cached.
type Analysis struct {
	HasConflicts bool     `json:"has_conflicts"`
	Conflicts    []Pair   `json:"conflicts,omitempty"`
	Agreements   []Pair   `json:"agreements,omitempty"`
	Themes       []string `json:"themes,omitempty"`
	Summary      string   `json:"summary"`
}

// Config tunes the heuristic. The marker vocabularies and the agreement
// threshold are parameters, not contracts; the shape of the scoring is.
type Config struct {
	// AgreementThreshold is the similarity at or above which a pair is
	// treated as agreeing regardless of marker counts. In [0,1].
	AgreementThreshold float64 `json:"agreement_threshold"`

	// ConflictMarkers and AgreementMarkers override the built-in
	// vocabularies when non-empty. Single words match whole tokens;
	// phrases match as substrings.
	ConflictMarkers  []string `json:"conflict_markers,omitempty"`
	AgreementMarkers []string `json:"agreement_markers,omitempty"`

	// MaxThemes caps the extracted theme list.
	MaxThemes int `json:"max_themes"`

	// ExcerptLength is the rune budget for report excerpts.
	ExcerptLength int `json:"excerpt_length"`
}

// DefaultConfig returns the standard heuristic tuning.
func DefaultConfig() Config {
	return Config{
		AgreementThreshold: 0.75,
		MaxThemes:          5,
		ExcerptLength:      150,
	}
}

var defaultConflictMarkers = []string{
	"however", "but", "although", "instead", "contrary", "contradicts",
	"disagree", "disagrees", "dispute", "oppose", "opposed", "against",
	"conflict", "conflicts", "tension", "risk", "risks", "concern",
	"concerns", "problem", "issue", "wrong", "failed", "failure",
	"decline", "declined", "worse", "on the other hand",
}

var defaultAgreementMarkers = []string{
	"also", "agree", "agrees", "agreed", "confirm", "confirms",
	"confirmed", "aligns", "aligned", "similarly", "likewise",
	"consistent", "support", "supports", "echoes", "reinforces",
	"as well", "in line with",
}

// themeStopWords excludes structural words from theme extraction. Marker
// words are excluded separately so themes stay content-bearing.
var themeStopWords = map[string]bool{
	"about": true, "above": true, "after": true, "based": true,
	"because": true, "before": true, "being": true, "below": true,
	"between": true, "could": true, "during": true, "every": true,
	"might": true, "other": true, "should": true, "since": true,
	"their": true, "there": true, "these": true,
	"those": true, "through": true, "under": true, "where": true,
	"which": true, "while": true, "would": true,
}

// Detector scores response pairs for agreement and conflict.
type Detector struct {
	cfg              Config
	conflictMarkers  []string
	agreementMarkers []string
}

// New creates a Detector with the given tuning.
func New(cfg Config) *Detector {
	d := &Detector{
		cfg:              cfg,
		conflictMarkers:  cfg.ConflictMarkers,
		agreementMarkers: cfg.AgreementMarkers,
	}
	if len(d.conflictMarkers) == 0 {
		d.conflictMarkers = defaultConflictMarkers
	}
	if len(d.agreementMarkers) == 0 {
		d.agreementMarkers = defaultAgreementMarkers
	}
	if d.cfg.MaxThemes <= 0 {
		d.cfg.MaxThemes = 5
	}
	if d.cfg.ExcerptLength <= 0 {
		d.cfg.ExcerptLength = 150
	}
	return d
}

// Detect compares every unordered response pair and aggregates the
// report. Fewer than two responses yield an empty, conflict-free
// analysis.
func (d *Detector) Detect(responses []Response) Analysis {
	if len(responses) < 2 {
		return Analysis{
			Summary: fmt.Sprintf("no conflict analysis: %d response(s)", len(responses)),
		}
	}

	var analysis Analysis
	for i := 0; i < len(responses); i++ {
		for j := i + 1; j < len(responses); j++ {
			pair := d.Compare(responses[i], responses[j])
			switch pair.Type {
			case PairConflict:
				analysis.Conflicts = append(analysis.Conflicts, pair)
			case PairAgreement:
				analysis.Agreements = append(analysis.Agreements, pair)
			}
		}
	}

	analysis.HasConflicts = len(analysis.Conflicts) > 0
	analysis.Themes = d.themes(analysis.Conflicts)
	analysis.Summary = d.summary(analysis, len(responses))
	return analysis
}

// Compare scores a single response pair. Pure: same inputs, same report.
func (d *Detector) Compare(a, b Response) Pair {
	aText := strings.ToLower(a.Text)
	bText := strings.ToLower(b.Text)
	aTokens := tokenize(aText)
	bTokens := tokenize(bText)

	conflictScore := countMarkers(aTokens, aText, d.conflictMarkers) +
		countMarkers(bTokens, bText, d.conflictMarkers)
	agreementScore := countMarkers(aTokens, aText, d.agreementMarkers) +
		countMarkers(bTokens, bText, d.agreementMarkers)

	similarity := jaccard(wordSet(aTokens), wordSet(bTokens))

	pair := Pair{
		Similarity: similarity,
		Left:       side(a, d.cfg.ExcerptLength),
		Right:      side(b, d.cfg.ExcerptLength),
	}

	switch {
	case conflictScore > agreementScore && similarity < d.cfg.AgreementThreshold:
		pair.Type = PairConflict
		pair.Confidence = min(1, 0.5+0.1*float64(conflictScore))
	case agreementScore > conflictScore || similarity >= d.cfg.AgreementThreshold:
		pair.Type = PairAgreement
		pair.Confidence = min(1, 0.5+0.1*float64(agreementScore)+0.3*similarity)
	default:
		pair.Type = PairNeutral
		pair.Confidence = 0.5
	}
	return pair
}

func side(r Response, excerptLen int) Side {
	return Side{
		Source:      r.Source,
		Perspective: r.Perspective,
		Excerpt:     excerpt(r.Text, excerptLen),
	}
}

// tokenize splits lowercased text into letter/digit runs.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

// countMarkers counts vocabulary hits: single-word markers match whole
// tokens so "risk" does not fire inside "asterisk"; phrases match as
// substrings.
func countMarkers(tokens []string, text string, markers []string) int {
	count := 0
	for _, m := range markers {
		if strings.ContainsRune(m, ' ') {
			count += strings.Count(text, m)
			continue
		}
		for _, tok := range tokens {
			if tok == m {
				count++
			}
		}
	}
	return count
}

func wordSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokens {
		if len(tok) > 3 {
			set[tok] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// excerpt returns the head of text within the rune limit, trimmed back to
// a sentence boundary when one sits past the midpoint, else
// hard-truncated with an ellipsis.
func excerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	cut := runes[:limit]
	for i := len(cut) - 1; i >= limit/2; i-- {
		switch cut[i] {
		case '.', '!', '?':
			return strings.TrimSpace(string(cut[:i+1]))
		}
	}
	return strings.TrimSpace(string(cut)) + "..."
}

// themes extracts the most frequent content words from conflicting
// excerpts: longer than four characters, not a stop word, not a marker.
func (d *Detector) themes(conflicts []Pair) []string {
	if len(conflicts) == 0 {
		return nil
	}

	skip := make(map[string]bool, len(d.conflictMarkers)+len(d.agreementMarkers))
	for _, m := range d.conflictMarkers {
		skip[m] = true
	}
	for _, m := range d.agreementMarkers {
		skip[m] = true
	}

	freq := make(map[string]int)
	for _, p := range conflicts {
		for _, tok := range tokenize(strings.ToLower(p.Left.Excerpt + " " + p.Right.Excerpt)) {
			if len(tok) <= 4 || themeStopWords[tok] || skip[tok] {
				continue
			}
			freq[tok]++
		}
	}

	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > d.cfg.MaxThemes {
		words = words[:d.cfg.MaxThemes]
	}
	return words
}

func (d *Detector) summary(a Analysis, responses int) string {
	if !a.HasConflicts {
		return fmt.Sprintf("no conflicts across %d responses (%d agreements)", responses, len(a.Agreements))
	}
	s := fmt.Sprintf("%d conflict(s) and %d agreement(s) across %d responses", len(a.Conflicts), len(a.Agreements), responses)
	if len(a.Themes) > 0 {
		s += "; themes: " + strings.Join(a.Themes, ", ")
	}
	return s
}

// Render formats the analysis as the tension block woven into the
// synthesis prompt. Empty when there is nothing to surface.
func Render(a Analysis) string {
	if !a.HasConflicts {
		return ""
	}

	var b strings.Builder
	b.WriteString("Tensions between the perspectives:\n")
	for i, p := range a.Conflicts {
		fmt.Fprintf(&b, "%d. %s vs %s\n", i+1, label(p.Left), label(p.Right))
		fmt.Fprintf(&b, "   - %s: %q\n", label(p.Left), p.Left.Excerpt)
		fmt.Fprintf(&b, "   - %s: %q\n", label(p.Right), p.Right.Excerpt)
	}
	if len(a.Themes) > 0 {
		fmt.Fprintf(&b, "Recurring themes: %s\n", strings.Join(a.Themes, ", "))
	}
	return b.String()
}

func label(s Side) string {
	if s.Perspective != "" {
		return fmt.Sprintf("%s (%s)", s.Perspective, s.Source)
	}
	return s.Source
}
