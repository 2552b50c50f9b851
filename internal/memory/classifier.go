package memory

import (
	"regexp"
	"strings"
)

// maxSummaryLen bounds the stored summary; longer summaries are cut to
// 117 characters plus a three-character ellipsis.
const maxSummaryLen = 120

// KeywordFamily maps trigger substrings to the tags they imply. Matching
// is plain substring search over the lower-cased utterance, so triggers
// must be lower case.
type KeywordFamily struct {
	Name     string
	Triggers []string
	Tags     []string
}

// Rules is the classifier's configuration: which keyword families mark an
// utterance memory-worthy, and which topic keywords add descriptive tags.
// Keeping these as data lets deployments extend the vocabulary without
// touching control flow.
type Rules struct {
	// Families decide memory-worthiness. Order matters: tags are
	// collected in family order, first occurrence wins.
	Families []KeywordFamily
	// Topics only add tags to utterances already deemed worthy.
	Topics []KeywordFamily
}

// DefaultRules returns the built-in English keyword vocabulary.
func DefaultRules() *Rules {
	return &Rules{
		Families: []KeywordFamily{
			{
				Name:     "preference",
				Triggers: []string{"like", "love", "prefer", "enjoy", "dislike", "hate"},
				Tags:     []string{"preference"},
			},
			{
				Name:     "habit",
				Triggers: []string{"every day", "every morning", "every night", "each morning", "each night", "routine", "habit", "every week", "weekly"},
				Tags:     []string{"habit", "schedule"},
			},
			{
				Name:     "event",
				Triggers: []string{"appointment", "meeting", "visit", "birthday", "doctor", "dentist"},
				Tags:     []string{"event"},
			},
			{
				Name:     "rule",
				Triggers: []string{"remember", "from now on", "always", "never", "please", "remind", "avoid"},
				Tags:     []string{"preference"},
			},
		},
		Topics: []KeywordFamily{
			{Name: "music", Triggers: []string{"music", "song", "piano", "jazz"}, Tags: []string{"music"}},
			{Name: "sleep", Triggers: []string{"sleep", "bed"}, Tags: []string{"sleep"}},
			{Name: "food", Triggers: []string{"coffee", "tea", "food"}, Tags: []string{"food"}},
			{Name: "health", Triggers: []string{"doctor", "medicine"}, Tags: []string{"health"}},
		},
	}
}

var (
	dateRe  = regexp.MustCompile(`(20\d{2}-\d{2}-\d{2})`)
	timeRe  = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	spaceRe = regexp.MustCompile(`\s+`)

	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bmy name is\s+([A-Za-z][A-Za-z0-9_\- ]{1,40})`),
		regexp.MustCompile(`(?i)\bi am\s+([A-Za-z][A-Za-z0-9_\- ]{1,40})`),
		regexp.MustCompile(`(?i)\bi'm\s+([A-Za-z][A-Za-z0-9_\- ]{1,40})`),
		regexp.MustCompile(`(?:我叫|我是)\s*([A-Za-z\x{4e00}-\x{9fa5}][A-Za-z0-9_\-\x{4e00}-\x{9fa5} ]{0,40})`),
	}
)

// trailing punctuation stripped from inferred names, ASCII and fullwidth
const namePunct = ".,!?:;，。！？：；"

// Classification is the classifier's verdict for one utterance.
type Classification struct {
	Worthy  bool
	Summary string
	Tags    []string
}

// Classifier decides whether free-form text is worth persisting as a
// long-term memory. It is a pure function of the input text and its
// rules: no embedder, no store, no external state.
type Classifier struct {
	rules *Rules
}

// NewClassifier builds a classifier from rules; nil means DefaultRules.
func NewClassifier(rules *Rules) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify inspects an utterance and produces (worthy, summary, tags).
// The summary preserves original casing, optionally prefixed by a
// detected "YYYY-MM-DD HH:MM" date/time, and is truncated to 120
// characters. Keyword matching happens on a lower-cased copy only.
func (c *Classifier) Classify(utterance string) Classification {
	u := strings.TrimSpace(utterance)
	if u == "" {
		return Classification{}
	}

	lower := strings.ToLower(u)
	var tags []string
	worthy := false

	for _, fam := range c.rules.Families {
		if containsAny(lower, fam.Triggers) {
			worthy = true
			tags = append(tags, fam.Tags...)
		}
	}

	var dtParts []string
	if m := dateRe.FindStringSubmatch(u); m != nil {
		dtParts = append(dtParts, m[1])
	}
	if m := timeRe.FindStringSubmatch(u); m != nil {
		dtParts = append(dtParts, m[1]+":"+m[2])
	}
	dtText := strings.Join(dtParts, " ")

	summary := ""
	if worthy {
		summary = u
		if dtText != "" {
			summary = strings.TrimSpace(dtText + " " + u)
		}
		if runes := []rune(summary); len(runes) > maxSummaryLen {
			summary = string(runes[:maxSummaryLen-3]) + "..."
		}

		for _, topic := range c.rules.Topics {
			if containsAny(lower, topic.Triggers) {
				tags = append(tags, topic.Tags...)
			}
		}

		tags = dedupeTags(tags)
	}

	return Classification{Worthy: worthy, Summary: summary, Tags: tags}
}

// InferOwner extracts a self-declared identity ("my name is X", "I'm X",
// CJK equivalents) from free text. Returns "" when nothing matches. The
// result is raw: callers normalize it before use.
func (c *Classifier) InferOwner(utterance string) string {
	u := strings.TrimSpace(utterance)
	if u == "" {
		return ""
	}
	for _, pat := range namePatterns {
		m := pat.FindStringSubmatch(u)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		name = spaceRe.ReplaceAllString(name, " ")
		name = strings.Trim(name, namePunct)
		if name != "" {
			return name
		}
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// dedupeTags removes duplicate tags, preserving first-occurrence order.
func dedupeTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
