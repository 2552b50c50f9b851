package memory

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClassifyPreferenceHabit(t *testing.T) {
	c := NewClassifier(nil)

	got := c.Classify("I love coffee every morning")
	if !got.Worthy {
		t.Fatal("expected utterance to be memory-worthy")
	}
	if got.Summary != "I love coffee every morning" {
		t.Errorf("summary = %q, want trimmed input", got.Summary)
	}
	want := []string{"preference", "habit", "schedule", "food"}
	if !reflect.DeepEqual(got.Tags, want) {
		t.Errorf("tags = %v, want %v", got.Tags, want)
	}
}

func TestClassifyEventWithDateTime(t *testing.T) {
	c := NewClassifier(nil)

	got := c.Classify("meeting 2025-03-04 14:30")
	if !got.Worthy {
		t.Fatal("expected event utterance to be memory-worthy")
	}
	if !strings.HasPrefix(got.Summary, "2025-03-04 14:30") {
		t.Errorf("summary = %q, want date/time prefix", got.Summary)
	}
	if !containsTag(got.Tags, "event") {
		t.Errorf("tags = %v, want event tag", got.Tags)
	}
}

func TestClassifyTimeOnly(t *testing.T) {
	c := NewClassifier(nil)

	got := c.Classify("doctor visit at 9:05")
	if !got.Worthy {
		t.Fatal("expected event utterance to be memory-worthy")
	}
	if !strings.HasPrefix(got.Summary, "9:05 ") {
		t.Errorf("summary = %q, want time prefix", got.Summary)
	}
	if !containsTag(got.Tags, "health") {
		t.Errorf("tags = %v, want health tag from doctor topic", got.Tags)
	}
}

func TestClassifyEmptyInput(t *testing.T) {
	c := NewClassifier(nil)

	for _, input := range []string{"", "   ", "\n\t"} {
		got := c.Classify(input)
		if got.Worthy {
			t.Errorf("Classify(%q).Worthy = true, want false", input)
		}
		if got.Summary != "" || len(got.Tags) != 0 {
			t.Errorf("Classify(%q) = %+v, want empty result", input, got)
		}
	}
}

func TestClassifyNotWorthy(t *testing.T) {
	c := NewClassifier(nil)

	got := c.Classify("the sky is blue today")
	if got.Worthy {
		t.Errorf("expected neutral statement to not be memory-worthy, tags=%v", got.Tags)
	}
	if got.Summary != "" {
		t.Errorf("summary = %q, want empty for unworthy input", got.Summary)
	}
}

func TestClassifySummaryTruncation(t *testing.T) {
	c := NewClassifier(nil)

	long := "I love " + strings.Repeat("really ", 30) + "long walks"
	got := c.Classify(long)
	if !got.Worthy {
		t.Fatal("expected utterance to be memory-worthy")
	}
	if n := utf8.RuneCountInString(got.Summary); n != 120 {
		t.Errorf("summary length = %d runes, want 120", n)
	}
	if !strings.HasSuffix(got.Summary, "...") {
		t.Errorf("summary = %q, want ellipsis suffix", got.Summary)
	}
}

func TestClassifyDeduplicatesTags(t *testing.T) {
	c := NewClassifier(nil)

	// "remember" maps to preference; "love" already added it.
	got := c.Classify("remember that I love jazz music")
	count := 0
	for _, tag := range got.Tags {
		if tag == "preference" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("preference tag appears %d times, want 1 (tags=%v)", count, got.Tags)
	}
	if !containsTag(got.Tags, "music") {
		t.Errorf("tags = %v, want music topic tag", got.Tags)
	}
}

func TestClassifyCustomRules(t *testing.T) {
	rules := &Rules{
		Families: []KeywordFamily{
			{Name: "chore", Triggers: []string{"laundry"}, Tags: []string{"chore"}},
		},
	}
	c := NewClassifier(rules)

	if got := c.Classify("laundry day"); !got.Worthy || !containsTag(got.Tags, "chore") {
		t.Errorf("custom rules not applied: %+v", got)
	}
	// Default vocabulary must not leak into custom rules.
	if got := c.Classify("I love jazz"); got.Worthy {
		t.Errorf("default triggers applied despite custom rules: %+v", got)
	}
}

func TestInferOwner(t *testing.T) {
	c := NewClassifier(nil)

	cases := []struct {
		in   string
		want string
	}{
		{"my name is Sky, I love jazz", "Sky"},
		{"I'm Alice.", "Alice"},
		{"i am Bob Smith", "Bob Smith"},
		{"我叫小明", "小明"},
		{"hello there", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := c.InferOwner(tc.in); got != tc.want {
			t.Errorf("InferOwner(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInferOwnerCollapsesWhitespace(t *testing.T) {
	c := NewClassifier(nil)

	if got := c.InferOwner("my name is Bob   Smith"); got != "Bob Smith" {
		t.Errorf("InferOwner = %q, want %q", got, "Bob Smith")
	}
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
