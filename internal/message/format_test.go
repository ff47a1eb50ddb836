package message

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/TracingInsights-Archive/f1live/internal/timing"
)

func sampleEvent(msg string) timing.Event {
	return timing.Event{
		UTC:      time.Date(2025, 3, 16, 5, 4, 3, 0, time.UTC),
		Category: timing.CategoryFlag,
		Flag:     timing.FlagYellow,
		Message:  msg,
	}
}

func TestBuildSinglePart(t *testing.T) {
	t.Parallel()
	cfg := Config{Hashtags: "#F1 #Formula1", MaxChars: 300}
	parts := Build(cfg, sampleEvent("YELLOW IN TRACK SECTOR 7"))

	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(parts))
	}
	text := parts[0].Text
	if !strings.Contains(text, "YELLOW IN TRACK SECTOR 7") {
		t.Fatalf("message text missing: %q", text)
	}
	if !strings.Contains(text, "05:04:03 UTC") {
		t.Fatalf("timestamp missing: %q", text)
	}
	if !strings.HasSuffix(text, "#F1 #Formula1") {
		t.Fatalf("hashtags missing from tail: %q", text)
	}
	if len(text) > 300 {
		t.Fatalf("single part exceeds limit: %d chars", len(text))
	}
}

func TestBuildSplitsLongMessages(t *testing.T) {
	t.Parallel()
	cfg := Config{Hashtags: "#F1", MaxChars: 120}
	long := strings.Repeat("CAR 1 (VER) AND CAR 44 (HAM) UNDER INVESTIGATION ", 8)
	parts := Build(cfg, sampleEvent(strings.TrimSpace(long)))

	if len(parts) < 2 {
		t.Fatalf("long message not split: %d part(s)", len(parts))
	}
	for i, p := range parts {
		if len(p.Text) > 120 {
			t.Fatalf("part %d exceeds limit: %d chars", i, len(p.Text))
		}
	}
	// Continuation markers on every boundary.
	for i, p := range parts {
		if i < len(parts)-1 && !strings.HasSuffix(p.Text, "...") {
			t.Fatalf("part %d missing continuation marker: %q", i, p.Text)
		}
		if i > 0 && !strings.HasPrefix(p.Text, "...") {
			t.Fatalf("part %d missing leading marker: %q", i, p.Text)
		}
	}
	// Hashtags only in the final part.
	for i, p := range parts[:len(parts)-1] {
		if strings.Contains(p.Text, "#F1") {
			t.Fatalf("part %d contains hashtags before the end", i)
		}
	}
	if !strings.Contains(parts[len(parts)-1].Text, "#F1") {
		t.Fatal("final part is missing hashtags")
	}
}

func TestBuildNoSplitWhenDisabled(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x ", 400)
	parts := Build(Config{MaxChars: 0}, sampleEvent(strings.TrimSpace(long)))
	if len(parts) != 1 {
		t.Fatalf("splitting should be disabled, got %d parts", len(parts))
	}
}

func TestHashtagFacets(t *testing.T) {
	t.Parallel()
	text := "🏁 Session over\n\n#F1 #Formula1 #AbuDhabiGP"
	facets := HashtagFacets(text)
	if len(facets) != 3 {
		t.Fatalf("got %d facets, want 3", len(facets))
	}
	wantTags := []string{"F1", "Formula1", "AbuDhabiGP"}
	for i, f := range facets {
		if f.Tag != wantTags[i] {
			t.Fatalf("facet %d tag = %q, want %q", i, f.Tag, wantTags[i])
		}
		if got := text[f.ByteStart:f.ByteEnd]; got != "#"+f.Tag {
			t.Fatalf("facet %d span = %q, want %q", i, got, "#"+f.Tag)
		}
	}
}

func TestSplitKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	// No spaces at all, so every cut lands mid-text; the text is entirely
	// multi-byte runes.
	long := strings.Repeat("🟡", 120)
	parts := split(long, 40)
	if len(parts) < 2 {
		t.Fatalf("text not split: %d part(s)", len(parts))
	}
	var joined strings.Builder
	for i, p := range parts {
		if !utf8.ValidString(p) {
			t.Fatalf("part %d is not valid UTF-8: %q", i, p)
		}
		joined.WriteString(strings.Trim(p, "."))
	}
	if joined.String() != long {
		t.Fatal("split lost or mangled characters")
	}
}

func TestHashtagFacetsTrimsTrailingPunctuation(t *testing.T) {
	t.Parallel()
	text := "Session over, see #F1, #Formula1. Bye"
	facets := HashtagFacets(text)
	if len(facets) != 2 {
		t.Fatalf("got %d facets, want 2: %v", len(facets), facets)
	}
	wantTags := []string{"F1", "Formula1"}
	for i, f := range facets {
		if f.Tag != wantTags[i] {
			t.Fatalf("facet %d tag = %q, want %q", i, f.Tag, wantTags[i])
		}
		if got := text[f.ByteStart:f.ByteEnd]; got != "#"+f.Tag {
			t.Fatalf("facet %d span = %q, want %q", i, got, "#"+f.Tag)
		}
	}
}

func TestHashtagFacetsIgnoresBareHash(t *testing.T) {
	t.Parallel()
	if facets := HashtagFacets("note # not a tag"); len(facets) != 0 {
		t.Fatalf("bare # should not produce facets, got %v", facets)
	}
}

func TestRenderFlagEmoji(t *testing.T) {
	t.Parallel()
	parts := Build(Config{}, timing.Event{
		UTC:      time.Date(2025, 3, 16, 7, 0, 0, 0, time.UTC),
		Category: timing.CategoryFlag,
		Flag:     timing.FlagChequered,
		Message:  "CHEQUERED FLAG",
	})
	if !strings.HasPrefix(parts[0].Text, "🏁") {
		t.Fatalf("chequered flag emoji missing: %q", parts[0].Text)
	}
}
