// Package message renders timing events into postable text.
package message

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/TracingInsights-Archive/f1live/internal/timing"
)

// Config controls rendering.
type Config struct {
	// Hashtags is the trailing tag block, e.g. "#F1 #Formula1 #AbuDhabiGP".
	Hashtags string
	// MaxChars is the per-post character limit of the target platform.
	// Posts exceeding it are split into a thread. 0 disables splitting.
	MaxChars int
}

// Facet marks a rich-text span by byte offset, for sinks that support
// clickable hashtags.
type Facet struct {
	ByteStart int
	ByteEnd   int
	Tag       string
}

// Part is one post in a (possibly single-element) thread.
type Part struct {
	Text   string
	Facets []Facet
}

var categoryEmoji = map[timing.Category]string{
	timing.CategoryOther:     "ℹ️",
	timing.CategoryFlag:      "🚩",
	timing.CategoryDrs:       "📡",
	timing.CategorySafetyCar: "🚨",
	timing.CategoryIncident:  "💥",
	timing.CategoryTrack:     "🛣️",
	timing.CategoryWeather:   "🌦️",
	timing.CategoryTechnical: "🔧",
	timing.CategoryTiming:    "⏱️",
	timing.CategoryStewards:  "👨‍⚖️",
	timing.CategoryCarEvent:  "🏎️",
}

var flagEmoji = map[timing.Flag]string{
	timing.FlagGreen:        "🟢",
	timing.FlagRed:          "🔴",
	timing.FlagYellow:       "🟡",
	timing.FlagDoubleYellow: "🟡🟡",
	timing.FlagBlue:         "🔵",
	timing.FlagChequered:    "🏁",
	timing.FlagClear:        "⚪",
	timing.FlagBlack:        "⚫",
}

// Build renders one event into thread parts. The first part opens the
// thread; hashtags appear only in the last part.
func Build(cfg Config, ev timing.Event) []Part {
	base := render(ev)

	full := base
	if cfg.Hashtags != "" {
		full = base + "\n\n" + cfg.Hashtags
	}

	if cfg.MaxChars <= 0 || len(full) <= cfg.MaxChars {
		return []Part{{Text: full, Facets: HashtagFacets(full)}}
	}

	// Long message: split the body, hashtags on the final part only.
	// Reserve room for the tag block so the final part still fits.
	budget := cfg.MaxChars
	if cfg.Hashtags != "" && len(cfg.Hashtags)+2 < budget/2 {
		budget -= len(cfg.Hashtags) + 2
	}
	texts := split(base, budget)
	if cfg.Hashtags != "" {
		last := texts[len(texts)-1] + "\n\n" + cfg.Hashtags
		if len(last) > cfg.MaxChars {
			texts = append(texts, cfg.Hashtags)
		} else {
			texts[len(texts)-1] = last
		}
	}

	parts := make([]Part, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, Part{Text: t, Facets: HashtagFacets(t)})
	}
	return parts
}

func render(ev timing.Event) string {
	catEmoji, ok := categoryEmoji[ev.Category]
	if !ok {
		catEmoji = "ℹ️"
	}

	var b strings.Builder
	if ev.Flag != "" {
		if fe, ok := flagEmoji[ev.Flag]; ok {
			b.WriteString(fe)
			b.WriteString(" ")
		}
	}
	b.WriteString(catEmoji)
	b.WriteString(" F1 Race Control (")
	b.WriteString(ev.UTC.UTC().Format("15:04:05"))
	b.WriteString(" UTC):\n")
	b.WriteString(ev.Message)
	return b.String()
}

// split breaks text into chunks of at most maxLen characters, preferring
// word boundaries and marking continuations with "...".
func split(text string, maxLen int) []string {
	// Degenerate limits would loop on the continuation markers alone.
	if maxLen < 10 {
		return []string{text}
	}
	var parts []string
	current := text

	for len(current) > maxLen {
		cut := strings.LastIndex(current[:maxLen-5], " ")
		if cut <= 0 {
			// No space to break on: back the cut up to a rune boundary so
			// a multi-byte character is never sliced in half.
			cut = maxLen - 5
			for cut > 0 && !utf8.RuneStart(current[cut]) {
				cut--
			}
		}
		parts = append(parts, current[:cut]+"...")
		current = "..." + strings.TrimSpace(current[cut:])
	}

	parts = append(parts, current)
	return parts
}

// HashtagFacets returns byte-offset spans for every "#tag" token in
// text. Trailing punctuation ("#F1," or "#F1.") stays outside both the
// tag and the span.
func HashtagFacets(text string) []Facet {
	var facets []Facet
	off := 0
	for _, word := range strings.Fields(text) {
		idx := strings.Index(text[off:], word)
		if idx < 0 {
			continue
		}
		start := off + idx
		off = start + len(word)
		if !strings.HasPrefix(word, "#") {
			continue
		}
		word = strings.TrimRightFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		if len(word) < 2 {
			continue
		}
		facets = append(facets, Facet{ByteStart: start, ByteEnd: start + len(word), Tag: word[1:]})
	}
	return facets
}
