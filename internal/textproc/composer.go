// Package textproc composes the embedding text for searchable documents
// from hierarchical context, most-specific source first, under per-source
// word budgets and a hard global cap.
package textproc

import (
	"strings"
	"unicode"
)

// MaxWords is the hard cap on composed embedding text length.
const MaxWords = 20

// Per-source word budgets.
const (
	SegmentBudget      = 10
	SegmentationBudget = 5
	RecordingBudget    = 5
	PresetBudget       = 10
	EffectBudget       = 5
)

// stopWords is the fixed set dropped during cleaning, including
// audio-adjacent noise words that carry no semantic signal here.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {},
	"could": {}, "should": {}, "may": {}, "might": {},
	"this": {}, "that": {}, "these": {}, "those": {},
	"sound": {}, "audio": {}, "recording": {}, "sample": {},
	"track": {}, "file": {}, "piece": {},
}

// Source is one prioritized text contribution with its word budget.
type Source struct {
	Text   string
	Budget int
}

// Composer builds embedding texts. Lemmatize, when set, maps each token
// to its lemma; it must stay fixed for the lifetime of an index (change
// it and a rebuild is required).
type Composer struct {
	Lemmatize func(string) string
}

// New returns a Composer without a lemmatizer.
func New() *Composer { return &Composer{} }

// SegmentText composes a segment's embedding text from its own
// description, the segmentation description, and the recording
// description, in that priority order.
func (c *Composer) SegmentText(segmentDesc, segmentationDesc, recordingDesc string) string {
	return c.Compose([]Source{
		{Text: segmentDesc, Budget: SegmentBudget},
		{Text: segmentationDesc, Budget: SegmentationBudget},
		{Text: recordingDesc, Budget: RecordingBudget},
	})
}

// PresetText composes a preset's embedding text from the preset and
// effect descriptions.
func (c *Composer) PresetText(presetDesc, effectDesc string) string {
	return c.Compose([]Source{
		{Text: presetDesc, Budget: PresetBudget},
		{Text: effectDesc, Budget: EffectBudget},
	})
}

// Compose cleans each source, takes at most its budgeted tokens, joins
// them with single spaces, and truncates to MaxWords.
func (c *Composer) Compose(sources []Source) string {
	var words []string
	for _, src := range sources {
		toks := c.tokens(src.Text)
		if len(toks) > src.Budget {
			toks = toks[:src.Budget]
		}
		words = append(words, toks...)
		if len(words) >= MaxWords {
			break
		}
	}
	if len(words) > MaxWords {
		words = words[:MaxWords]
	}
	return strings.Join(words, " ")
}

// EnhanceQuery applies the same cleaning as composition, without any
// budget.
func (c *Composer) EnhanceQuery(query string) string {
	return strings.Join(c.tokens(query), " ")
}

func (c *Composer) tokens(text string) []string {
	cleaned := clean(text)
	var out []string
	for _, w := range strings.Fields(cleaned) {
		if _, skip := stopWords[w]; skip {
			continue
		}
		if c.Lemmatize != nil {
			w = c.Lemmatize(w)
			if w == "" {
				continue
			}
		}
		out = append(out, w)
	}
	return out
}

// clean lowercases and maps punctuation to whitespace.
func clean(text string) string {
	lowered := strings.ToLower(text)
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, lowered)
}
