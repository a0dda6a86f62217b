// Package chunker splits normalized document text into overlapping,
// semantically bounded chunks sized for embedding and retrieval.
package chunker

import (
	"errors"
	"iter"
	"math"
	"regexp"
	"strings"

	"crimelens/internal/models"
)

// ErrEmptyInput is returned when the text to chunk is empty or whitespace.
var ErrEmptyInput = errors.New("chunker: empty input text")

// Classifier assigns a content type and a confidence in [0,1] to a chunk.
type Classifier func(text string) (models.ContentType, float64)

type Config struct {
	// TargetTokens is the desired chunk size in whitespace-delimited tokens.
	TargetTokens int
	// OverlapRatio is the fraction of TargetTokens repeated at the start of
	// the next chunk. Valid range 0.10-0.20.
	OverlapRatio float64
	// Tolerance is the fractional slack above TargetTokens before a single
	// sentence is hard-cut at word boundaries.
	Tolerance float64
	// Classifier labels each chunk; nil means the default keyword classifier.
	Classifier Classifier
}

type Chunker struct {
	target     int
	overlap    int
	ratio      float64
	hardLimit  int
	classifier Classifier
}

func New(cfg Config) *Chunker {
	target := cfg.TargetTokens
	if target <= 0 {
		target = 650
	}
	ratio := cfg.OverlapRatio
	if ratio < 0.10 || ratio > 0.20 {
		ratio = 0.15
	}
	tol := cfg.Tolerance
	if tol <= 0 || tol > 1 {
		tol = 0.20
	}
	cls := cfg.Classifier
	if cls == nil {
		cls = ClassifyContent
	}
	return &Chunker{
		target:     target,
		overlap:    int(math.Round(ratio * float64(target))),
		ratio:      ratio,
		hardLimit:  target + int(math.Round(tol*float64(target))),
		classifier: cls,
	}
}

// Chunk splits text eagerly. It fails only on empty input; malformed text
// degrades to hard word cuts.
func (c *Chunker) Chunk(text string) ([]models.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	var out []models.Chunk
	for ch := range c.Chunks(text) {
		out = append(out, ch)
	}
	return out, nil
}

// Chunks returns a lazy sequence over the chunks of text. Empty input yields
// nothing. The sequence is a pure function of text and may be re-iterated.
func (c *Chunker) Chunks(text string) iter.Seq[models.Chunk] {
	return func(yield func(models.Chunk) bool) {
		if strings.TrimSpace(text) == "" {
			return
		}
		units := c.splitUnits(text)

		var parts []string
		size := 0
		index := 0

		emit := func() bool {
			if len(parts) == 0 {
				return true
			}
			chunkText := strings.Join(parts, "\n\n")
			ctype, conf := c.classifier(chunkText)
			ok := yield(models.Chunk{
				ChunkIndex:   index,
				Text:         chunkText,
				TokenCount:   countTokens(chunkText),
				OverlapRatio: c.ratio,
				ContentType:  ctype,
				Confidence:   conf,
			})
			index++
			// Carry the trailing overlap tokens into the next chunk.
			tail := trailingTokens(chunkText, c.overlap)
			parts = parts[:0]
			size = 0
			if tail != "" {
				parts = append(parts, tail)
				size = countTokens(tail)
			}
			return ok
		}

		for _, unit := range units {
			unitTokens := countTokens(unit)
			if size > 0 && size+unitTokens > c.target {
				if !emit() {
					return
				}
			}
			parts = append(parts, unit)
			size += unitTokens
		}
		if len(parts) > 0 {
			// A final chunk holding only the overlap carry is not a chunk.
			if index == 0 || len(parts) > 1 || size > c.overlap {
				_ = emit()
			}
		}
	}
}

// splitUnits breaks text into paragraph-or-smaller units, none of which
// exceeds the hard token limit.
func (c *Chunker) splitUnits(text string) []string {
	paragraphs := splitParagraphs(text)
	var units []string
	for _, p := range paragraphs {
		if countTokens(p) <= c.target {
			units = append(units, p)
			continue
		}
		for _, s := range splitSentences(p) {
			if countTokens(s) <= c.hardLimit {
				units = append(units, s)
				continue
			}
			units = append(units, hardCut(s, c.target)...)
		}
	}
	return units
}

func splitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	// Scanned PDFs often lack blank lines between paragraphs.
	if len(out) == 1 {
		lines := strings.Split(text, "\n")
		out = out[:0]
		for _, l := range lines {
			if l = strings.TrimSpace(l); l != "" {
				out = append(out, l)
			}
		}
	}
	return out
}

var sentenceEndRe = regexp.MustCompile(`[.!?]+\s+`)

func splitSentences(text string) []string {
	parts := sentenceEndRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// hardCut slices an oversized sentence into windows of at most target tokens.
func hardCut(s string, target int) []string {
	words := strings.Fields(s)
	var out []string
	for start := 0; start < len(words); start += target {
		end := start + target
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}

func countTokens(s string) int {
	return len(strings.Fields(s))
}

// trailingTokens returns the last n whitespace tokens of s as a single string.
func trailingTokens(s string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}
