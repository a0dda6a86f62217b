package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"crimelens/internal/models"
	"crimelens/internal/util"
)

// FormatResponse appends a numbered source list to the generated text.
// Reference numbers are 1-based in order of first appearance in the used
// document set, deduplicated by source document. The output is a pure
// function of its inputs.
func FormatResponse(responseText string, used []models.RetrievedDocument) (string, []models.Source, error) {
	body := strings.TrimSpace(responseText)
	if body == "" {
		return "", nil, errors.New("empty generation output")
	}

	seen := make(map[string]bool)
	var sources []models.Source
	for _, d := range used {
		key := sourceKey(d)
		if seen[key] {
			continue
		}
		seen[key] = true
		md := d.Chunk.Metadata
		sources = append(sources, models.Source{
			Ref:         len(sources) + 1,
			Name:        sourceName(d),
			Authority:   md.DocumentAuthority,
			Reliability: md.SourceReliability,
			Year:        md.PublicationYear,
			CrimeType:   md.CrimeType,
			ChunkID:     d.Chunk.ChunkID,
			Preview:     util.DisplaySnippet(d.Chunk.Text, 160),
		})
	}
	if len(sources) == 0 {
		return body, []models.Source{}, nil
	}

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\n---\nSources consulted:\n")
	for _, s := range sources {
		b.WriteString(formatSourceLine(s))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), sources, nil
}

// formatSourceLine renders "[n] name (authority, reliability) - year - crime
// type", omitting whatever is absent.
func formatSourceLine(s models.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", s.Ref, s.Name)

	var quals []string
	if s.Authority != "" {
		quals = append(quals, s.Authority)
	}
	if s.Reliability != "" {
		quals = append(quals, s.Reliability+" reliability")
	}
	if len(quals) > 0 {
		b.WriteString(" (" + strings.Join(quals, ", ") + ")")
	}
	if s.Year > 0 {
		b.WriteString(" - " + strconv.Itoa(s.Year))
	}
	if s.CrimeType != "" {
		b.WriteString(" - " + s.CrimeType)
	}
	return b.String()
}

// sourceKey dedupes citations by source document rather than chunk, so two
// chunks of the same report share one reference number.
func sourceKey(d models.RetrievedDocument) string {
	if d.Chunk.Metadata.Source != "" {
		return "src:" + d.Chunk.Metadata.Source
	}
	if d.Chunk.DocumentID != "" {
		return "doc:" + d.Chunk.DocumentID
	}
	return "chunk:" + d.Chunk.ChunkID
}

func sourceName(d models.RetrievedDocument) string {
	if d.Chunk.Metadata.Source != "" {
		return d.Chunk.Metadata.Source
	}
	if d.Chunk.DocumentID != "" {
		return d.Chunk.DocumentID
	}
	return d.Chunk.ChunkID
}
