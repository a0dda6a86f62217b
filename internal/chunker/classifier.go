package chunker

import (
	"strings"

	"crimelens/internal/models"
)

var contentKeywords = []struct {
	ctype    models.ContentType
	keywords []string
}{
	{models.ContentTheory, []string{"theory", "model", "framework", "hypothesis", "typology"}},
	{models.ContentFacts, []string{"evidence", "fact", "occurred", "victim", "scene", "recovered", "documented"}},
	{models.ContentAnalysis, []string{"analysis", "analyze", "examine", "evaluate", "compare", "assessment"}},
	{models.ContentConclusion, []string{"conclusion", "summary", "in summary", "findings indicate", "concluded"}},
}

// ClassifyContent is the default keyword classifier. It labels a chunk with
// the content type whose keywords appear most often, with confidence equal to
// that type's share of all keyword hits. No hits means unclassified.
func ClassifyContent(text string) (models.ContentType, float64) {
	lower := strings.ToLower(text)

	best := models.ContentUnclassified
	bestHits := 0
	total := 0
	for _, cat := range contentKeywords {
		hits := 0
		for _, kw := range cat.keywords {
			hits += strings.Count(lower, kw)
		}
		total += hits
		if hits > bestHits {
			bestHits = hits
			best = cat.ctype
		}
	}
	if bestHits == 0 {
		return models.ContentUnclassified, 0
	}
	return best, float64(bestHits) / float64(total)
}
