// Package metadata derives criminological metadata from document text using
// keyword and pattern heuristics. The fields it fills drive collection
// routing, retrieval filters, and source reliability labels.
package metadata

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"crimelens/internal/models"
)

var crimePatterns = []struct {
	crimeType string
	re        *regexp.Regexp
}{
	// Serial homicide must match before plain homicide.
	{"serial_homicide", regexp.MustCompile(`(?i)\b(serial\s+killer|serial\s+murder|serial\s+homicide)\b`)},
	{"homicide", regexp.MustCompile(`(?i)\b(homicide|murder|killing)\b`)},
	{"domestic_violence", regexp.MustCompile(`(?i)\bdomestic\s+violence\b`)},
	{"organized_crime", regexp.MustCompile(`(?i)\b(organized\s+crime|racketeering|mafia)\b`)},
	{"terrorism", regexp.MustCompile(`(?i)\b(terrorism|terrorist)\b`)},
	{"human_trafficking", regexp.MustCompile(`(?i)\bhuman\s+trafficking\b`)},
}

var authorityPatterns = []struct {
	authority string
	re        *regexp.Regexp
}{
	{"FBI", regexp.MustCompile(`(?i)\b(FBI|Federal\s+Bureau\s+of\s+Investigation)\b`)},
	{"DOJ", regexp.MustCompile(`(?i)\b(DOJ|Department\s+of\s+Justice)\b`)},
	{"UNODC", regexp.MustCompile(`(?i)\b(UNODC|United\s+Nations\s+Office\s+on\s+Drugs\s+and\s+Crime)\b`)},
	{"judicial", regexp.MustCompile(`(?i)\b(sentencing|tribunal|court|judicial|appellate)\b`)},
	{"academic", regexp.MustCompile(`(?i)\b(university|academic|journal|peer[- ]reviewed)\b`)},
	{"police", regexp.MustCompile(`(?i)\b(police|law\s+enforcement\s+agency)\b`)},
}

var geographyPatterns = []struct {
	geography string
	re        *regexp.Regexp
}{
	{"USA", regexp.MustCompile(`(?i)\b(USA|United\s+States|U\.S\.)\b`)},
	{"Mexico", regexp.MustCompile(`(?i)\bMexico\b`)},
	{"Colombia", regexp.MustCompile(`(?i)\bColombia\b`)},
	{"Spain", regexp.MustCompile(`(?i)\bSpain\b`)},
	{"UK", regexp.MustCompile(`(?i)\b(United\s+Kingdom|UK|Britain)\b`)},
}

var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

var documentTypePatterns = []struct {
	docType string
	re      *regexp.Regexp
}{
	{"official_investigation", regexp.MustCompile(`(?i)\b(investigation|investigative\s+report|official\s+report)\b`)},
	{"manual", regexp.MustCompile(`(?i)\b(manual|guide|handbook|protocol)\b`)},
	{"academic_paper", regexp.MustCompile(`(?i)\b(paper|article|study|research)\b`)},
	{"court_ruling", regexp.MustCompile(`(?i)\b(sentencing|ruling|judicial\s+decision|v\.\s)\b`)},
	{"case_study", regexp.MustCompile(`(?i)\bcase\s+study\b`)},
	// Forensic technical material is treated like a manual.
	{"manual", regexp.MustCompile(`(?i)\b(forensic|criminalistics|ballistics|toxicology)\b`)},
}

var casePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([A-Z]{2,10}\s+[A-Z]{2,10})\b`),
	regexp.MustCompile(`Case\s+of\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`),
	regexp.MustCompile(`Case\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`),
}

var caseExclusions = map[string]bool{
	"FBI": true, "DOJ": true, "UNODC": true, "USA": true,
}

// Extractor derives document-level criminological metadata from raw text.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

// Extract fills the criminological fields it can infer from text and the
// document's filename. Fields it cannot infer are left empty rather than
// guessed.
func (e *Extractor) Extract(text, filename string) models.ChunkMetadata {
	combined := text + " " + filename
	md := models.ChunkMetadata{Source: filename}

	md.CrimeType = extractCrimeType(text)
	md.DocumentAuthority = extractAuthority(combined)
	md.Geography = extractGeography(text)
	if y := extractYear(text); y > 0 {
		md.PublicationYear = y
	}
	md.DocumentType = inferDocumentType(combined)
	md.SourceReliability = DeriveReliability(md.DocumentAuthority, md.DocumentType)
	if cases := extractCases(text); len(cases) > 0 {
		md.Case = cases[0]
	}
	return md
}

func extractCrimeType(text string) string {
	for _, p := range crimePatterns {
		if p.re.MatchString(text) {
			return p.crimeType
		}
	}
	return ""
}

func extractAuthority(text string) string {
	for _, p := range authorityPatterns {
		if p.re.MatchString(text) {
			return p.authority
		}
	}
	return "other"
}

func extractGeography(text string) string {
	for _, p := range geographyPatterns {
		if p.re.MatchString(text) {
			return p.geography
		}
	}
	return ""
}

// extractYear returns the most recent plausible year mentioned in the text,
// or 0 when none is found.
func extractYear(text string) int {
	best := 0
	for _, m := range yearRe.FindAllString(text, -1) {
		y, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		if y >= 1900 && y <= 2099 && y > best {
			best = y
		}
	}
	return best
}

func inferDocumentType(text string) string {
	for _, p := range documentTypePatterns {
		if p.re.MatchString(text) {
			return p.docType
		}
	}
	return ""
}

// DeriveReliability maps authority and document type to a reliability tier.
// Specialized technical material without a recognized authority defaults to
// high, since the corpus is mostly official manuals and vetted papers.
func DeriveReliability(authority, docType string) string {
	switch authority {
	case "FBI", "DOJ", "UNODC", "judicial":
		return models.ReliabilityHigh
	}
	switch docType {
	case "manual", "academic_paper", "official_investigation", "court_ruling", "case_study":
		return models.ReliabilityHigh
	}
	switch authority {
	case "academic", "police":
		return models.ReliabilityMedium
	}
	return models.ReliabilityHigh
}

// extractCases collects up to five distinct case names mentioned in the text.
func extractCases(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, re := range casePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			c := strings.TrimSpace(m[len(m)-1])
			if len(c) <= 2 || caseExclusions[c] || seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// RouteCollection picks the collection a document belongs to from its
// metadata. Documents with no distinguishing type land in forensic_cases.
func RouteCollection(md models.ChunkMetadata) string {
	docType := strings.ToLower(md.DocumentType)
	crime := strings.ToLower(md.CrimeType)

	switch {
	case strings.Contains(docType, "theory"):
		return "criminology_theory"
	case strings.Contains(docType, "case"):
		if strings.Contains(crime, "serial") {
			return "serial_killers"
		}
		return "forensic_cases"
	case strings.Contains(docType, "ruling") || strings.Contains(docType, "legislation"):
		return "legislation"
	case strings.Contains(docType, "manual") || strings.Contains(docType, "technique"):
		return "investigation_techniques"
	}
	if strings.Contains(crime, "serial") {
		return "serial_killers"
	}
	return "forensic_cases"
}

// EnrichChunk copies the document metadata onto a chunk and adds the
// chunk-local section heading when one is detectable.
func (e *Extractor) EnrichChunk(chunkText string, docMeta models.ChunkMetadata) models.ChunkMetadata {
	md := docMeta
	if section := extractSection(chunkText); section != "" {
		md.Section = section
	}
	return md
}

var titleCaseRe = regexp.MustCompile(`^[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*$`)

// extractSection looks for a short heading in the first lines of a chunk.
func extractSection(text string) string {
	lines := strings.SplitN(text, "\n", 4)
	if len(lines) > 3 {
		lines = lines[:3]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || len(line) >= 100 {
			continue
		}
		if line == strings.ToUpper(line) && strings.ContainsAny(line, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			return line
		}
		if titleCaseRe.MatchString(line) {
			return line
		}
	}
	return ""
}
