// Package prompts holds the system and user prompt templates used for
// criminological question answering and report generation.
package prompts

import (
	"fmt"
	"strings"
)

// AnalystSystem instructs the model to answer strictly from retrieved
// excerpts and to cite them by bracketed reference number.
const AnalystSystem = `You are a senior criminological analyst. Answer the question using ONLY the document excerpts provided below.

Rules:
- Base every claim on the excerpts. Do not use outside knowledge.
- Cite the excerpts you rely on with bracketed numbers, e.g. [1] or [2].
- If the excerpts do not contain enough information to answer, say so plainly.
- Be precise about dates, jurisdictions, and legal terminology.
- Distinguish documented facts from analytical interpretation.`

// ReportSystem is used for multi-section case report generation.
const ReportSystem = `You are a criminological analyst writing one section of an evidence-based case report. Use ONLY the document excerpts provided. Cite them with bracketed numbers like [1]. Write in measured, professional prose without speculation.`

// InsufficientEvidence is returned verbatim when retrieval produces no
// usable documents. No generation call is made in that case.
const InsufficientEvidence = "No relevant documents were found for this query. The available corpus does not contain sufficient evidence to answer it."

// ContextBlock renders one retrieved excerpt as it appears in the prompt
// context. Ref is the 1-based citation number the answer should use.
func ContextBlock(ref int, source string, text string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("[Document %d - Source: %s]\n%s", ref, source, strings.TrimSpace(text))
}

// JoinContext joins rendered excerpt blocks with the separator the analyst
// prompts expect between documents.
func JoinContext(blocks []string) string {
	return strings.Join(blocks, "\n---\n\n")
}

// AnswerPrompt builds the user message for a question given pre-rendered
// context blocks.
func AnswerPrompt(question string, contextBlocks []string) string {
	var b strings.Builder
	b.WriteString("Document excerpts:\n\n")
	b.WriteString(JoinContext(contextBlocks))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nAnswer with bracketed citations.")
	return b.String()
}

// ReportSectionPrompt builds the user message for one report section.
func ReportSectionPrompt(topic, section string, contextBlocks []string) string {
	var b strings.Builder
	b.WriteString("Document excerpts:\n\n")
	b.WriteString(JoinContext(contextBlocks))
	b.WriteString("\n\nReport topic: ")
	b.WriteString(strings.TrimSpace(topic))
	b.WriteString("\nSection to write: ")
	b.WriteString(strings.TrimSpace(section))
	b.WriteString("\n\nWrite the section with bracketed citations.")
	return b.String()
}
