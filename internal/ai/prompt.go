package ai

import (
	"fmt"
	"strings"

	"github.com/xxxsen/ragkb/internal/model"
)

const groundedPromptTemplate = `You are a knowledge base assistant.
Answer the question using ONLY the context documents below.
- If the context does not contain the answer, say that you don't know.
- Use the same language as the question.
- Be concise and do not invent facts.

CONTEXT:
%s

QUESTION:
%s`

const ungroundedPromptTemplate = `You are a knowledge base assistant.
No documents in the knowledge base matched the question below, so answer it
from general knowledge.
- Start by stating that the answer is not backed by the knowledge base.
- Say how certain you are, and point out anything that should be verified
  with local authorities or official sources.
- Do not invent specifics such as phone numbers, addresses, names or figures.
- Use the same language as the question.

QUESTION:
%s`

// BuildAnswerPrompt renders docs as numbered context blocks in the order given,
// each carrying its metadata and, for scored retrievals, its similarity.
func BuildAnswerPrompt(query string, docs []*model.Document) string {
	query = strings.TrimSpace(query)
	if len(docs) == 0 {
		return fmt.Sprintf(ungroundedPromptTemplate, query)
	}
	var sb strings.Builder
	for i, doc := range docs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, doc.Title)
		if doc.Category != "" {
			fmt.Fprintf(&sb, "Category: %s\n", doc.Category)
		}
		if doc.EmergencyType != "" {
			fmt.Fprintf(&sb, "Emergency type: %s\n", doc.EmergencyType)
		}
		if len(doc.Tags) > 0 {
			fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(doc.Tags, ", "))
		}
		if doc.Similarity != nil {
			fmt.Fprintf(&sb, "Similarity: %.2f\n", *doc.Similarity)
		}
		sb.WriteString(strings.TrimSpace(doc.Content))
	}
	return fmt.Sprintf(groundedPromptTemplate, sb.String(), query)
}
