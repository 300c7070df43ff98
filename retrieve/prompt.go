package retrieve

import (
	"fmt"
	"strings"

	"github.com/mizanai/mizan/graphstore"
	"github.com/mizanai/mizan/langtag"
	"github.com/mizanai/mizan/store"
)

// disclaimer is the fixed opening block of every answer prompt.
const disclaimer = "This is not legal advice."

// answerSystemPrompt frames the model's role for answer mode.
const answerSystemPrompt = `You are a legal document assistant. Answer strictly from the provided context.
Cite the documents and entities you rely on. If the context does not contain the answer, say so plainly.
Answer in the language of the user's question. Keep names, terms, and case numbers in their original script.`

// BuildAnswerPrompt assembles the four labelled prompt blocks: disclaimer,
// knowledge-graph context with citations, recent history, and the user
// question. It is a pure function of its inputs.
func BuildAnswerPrompt(queryLanguage langtag.Language, pack *Result, history []store.Message, question string) string {
	var b strings.Builder

	b.WriteString("Disclaimer: ")
	b.WriteString(disclaimer)
	b.WriteString("\n\n")

	b.WriteString("Context from Knowledge Graph:\n")
	writeContext(&b, pack)
	b.WriteString("\n")

	b.WriteString("Recent History:\n")
	if len(history) == 0 {
		b.WriteString("(none)\n")
	}
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\n")

	b.WriteString("User Question:\n")
	b.WriteString(question)
	b.WriteString("\n")

	if queryLanguage == langtag.Arabic {
		b.WriteString("\nأجب باللغة العربية.\n")
	}

	return b.String()
}

func writeContext(b *strings.Builder, pack *Result) {
	if pack == nil || (len(pack.Entities) == 0 && len(pack.Chunks) == 0) {
		b.WriteString("(no indexed knowledge for this conversation)\n")
		return
	}

	if len(pack.Entities) > 0 {
		b.WriteString("Entities:\n")
		for _, e := range pack.Entities {
			fmt.Fprintf(b, "- [%s] %s%s (language: %s)\n",
				e.Label, nodeName(e.Node), nodeDetail(e.Node), e.Language)
		}
	}

	if len(pack.Relationships) > 0 {
		b.WriteString("Relationships:\n")
		names := nodeNamesByID(pack)
		for _, rel := range pack.Relationships {
			from := names[rel.FromID]
			to := names[rel.ToID]
			if from == "" || to == "" {
				continue
			}
			fmt.Fprintf(b, "- %s %s %s (language: %s)\n", from, rel.Type, to, rel.Language)
		}
	}

	if len(pack.Expanded) > 0 {
		b.WriteString("Related:\n")
		for _, n := range pack.Expanded {
			fmt.Fprintf(b, "- [%s] %s%s (language: %s)\n",
				n.Label, nodeName(n), nodeDetail(n), n.Language)
		}
	}

	if len(pack.Chunks) > 0 {
		b.WriteString("Document Chunks:\n")
		for _, c := range pack.Chunks {
			fmt.Fprintf(b, "--- %s, page %d (language: %s)\n%s\n",
				c.SourceFile, c.Page, c.Language, c.Content)
		}
	}
}

// nodeName picks the human-readable name of a node by label.
func nodeName(n graphstore.Node) string {
	for _, key := range []string{"name", "term", "case_number", "title", "content"} {
		if v, ok := n.Attrs[key].(string); ok && v != "" {
			return v
		}
	}
	return n.Key
}

// nodeDetail appends the descriptive attribute, when present.
func nodeDetail(n graphstore.Node) string {
	for _, key := range []string{"description", "definition", "case_name"} {
		if v, ok := n.Attrs[key].(string); ok && v != "" {
			return ": " + v
		}
	}
	if v, ok := n.Attrs["entity_type"].(string); ok && v != "" {
		return " (" + v + ")"
	}
	return ""
}

// nodeNamesByID indexes every node in the pack by id for edge rendering.
func nodeNamesByID(pack *Result) map[string]string {
	names := make(map[string]string)
	for _, e := range pack.Entities {
		names[e.ID] = nodeName(e.Node)
	}
	for _, n := range pack.Expanded {
		names[n.ID] = nodeName(n)
	}
	return names
}
