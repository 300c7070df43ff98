package retrieve

import (
	"regexp"
	"strings"
)

// wordPattern tokenises a query on word boundaries, keeping Arabic and
// Latin tokens alike.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// englishStopWords are question words, articles, pronouns, and connectors
// that carry no retrieval signal.
var englishStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "has": true, "have": true, "had": true, "do": true,
	"does": true, "did": true, "will": true, "shall": true, "can": true,
	"could": true, "would": true, "should": true, "may": true, "might": true,
	"must": true, "who": true, "whom": true, "what": true, "when": true,
	"where": true, "why": true, "how": true, "which": true, "this": true,
	"that": true, "these": true, "those": true, "it": true, "its": true,
	"i": true, "me": true, "my": true, "you": true, "your": true, "we": true,
	"our": true, "they": true, "their": true, "he": true, "she": true,
	"him": true, "her": true, "his": true, "with": true, "from": true,
	"by": true, "about": true, "not": true, "no": true, "please": true,
	"tell": true, "there": true, "any": true,
}

// arabicStopWords mirror the English list for Arabic queries.
var arabicStopWords = map[string]bool{
	"ما": true, "ماذا": true, "من": true, "متى": true, "أين": true,
	"اين": true, "كيف": true, "لماذا": true, "هل": true, "في": true,
	"على": true, "عن": true, "إلى": true, "الى": true, "مع": true,
	"هذا": true, "هذه": true, "ذلك": true, "تلك": true, "التي": true,
	"الذي": true, "الذين": true, "هو": true, "هي": true, "هم": true,
	"أنا": true, "انا": true, "أنت": true, "انت": true, "نحن": true,
	"يوجد": true, "كان": true, "كانت": true, "يكون": true, "أن": true,
	"ان": true, "إن": true, "لا": true, "نعم": true, "أو": true,
	"او": true, "و": true, "ثم": true, "قد": true, "كل": true,
	"بعض": true, "غير": true, "بين": true, "عند": true, "لدى": true,
	"منذ": true, "حتى": true, "أي": true, "اي": true,
}

// MeaningfulTerms tokenises the query and drops stop words in both
// languages. When nothing survives, the original query is retained as a
// single term so retrieval always has something to match.
func MeaningfulTerms(query string) []string {
	var terms []string
	seen := make(map[string]bool)
	for _, tok := range wordPattern.FindAllString(query, -1) {
		low := strings.ToLower(tok)
		if englishStopWords[low] || arabicStopWords[tok] || arabicStopWords[low] {
			continue
		}
		if seen[low] {
			continue
		}
		seen[low] = true
		terms = append(terms, tok)
	}
	if len(terms) == 0 {
		q := strings.TrimSpace(query)
		if q != "" {
			terms = []string{q}
		}
	}
	return terms
}

// generalContentPhrases flag queries that ask for the overall content of
// the uploaded file rather than a specific fact, in both languages.
var generalContentPhrases = []string{
	"what is in the file",
	"what's in the file",
	"what does the file contain",
	"contents of the file",
	"content of the file",
	"file content",
	"what is in the document",
	"what does the document contain",
	"summarize the document",
	"summarise the document",
	"summary of the document",
	"ماذا يوجد في الملف",
	"ماذا يوجد فالملف",
	"ما يوجد في الملف",
	"ما في الملف",
	"محتوى الملف",
	"محتويات الملف",
	"ماذا يحتوي الملف",
	"ما هو محتوى الملف",
	"لخص المستند",
	"لخص الملف",
	"ملخص المستند",
}

// IsGeneralContentQuery reports whether the query asks for the file's
// overall content, which widens the semantic pass to full coverage.
func IsGeneralContentQuery(query string) bool {
	low := strings.ToLower(strings.TrimSpace(query))
	for _, phrase := range generalContentPhrases {
		if strings.Contains(low, phrase) {
			return true
		}
	}
	return false
}
