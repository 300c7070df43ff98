package extract

import (
	"fmt"

	"github.com/mizanai/mizan/langtag"
)

// extractionPrompt instructs the model to produce the extraction schema for
// one chunk of legal text. The %s slots are the language guidance block and
// the chunk text.
const extractionPrompt = `You are an information extraction engine for legal documents.
Given the following text chunk, extract entities, facts, legal concepts, case references, and relationships.

ENTITY TYPES (use exactly these values):
- PERSON       : a named individual
- ORGANIZATION : a company, authority, or institution
- CONTRACT     : a named contract or agreement
- LOCATION     : a place, address, or jurisdiction area
- DATE         : a specific date or deadline
- MONEY        : a monetary amount or payment obligation
- LAW          : a statute, article, or regulation
- OTHER        : anything else clearly named in the text

RELATION TYPES (use exactly these values):
- ABOUT        : a fact is about an entity            (src_label Fact, dst_label Entity)
- CONTAINS     : a document contains a fact           (src_label Document, dst_label Fact)
- MENTIONS     : a document mentions an entity        (src_label Document, dst_label Entity)
- RELATED_TO   : two entities or two concepts relate  (Entity/LegalConcept both sides)
- APPLIES_TO   : a legal concept applies to an entity (src_label LegalConcept, dst_label Entity)
- INVOLVES     : a case involves an entity            (src_label Case, dst_label Entity)

Return ONLY a JSON object with exactly these keys:
  "entities"  : array of {"name": string, "entity_type": string, "description": string}
  "facts"     : array of {"content": string, "fact_type": string, "confidence": number between 0 and 1}
  "concepts"  : array of {"term": string, "definition": string, "category": string}
  "cases"     : array of {"case_number": string, "case_name": string, "court": string, "jurisdiction": string, "status": string}
  "relations" : array of {"src_name": string, "dst_name": string, "type": string, "src_label": string, "dst_label": string}

Rules:
- Keep every name, term, and case number in its original script. Never transliterate or translate names.
- Only include items clearly supported by the text.
- Use empty arrays for categories with no findings.
- Do NOT include any text outside the JSON object.
%s
TEXT:
%s`

// arabicGuidance is prepended for Arabic and mixed-language chunks.
const arabicGuidance = `
ARABIC LEGAL TERMINOLOGY GUIDANCE:
- Recognise common Arabic legal roles: المستأجر (tenant), المؤجر (landlord), المدعي (plaintiff), المدعى عليه (defendant), الكفيل (guarantor), الموكل (principal), الوكيل (agent).
- Common fact types: التزام (obligation), دفع (payment), إنهاء (termination), غرامة (penalty), ضمان (warranty).
- Treat عقد/اتفاقية as CONTRACT entities, المحكمة references as court attributes of cases, and مواد القانون (e.g. المادة ١٢) as LAW entities.
- Keep all Arabic names and terms in Arabic script exactly as written.
`

// BuildPrompt returns the extract-mode prompt for a chunk. Arabic and mixed
// chunks get the Arabic legal terminology guidance block.
func BuildPrompt(language langtag.Language, chunkText string) string {
	guidance := ""
	if language == langtag.Arabic || language == langtag.Mixed {
		guidance = arabicGuidance
	}
	return fmt.Sprintf(extractionPrompt, guidance, chunkText)
}
