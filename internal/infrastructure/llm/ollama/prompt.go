package ollama

// classificationSnippetLimit bounds the prompt so large documents do not
// overflow the model context; the opening of a document is usually enough to
// classify it.
const classificationSnippetLimit = 4000

func buildClassificationPrompt(text string) string {
	snippet := text
	if len(snippet) > classificationSnippetLimit {
		snippet = snippet[:classificationSnippetLimit]
	}

	return `Classify the document below for a searchable knowledge base.
Return a strict JSON object with exactly these keys:
category (string), subcategory (string), tags (array of strings), confidence (number from 0 to 1), summary (string).
No markdown, no extra keys.

Document:
` + snippet
}
