package domain

import "strconv"

// ParsedReference holds the structured fields extracted from a raw citation
// string. All fields are optional; a reference may be raw text only.
type ParsedReference struct {
	Title   string   `json:"title,omitempty"`
	Authors []Author `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
	DOI     string   `json:"doi,omitempty"`
	ArXivID string   `json:"arxiv_id,omitempty"`
}

// Reference is one normalized entry of a literature's bibliography.
type Reference struct {
	RawText string           `json:"raw_text"`
	Parsed  *ParsedReference `json:"parsed,omitempty"`
	Source  string           `json:"source,omitempty"`
}

// DedupKey returns the in-list deduplication key for a reference: the DOI
// when present, otherwise normalized title plus year, otherwise the raw text.
func (r *Reference) DedupKey() string {
	if r.Parsed != nil {
		if r.Parsed.DOI != "" {
			return "doi:" + r.Parsed.DOI
		}
		if r.Parsed.Title != "" {
			return "title:" + NormalizeTitle(r.Parsed.Title) + "|" + strconv.Itoa(r.Parsed.Year)
		}
	}
	return "raw:" + NormalizeTitle(r.RawText)
}

// DeduplicateReferences removes in-list duplicates, preferring the first
// occurrence. Order is preserved.
func DeduplicateReferences(refs []Reference) []Reference {
	seen := make(map[string]struct{}, len(refs))
	out := make([]Reference, 0, len(refs))
	for _, ref := range refs {
		key := ref.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ref)
	}
	return out
}
