// Package domain defines the core entities of the paper parser: literature
// records, aliases, citation references, and ingestion tasks.
package domain

import (
	"strings"
	"time"
)

// AliasType classifies an external handle pointing at a literature.
type AliasType string

// Alias types.
const (
	AliasDOI     AliasType = "doi"
	AliasArXiv   AliasType = "arxiv"
	AliasPMID    AliasType = "pmid"
	AliasURL     AliasType = "url"
	AliasPDFURL  AliasType = "pdf_url"
	AliasTitleFP AliasType = "title_fp"

	// AliasFingerprint indexes the PDF content digest for phase-4 dedup.
	AliasFingerprint AliasType = "fingerprint"
)

// Alias is an external handle that identifies a literature node.
// The (Type, Value) pair is globally unique in the graph.
type Alias struct {
	Type      AliasType `json:"alias_type"`
	Value     string    `json:"alias_value"`
	CreatedAt time.Time `json:"created_at"`
}

// Identifiers holds all external identifiers attached to a literature.
// Identifier fields are set-valued over the record's lifetime: they may be
// filled in once and never change to a different value, and SourceURLs only
// grows.
type Identifiers struct {
	DOI         string   `json:"doi,omitempty"`
	ArXivID     string   `json:"arxiv_id,omitempty"`
	PMID        string   `json:"pmid,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	SourceURLs  []string `json:"source_urls,omitempty"`
}

// AddSourceURL appends a source URL if it is not already present.
func (i *Identifiers) AddSourceURL(url string) {
	if url == "" {
		return
	}
	for _, u := range i.SourceURLs {
		if u == url {
			return
		}
	}
	i.SourceURLs = append(i.SourceURLs, url)
}

// Author represents a paper author with optional sequence and affiliation.
type Author struct {
	Name        string `json:"name"`
	Sequence    string `json:"sequence,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
}

// Surname returns the author's last name token, lowercased.
// "Last, First" forms are recognized; otherwise the final whitespace-separated
// token is taken.
func (a Author) Surname() string {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return ""
	}
	if idx := strings.Index(name, ","); idx >= 0 {
		return strings.ToLower(strings.TrimSpace(name[:idx]))
	}
	parts := strings.Fields(name)
	return strings.ToLower(parts[len(parts)-1])
}

// Metadata holds the bibliographic metadata of a literature.
type Metadata struct {
	Title          string   `json:"title"`
	Authors        []Author `json:"authors"`
	Year           int      `json:"year,omitempty"`
	Journal        string   `json:"journal,omitempty"`
	Abstract       string   `json:"abstract,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	SourcePriority []string `json:"source_priority,omitempty"`
}

// Content holds fulltext-derived content of a literature.
type Content struct {
	PDFURL        string  `json:"pdf_url,omitempty"`
	SourcePageURL string  `json:"source_page_url,omitempty"`
	Fulltext      string  `json:"fulltext,omitempty"`
	ParsingMethod string  `json:"parsing_method,omitempty"`
	QualityScore  float64 `json:"quality_score,omitempty"`
}

// Literature is the canonical, deduplicated record of a scholarly work.
type Literature struct {
	LID         string      `json:"lid"`
	Identifiers Identifiers `json:"identifiers"`
	Metadata    Metadata    `json:"metadata"`
	Content     Content     `json:"content"`
	TaskInfo    *TaskInfo   `json:"task_info,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// PrimaryIdentifier returns the strongest external identifier of the record
// as an (alias type, value) pair, or empty values if none exists.
func (l *Literature) PrimaryIdentifier() (AliasType, string) {
	switch {
	case l.Identifiers.DOI != "":
		return AliasDOI, l.Identifiers.DOI
	case l.Identifiers.ArXivID != "":
		return AliasArXiv, l.Identifiers.ArXivID
	case l.Identifiers.PMID != "":
		return AliasPMID, l.Identifiers.PMID
	}
	return "", ""
}

// TaskInfo is the snapshot of the last or ongoing ingestion task embedded in
// a literature record.
type TaskInfo struct {
	TaskID     string          `json:"task_id"`
	Status     ExecutionStatus `json:"status"`
	ResultType ResultType      `json:"result_type,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Unresolved is a placeholder node for a cited-but-unknown work. It carries
// the raw reference text and whatever fields were parsed out of it, and is
// promoted to a Literature when a matching submission arrives.
type Unresolved struct {
	ID        string           `json:"id"`
	RawText   string           `json:"raw_text"`
	Parsed    *ParsedReference `json:"parsed,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NodeType labels a node returned by graph reads.
type NodeType string

// Graph node types.
const (
	NodeLiterature NodeType = "literature"
	NodeUnresolved NodeType = "unresolved"
)

// GraphNode is a node in a graph read result.
type GraphNode struct {
	ID      string   `json:"id"`
	Title   string   `json:"title,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
	Type    NodeType `json:"type"`
}

// GraphEdge is a directed edge in a graph read result.
type GraphEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight,omitempty"`
}

// Graph is the result of a depth-bounded neighborhood read.
type Graph struct {
	Nodes    []GraphNode    `json:"nodes"`
	Edges    []GraphEdge    `json:"edges"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CitationSource labels where a CITES edge came from.
type CitationSource string

// Citation edge sources.
const (
	CitationSourceAPI    CitationSource = "api"
	CitationSourceParser CitationSource = "parser"
	CitationSourceScrape CitationSource = "scrape"
)
