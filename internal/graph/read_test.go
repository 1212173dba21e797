package graph

import (
	"encoding/json"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

func literatureNode(t *testing.T) dbtype.Node {
	t.Helper()
	meta, err := json.Marshal(domain.Metadata{
		Title:   "Attention Is All You Need",
		Authors: []domain.Author{{Name: "Ashish Vaswani"}, {Name: "Noam Shazeer"}},
		Year:    2017,
	})
	require.NoError(t, err)

	return dbtype.Node{Props: map[string]any{
		"lid":           "2017-vaswani-aayn-a8c4",
		"doi":           "10.48550/arxiv.1706.03762",
		"arxiv_id":      "1706.03762",
		"title":         "Attention Is All You Need",
		"year":          int64(2017),
		"source_urls":   []any{"https://arxiv.org/abs/1706.03762"},
		"metadata_json": string(meta),
		"content_json":  `{"pdf_url":"https://arxiv.org/pdf/1706.03762"}`,
		"created_at":    "2024-03-01T10:00:00Z",
		"updated_at":    "2024-03-02T10:00:00Z",
	}}
}

func TestNodeToLiterature(t *testing.T) {
	t.Parallel()

	lit := nodeToLiterature(literatureNode(t))
	require.NotNil(t, lit)

	assert.Equal(t, "2017-vaswani-aayn-a8c4", lit.LID)
	assert.Equal(t, "10.48550/arxiv.1706.03762", lit.Identifiers.DOI)
	assert.Equal(t, "1706.03762", lit.Identifiers.ArXivID)
	assert.Equal(t, []string{"https://arxiv.org/abs/1706.03762"}, lit.Identifiers.SourceURLs)
	assert.Equal(t, "Attention Is All You Need", lit.Metadata.Title)
	require.Len(t, lit.Metadata.Authors, 2)
	assert.Equal(t, "https://arxiv.org/pdf/1706.03762", lit.Content.PDFURL)
	assert.True(t, lit.CreatedAt.Before(lit.UpdatedAt))
}

func TestNodeToLiteratureMissingLID(t *testing.T) {
	t.Parallel()

	assert.Nil(t, nodeToLiterature(dbtype.Node{Props: map[string]any{"title": "x"}}))
}

func TestNodeToGraphNode(t *testing.T) {
	t.Parallel()

	gn := nodeToGraphNode(literatureNode(t))
	assert.Equal(t, "2017-vaswani-aayn-a8c4", gn.ID)
	assert.Equal(t, domain.NodeLiterature, gn.Type)
	assert.Equal(t, 2017, gn.Year)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, gn.Authors)
}

func TestNodeToGraphNodeUnresolved(t *testing.T) {
	t.Parallel()

	gn := nodeToGraphNode(dbtype.Node{Props: map[string]any{
		"uid":      "u-123",
		"raw_text": "Some citation nobody resolved yet",
	}})
	assert.Equal(t, "u-123", gn.ID)
	assert.Equal(t, domain.NodeUnresolved, gn.Type)
	assert.Equal(t, "Some citation nobody resolved yet", gn.Title)
}

func TestTitleProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "longest word wins", input: "attention is all you need", expected: "attention"},
		{name: "short words fall back to full title", input: "go big or", expected: "go big or"},
		{name: "single word", input: "transformers", expected: "transformers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, titleProbe(tt.input))
		})
	}
}
