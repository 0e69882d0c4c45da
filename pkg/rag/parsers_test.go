package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestTextParserPassesThrough(t *testing.T) {
	p := NewTextParser("text", 100)

	item := newTestItem("i1", "h1", "hello world", nil)
	require.True(t, p.Supports(item))

	parsed, err := p.Parse(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "hello world", parsed.Text)
	assert.Equal(t, "text/plain", parsed.Metadata["content_type"])

	binary := newTestItem("i2", "h2", "", nil)
	binary.IsBinary = true
	assert.False(t, p.Supports(binary))
}

func TestXlsxParserExtractsRows(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "role"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "ada"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "engineer"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	item := &ContentItem{
		ID:            "x1",
		Action:        ActionUpsert,
		CollectionKey: "lm",
		ContentType:   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Content:       buf.Bytes(),
		IsBinary:      true,
	}

	p := NewXlsxParser("xlsx", 10)
	require.True(t, p.Supports(item))

	parsed, err := p.Parse(context.Background(), item)
	require.NoError(t, err)
	assert.Contains(t, parsed.Text, "name\trole")
	assert.Contains(t, parsed.Text, "ada\tengineer")
	assert.Equal(t, 1, parsed.Metadata["sheets"])
}

func TestParserSelectionByPriority(t *testing.T) {
	// The xlsx parser declares a lower priority number, so it must win for
	// spreadsheet items even when the text parser also sits on the dock.
	parsers := []Parser{NewTextParser("text", 100), NewXlsxParser("xlsx", 10)}

	item := &ContentItem{ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", IsBinary: true}
	var chosen Parser
	best := int(^uint(0) >> 1)
	for _, p := range parsers {
		if p.Supports(item) && p.Priority() < best {
			best = p.Priority()
			chosen = p
		}
	}
	require.NotNil(t, chosen)
	assert.Equal(t, "xlsx", chosen.ID())
}
