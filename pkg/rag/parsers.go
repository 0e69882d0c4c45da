// Copyright 2026 MissionBay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rag

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/missionbay/agentflow/pkg/flow"
)

// TextParser handles any textual item. It registers with a high priority
// number so format-specific parsers get first pick.
type TextParser struct {
	flow.BaseResource
	priority int
}

func NewTextParser(id string, priority int) *TextParser {
	return &TextParser{BaseResource: flow.NewBaseResource(id), priority: priority}
}

func (p *TextParser) Priority() int { return p.priority }

func (p *TextParser) Supports(item *ContentItem) bool {
	return !item.IsBinary
}

func (p *TextParser) Parse(ctx context.Context, item *ContentItem) (*ParsedContent, error) {
	return &ParsedContent{
		Text: item.Text(),
		Metadata: map[string]any{
			"content_type": item.ContentType,
		},
	}, nil
}

// PDFParser extracts plain text per page.
type PDFParser struct {
	flow.BaseResource
	priority int
}

func NewPDFParser(id string, priority int) *PDFParser {
	return &PDFParser{BaseResource: flow.NewBaseResource(id), priority: priority}
}

func (p *PDFParser) Priority() int { return p.priority }

func (p *PDFParser) Supports(item *ContentItem) bool {
	return item.ContentType == "application/pdf"
}

func (p *PDFParser) Parse(ctx context.Context, item *ContentItem) (*ParsedContent, error) {
	data := item.Bytes()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf parser '%s': %w", p.ID(), err)
	}

	var parts []string
	pages := reader.NumPage()
	for num := 1; num <= pages; num++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	return &ParsedContent{
		Text: strings.Join(parts, "\n\n"),
		Metadata: map[string]any{
			"content_type": item.ContentType,
			"pages":        pages,
		},
	}, nil
}

var docxTextPattern = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// DocxParser extracts the text runs of a Word document.
type DocxParser struct {
	flow.BaseResource
	priority int
}

func NewDocxParser(id string, priority int) *DocxParser {
	return &DocxParser{BaseResource: flow.NewBaseResource(id), priority: priority}
}

func (p *DocxParser) Priority() int { return p.priority }

func (p *DocxParser) Supports(item *ContentItem) bool {
	return item.ContentType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

func (p *DocxParser) Parse(ctx context.Context, item *ContentItem) (*ParsedContent, error) {
	data := item.Bytes()
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("docx parser '%s': %w", p.ID(), err)
	}
	defer doc.Close()

	raw := doc.Editable().GetContent()

	// GetContent returns document.xml; keep only the text runs, one
	// paragraph per line.
	var b strings.Builder
	for _, para := range strings.Split(raw, "</w:p>") {
		var runs []string
		for _, m := range docxTextPattern.FindAllStringSubmatch(para, -1) {
			runs = append(runs, m[1])
		}
		line := strings.TrimSpace(strings.Join(runs, ""))
		if line != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return &ParsedContent{
		Text: strings.TrimSpace(b.String()),
		Metadata: map[string]any{
			"content_type": item.ContentType,
		},
	}, nil
}

// XlsxParser renders each sheet as tab-separated rows.
type XlsxParser struct {
	flow.BaseResource
	priority int
	maxRows  int
}

func NewXlsxParser(id string, priority int) *XlsxParser {
	return &XlsxParser{BaseResource: flow.NewBaseResource(id), priority: priority, maxRows: 10000}
}

func (p *XlsxParser) Priority() int { return p.priority }

func (p *XlsxParser) Supports(item *ContentItem) bool {
	return item.ContentType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (p *XlsxParser) Parse(ctx context.Context, item *ContentItem) (*ParsedContent, error) {
	f, err := excelize.OpenReader(bytes.NewReader(item.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("xlsx parser '%s': %w", p.ID(), err)
	}
	defer f.Close()

	var b strings.Builder
	sheets := f.GetSheetList()
	total := 0
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("xlsx parser '%s': sheet %s: %w", p.ID(), sheet, err)
		}
		b.WriteString(sheet)
		b.WriteString("\n")
		for _, row := range rows {
			if total >= p.maxRows {
				break
			}
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteString("\n")
			total++
		}
		b.WriteString("\n")
	}

	return &ParsedContent{
		Text: strings.TrimSpace(b.String()),
		Metadata: map[string]any{
			"content_type": item.ContentType,
			"sheets":       len(sheets),
		},
	}, nil
}
