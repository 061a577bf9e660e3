// Package pdftext extracts plain text page by page from PDF files.
package pdftext

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dslipak/pdf"

	"docvec/apps/backend/internal/ingesterr"
)

// Page holds the text of one page. Index is zero-based.
type Page struct {
	Index int
	Text  string
}

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ingesterr.New(ingesterr.Transient, "pdftext.Extract", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, ingesterr.New(ingesterr.Transient, "pdftext.Extract", err)
	}

	return ExtractReader(ctx, f, info.Size())
}

// ExtractReader reads every page of the document. A document the parser
// cannot open is Fatal; a single unreadable page is logged and left empty.
func ExtractReader(ctx context.Context, r io.ReaderAt, size int64) (pages []Page, err error) {
	defer func() {
		if p := recover(); p != nil {
			pages = nil
			err = ingesterr.New(ingesterr.Fatal, "pdftext.Extract", fmt.Errorf("parser panic: %v", p))
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, ingesterr.New(ingesterr.Fatal, "pdftext.Extract", err)
	}

	n := reader.NumPage()
	pages = make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := Page{Index: i - 1}
		p := reader.Page(i)
		if !p.V.IsNull() {
			text, err := p.GetPlainText(nil)
			if err != nil {
				slog.WarnContext(ctx, "failed to extract page text", "page", i-1, "error", err)
			} else {
				page.Text = text
			}
		}
		pages = append(pages, page)
	}

	return pages, nil
}
