package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// TextIngester reads a plain text or Markdown file.
type TextIngester struct{}

func (TextIngester) Ingest(ctx context.Context, path string) (*Content, error) {
	if err := validateFile(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	c, err := newContent(string(data), "", filepath.Base(path))
	if errors.Is(err, errNoText) {
		return nil, fmt.Errorf("file %s is empty", path)
	}
	return c, err
}

// PDFIngester extracts the text layer of a PDF, page by page. Pages that
// fail to decode are skipped.
type PDFIngester struct{}

func (PDFIngester) Ingest(ctx context.Context, path string) (*Content, error) {
	if err := validateFile(path); err != nil {
		return nil, err
	}
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open PDF %s: %w", path, err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		if text, err := page.GetPlainText(nil); err == nil {
			pages = append(pages, text)
		}
	}

	c, err := newContent(strings.Join(pages, "\n"), "", filepath.Base(path))
	if errors.Is(err, errNoText) {
		return nil, fmt.Errorf("PDF %s has no text layer (scanned or image-only?)", path)
	}
	return c, err
}
