// Package pdfutil inspects the PDFs produced and consumed by the document
// pipeline: page counts of merged output and the text layer of born-digital
// sources.
package pdfutil

import (
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// PageTexts returns the text layer of each page of the file at path, page
// one first. Pages without content yield an empty string so the slice
// index always matches the page number minus one.
func PageTexts(path string) ([]string, error) {
	f, doc, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()
	return pageTexts(doc)
}

// PageCount returns the number of pages of the file at path.
func PageCount(path string) (int, error) {
	f, doc, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()
	return doc.NumPage(), nil
}

func pageTexts(doc *pdf.Reader) ([]string, error) {
	total := doc.NumPage()
	out := make([]string, total)
	for i := 1; i <= total; i++ {
		p := doc.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		out[i-1] = strings.TrimSpace(content)
	}
	return out, nil
}
