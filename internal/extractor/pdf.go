package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrExtraction is returned when the input cannot be parsed as a PDF or the
// parser fails while reading a page.
var ErrExtraction = errors.New("failed to process PDF content")

// Page is the plain text of a single PDF page.
type Page struct {
	Number int
	Text   string
}

// ExtractText returns the text of every page concatenated in page order.
// A PDF without a text layer (scanned images) yields an empty string and no error;
// callers decide whether that is acceptable.
func ExtractText(data []byte) (string, error) {
	pages, err := ExtractPages(data)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, p := range pages {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

// ExtractPages reads a PDF from memory and returns the text of each page.
// Pages with no content, or only whitespace, are omitted.
func ExtractPages(data []byte) (pages []Page, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrExtraction)
	}

	// The pdf package panics on some malformed inputs instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: %v", ErrExtraction, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	numPages := r.NumPage()
	for pageIndex := 1; pageIndex <= numPages; pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrExtraction, pageIndex, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: pageIndex, Text: text})
	}

	return pages, nil
}
