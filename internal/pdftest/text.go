package pdftest

import (
	"fmt"
	"strings"

	fitz "github.com/gen2brain/go-fitz"
)

// Texts extracts the whitespace-trimmed text of every page of data.
func Texts(data []byte) ([]string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer doc.Close()

	out := make([]string, doc.NumPage())
	for i := range out {
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		out[i] = strings.Join(strings.Fields(text), " ")
	}
	return out, nil
}
