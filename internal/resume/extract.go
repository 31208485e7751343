package resume

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
)

var (
	ErrEmptyDocument      = errors.New("document is empty")
	ErrUnsupportedType    = errors.New("unsupported document type")
	ErrUnreadableDocument = errors.New("document could not be read")
)

var pdfMagic = []byte("%PDF-")

// ExtractText returns the plain text of a resume file, choosing the reader by
// the file extension of name.
func ExtractText(name string, data []byte) (string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", ErrEmptyDocument
	}

	var text string
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".pdf":
		t, err := pdfText(data)
		if err != nil {
			return "", err
		}
		text = t
	case ".txt", ".text", ".md":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: not valid utf-8", ErrUnreadableDocument)
		}
		text = string(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

func pdfText(data []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), pdfMagic) {
		return "", fmt.Errorf("%w: missing pdf header", ErrUnreadableDocument)
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrUnreadableDocument, i+1, err)
		}
		pages = append(pages, pageText)
	}
	return strings.Join(pages, "\n\n"), nil
}
