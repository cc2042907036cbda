// Package parser implements the external ParseDocument(bytes, filename)
// capability: PDF via github.com/ledongthuc/pdf, DOCX
// via github.com/nguyenthenguyen/docx, and TXT by direct decode. Grounded
// structurally on internal/service/parser.go (ParserService,
// extension-based routing, text-based-format fast path), re-expressed
// without Document AI/GCS since this system has no cloud-OCR dependency —
// plain PDF/DOCX parsing libraries (both appear across several retrieved
// Go repos' go.mod files) stand in for it directly.
package parser

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/normex/ragbox-normex/internal/model"
)

// Result is the ParseDocument capability's return shape.
type Result struct {
	Success bool
	Text    string
	Pages   int
	Error   string
}

// ParseDocument routes on the file extension implied by filename and
// extracts plain text. Unsupported extensions return Success=false.
func ParseDocument(content []byte, filename string) Result {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return parsePDF(content)
	case ".docx":
		return parseDocx(content)
	case ".txt":
		return parseTxt(content)
	default:
		return Result{Success: false, Error: fmt.Sprintf("unsupported file type %q", ext)}
	}
}

// FileTypeOf maps an extension to the model.FileType enum, the second
// return is false for anything ParseDocument would reject.
func FileTypeOf(filename string) (model.FileType, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return model.FilePDF, true
	case ".docx":
		return model.FileDOCX, true
	case ".txt":
		return model.FileTXT, true
	default:
		return "", false
	}
}

func parsePDF(content []byte) Result {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("open pdf: %v", err)}
	}

	numPages := r.NumPage()
	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		fmt.Fprintf(&sb, "\nСтраница %d из %d\n", i, numPages)
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return Result{Success: false, Error: "pdf contains no extractable text"}
	}
	return Result{Success: true, Text: text, Pages: numPages}
}

func parseDocx(content []byte) Result {
	reader, err := docx.ReadDocxFromMemory(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("open docx: %v", err)}
	}
	defer reader.Close()

	text := reader.Editable().GetContent()
	text = stripDocxMarkup(text)
	if strings.TrimSpace(text) == "" {
		return Result{Success: false, Error: "docx contains no extractable text"}
	}
	return Result{Success: true, Text: text, Pages: 1}
}

// stripDocxMarkup removes the XML run/paragraph tags the library leaves
// in GetContent's output, keeping only inter-tag text.
func stripDocxMarkup(xmlText string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range xmlText {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func parseTxt(content []byte) Result {
	if !utf8.Valid(content) {
		return Result{Success: false, Error: "txt file is not valid utf-8"}
	}
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return Result{Success: false, Error: "txt file is empty"}
	}
	return Result{Success: true, Text: text, Pages: 1}
}
