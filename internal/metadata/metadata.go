// Package metadata derives document and chunk metadata from filenames
// and chunk text: document code/type, year, status, tags, checksum, and
// paragraph references. Grounded on
// original_source/rag_service/services/metadata_extractor.py, ported
// rule-for-rule (ordered regex recognition, year normalization, status
// and tag keyword matching).
package metadata

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/normex/ragbox-normex/internal/model"
)

// DocumentRecord is the metadata derived for one document.
type DocumentRecord struct {
	DocID       string
	DocType     string // GOST, SP, SNiP, FNP, CORP_STD, OTHER
	DocNumber   string
	DocTitle    string
	EditionYear int
	Status      string // active, repealed, replaced, unknown
	ReplacedBy  string
	Tags        []string
	Checksum    string
	IngestedAt  time.Time
	Lang        string
}

type pattern struct {
	re      *regexp.Regexp
	docType string
}

// Recognition rules, ordered; first match wins. Follows
// original_source's patterns list, including the overlapping
// more-specific-first ordering (year-bearing form before bare form).
var patterns = []pattern{
	{regexp.MustCompile(`(?i)ГОСТ\s+(\d+(?:\.\d+)*)-(\d{4})`), "GOST"},
	{regexp.MustCompile(`(?i)ГОСТ\s+(\d+(?:\.\d+)*)-(\d{2})\b`), "GOST"},
	{regexp.MustCompile(`(?i)ГОСТ\s+(\d+(?:\.\d+)*)`), "GOST"},

	{regexp.MustCompile(`(?i)СП\s+(\d+(?:\.\d+)*)\.(\d{4})\b`), "SP"},
	{regexp.MustCompile(`(?i)СП\s+(\d+(?:\.\d+)*)`), "SP"},

	{regexp.MustCompile(`(?i)СНиП\s+(\d+(?:\.\d+)*)-(\d{4})`), "SNiP"},
	{regexp.MustCompile(`(?i)СНиП\s+(\d+(?:\.\d+)*)\.(\d{4})`), "SNiP"},
	{regexp.MustCompile(`(?i)СНиП\s+(\d+(?:\.\d+)*)-(\d{2})(?:\.|$)`), "SNiP"},
	{regexp.MustCompile(`(?i)СНиП\s+(\d+(?:\.\d+)*)`), "SNiP"},

	{regexp.MustCompile(`(?i)ФНП\s+(\d+(?:\.\d+)*)-(\d{4})`), "FNP"},
	{regexp.MustCompile(`(?i)ФНП\s+(\d+(?:\.\d+)*)`), "FNP"},

	{regexp.MustCompile(`(?i)ПБ\s+(\d+(?:\.\d+)*)-(\d{4})`), "CORP_STD"},
	{regexp.MustCompile(`(?i)ПБ\s+(\d+(?:\.\d+)*)`), "CORP_STD"},

	{regexp.MustCompile(`(?i)А(\d+(?:\.\d+)*)\.(\d{4})`), "CORP_STD"},
	{regexp.MustCompile(`(?i)А(\d+(?:\.\d+)*)\.(\d{2})`), "CORP_STD"},
	{regexp.MustCompile(`(?i)А(\d+(?:\.\d+)*)`), "CORP_STD"},
}

var yearRe = regexp.MustCompile(`(\d{4})`)

var typeTags = map[string][]string{
	"GOST":     {"государственный стандарт", "гост"},
	"SP":       {"свод правил", "строительство"},
	"SNiP":     {"строительные нормы", "строительство"},
	"FNP":      {"федеральные нормы", "промышленность"},
	"CORP_STD": {"корпоративный стандарт", "внутренний стандарт"},
}

var contentKeywordTags = []struct {
	keyword string
	tags    []string
}{
	{"электр", []string{"электроснабжение", "электротехника"}},
	{"пожар", []string{"пожарная безопасность", "пожар"}},
	{"строит", []string{"строительство", "конструкции"}},
	{"безопасн", []string{"охрана труда", "безопасность"}},
	{"проект", []string{"проектирование", "проектная документация"}},
	{"конструкц", []string{"конструкции", "строительные конструкции"}},
	{"стальн", []string{"стальные конструкции", "металлоконструкции"}},
	{"документац", []string{"документооборот", "документация"}},
}

// ExtractDocument derives a DocumentRecord from filename and document_id.
// If fileBytes is non-nil, Checksum is the SHA-256 of its content.
func ExtractDocument(filename string, documentID int64, fileBytes []byte) DocumentRecord {
	docType, docNumber, editionYear := parseDocumentName(filename)

	docID := fmt.Sprintf("doc_%d", documentID)
	if docNumber != "" && editionYear != 0 {
		docID = fmt.Sprintf("%s_%s_%d", strings.ToLower(docType), docNumber, editionYear)
	}

	rec := DocumentRecord{
		DocID:       docID,
		DocType:     docType,
		DocNumber:   docNumber,
		DocTitle:    filename,
		EditionYear: editionYear,
		Status:      determineStatus(filename),
		Tags:        extractTags(docType, filename),
		IngestedAt:  time.Now().UTC(),
		Lang:        "ru",
	}
	if fileBytes != nil {
		sum := sha256.Sum256(fileBytes)
		rec.Checksum = fmt.Sprintf("%x", sum)
	}
	return rec
}

func parseDocumentName(filename string) (docType, docNumber string, editionYear int) {
	name := filename
	for _, ext := range []string{".pdf", ".docx", ".doc"} {
		name = strings.ReplaceAll(name, ext, "")
	}

	for _, p := range patterns {
		m := p.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		groups := m[1:]
		if len(groups) >= 2 && groups[1] != "" {
			docNumber = groups[0]
			editionYear = normalizeYear(groups[1])
			return p.docType, docNumber, editionYear
		}
		docNumber = groups[0]
		if ym := yearRe.FindStringSubmatch(name); ym != nil {
			editionYear, _ = strconv.Atoi(ym[1])
		}
		return p.docType, docNumber, editionYear
	}

	if ym := yearRe.FindStringSubmatch(name); ym != nil {
		editionYear, _ = strconv.Atoi(ym[1])
	}
	return "OTHER", "", editionYear
}

// normalizeYear expands a 2-digit year: yy<=30 -> 2000+yy, else 1900+yy.
// 4-digit years pass through unchanged.
func normalizeYear(yearStr string) int {
	if len(yearStr) != 2 {
		y, _ := strconv.Atoi(yearStr)
		return y
	}
	y, _ := strconv.Atoi(yearStr)
	if y >= 0 && y <= 30 {
		return 2000 + y
	}
	return 1900 + y
}

func determineStatus(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case containsAny(lower, "отменен", "недействителен", "repealed"):
		return "repealed"
	case containsAny(lower, "заменен", "заменяет", "replaced", "изм"):
		return "replaced"
	case containsAny(lower, "действующий", "актуальный", "active"):
		return "active"
	default:
		return "unknown"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func extractTags(docType, filename string) []string {
	seen := make(map[string]struct{})
	var tags []string
	add := func(ts []string) {
		for _, t := range ts {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				tags = append(tags, t)
			}
		}
	}

	if ts, ok := typeTags[docType]; ok {
		add(ts)
	}

	lower := strings.ToLower(filename)
	for _, ck := range contentKeywordTags {
		if strings.Contains(lower, ck.keyword) {
			add(ck.tags)
		}
	}

	sort.Strings(tags)
	return tags
}

var paragraphPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)`),
	regexp.MustCompile(`(\d+\.\d+\.\d+)`),
	regexp.MustCompile(`(\d+\.\d+)`),
	regexp.MustCompile(`п\.\s*(\d+\.\d+)`),
	regexp.MustCompile(`пункт\s*(\d+\.\d+)`),
}

// ExtractParagraph finds the first paragraph reference (e.g. "5.2.1")
// in content, trying progressively looser patterns.
func ExtractParagraph(content string) string {
	for _, re := range paragraphPatterns {
		if m := re.FindStringSubmatch(content); m != nil {
			return m[1]
		}
	}
	return ""
}

// DetectCode finds the first normative-document code mentioned in
// arbitrary text (e.g. a user query), reusing the same recognition
// patterns as document-name parsing. Returns the matched substring and
// whether a code was found.
func DetectCode(text string) (string, bool) {
	for _, p := range patterns {
		if m := p.re.FindString(text); m != "" {
			return strings.TrimSpace(m), true
		}
	}
	return "", false
}

// DetectCodeNumber finds the first normative-document code mentioned in
// arbitrary text and returns just its number group (e.g. "22.13330" for
// "СП 22.13330"), the same form parseDocumentName assigns to
// DocumentRecord.DocNumber, so callers can compare a query's referenced
// code against an indexed chunk's Metadata.DocNumber directly.
func DetectCodeNumber(text string) (string, bool) {
	for _, p := range patterns {
		if m := p.re.FindStringSubmatch(text); m != nil && len(m) >= 2 {
			return m[1], true
		}
	}
	return "", false
}

// ChunkMetadataFrom copies a document's metadata and adds the paragraph
// reference found in content. The section, page, chunkID and chunkType
// arguments are not used.
func ChunkMetadataFrom(doc DocumentRecord, content, section string, page int, chunkID string, chunkType model.ChunkType) model.ChunkMetadata {
	return model.ChunkMetadata{
		DocType:     doc.DocType,
		DocNumber:   doc.DocNumber,
		EditionYear: doc.EditionYear,
		Status:      doc.Status,
		ReplacedBy:  doc.ReplacedBy,
		Tags:        doc.Tags,
		Checksum:    doc.Checksum,
		Paragraph:   ExtractParagraph(content),
		IngestedAt:  doc.IngestedAt,
		Lang:        doc.Lang,
	}
}
