package services

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"strings"

	"lesson-content-engine/internal/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html/charset"
)

// ErrUnreadableDocument is returned when a buffer cannot be parsed. It is never retried.
var ErrUnreadableDocument = errors.New("unreadable document")

const (
	MimePDF  = "application/pdf"
	MimeHTML = "text/html"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Extraction methods recorded on ParsedDocument
const (
	ExtractionMethodGoPDF = "go-pdf"
	ExtractionMethodHTML  = "html"
	ExtractionMethodXLSX  = "xlsx"
	ExtractionMethodPlain = "plain"
)

// ParsedDocument is the structured extractor output: one text entry per page, in order.
// Pages[0] is page 1. Empty pages keep their slot so numbering never shifts.
type ParsedDocument struct {
	Pages  []string
	Method string
}

func (d *ParsedDocument) PageCount() int { return len(d.Pages) }

// Annotated renders the single text stream with a [[PAGE_n]] marker before each page.
func (d *ParsedDocument) Annotated() string {
	var sb strings.Builder
	for i, p := range d.Pages {
		fmt.Fprintf(&sb, "[[PAGE_%d]]\n", i+1)
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// TextExtractor turns raw document bytes into page-aware text.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Parse dispatches on the declared media type. PDFs get per-page text. HTML is
// reduced to its visible text through goquery, so markup and scripts are dropped
// rather than kept as plain text, and XLSX workbooks yield one page per sheet.
// Every other type is read as UTF-8 plain text on page 1.
func (e *TextExtractor) Parse(buf []byte, mimeType string) (doc *ParsedDocument, err error) {
	// The PDF and XLSX readers panic on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("%w: parser panic: %v", ErrUnreadableDocument, r)
		}
	}()

	switch normalizeMimeType(mimeType, buf) {
	case MimePDF:
		return e.extractPDF(buf)
	case MimeHTML:
		return e.extractHTML(buf, mimeType)
	case MimeXLSX:
		return e.extractXLSX(buf)
	default:
		return &ParsedDocument{
			Pages:  []string{strings.ToValidUTF8(string(buf), "�")},
			Method: ExtractionMethodPlain,
		}, nil
	}
}

// ParseAnnotated is Parse followed by Annotated.
func (e *TextExtractor) ParseAnnotated(buf []byte, mimeType string) (string, error) {
	doc, err := e.Parse(buf, mimeType)
	if err != nil {
		return "", err
	}
	return doc.Annotated(), nil
}

func normalizeMimeType(mimeType string, buf []byte) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	if mt == "" || mt == "application/octet-stream" {
		if bytes.HasPrefix(buf, []byte("%PDF-")) {
			return MimePDF
		}
	}
	return mt
}

// extractPDF walks pages in order; inside a page a newline is inserted whenever
// the vertical position changes between consecutive text runs.
func (e *TextExtractor) extractPDF(buf []byte) (*ParsedDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", ErrUnreadableDocument)
	}

	pages := make([]string, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		var sb strings.Builder
		var lastY float64
		for j, run := range page.Content().Text {
			if j > 0 && run.Y != lastY {
				sb.WriteByte('\n')
			}
			sb.WriteString(run.S)
			lastY = run.Y
		}
		pages[i-1] = sb.String()
	}

	logger.Debug("pdf extracted", "pages", numPages)
	return &ParsedDocument{Pages: pages, Method: ExtractionMethodGoPDF}, nil
}

func (e *TextExtractor) extractHTML(buf []byte, contentType string) (*ParsedDocument, error) {
	r, err := charset.NewReader(bytes.NewReader(buf), contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}

	doc.Find("script, style, noscript, template").Remove()
	// Block elements end a line so words on either side don't fuse
	doc.Find("p, div, li, br, h1, h2, h3, h4, h5, h6, tr, section, article").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return &ParsedDocument{
		Pages:  []string{doc.Find("body").Text()},
		Method: ExtractionMethodHTML,
	}, nil
}

// extractXLSX maps each worksheet to one page.
func (e *TextExtractor) extractXLSX(buf []byte) (*ParsedDocument, error) {
	f, err := excelize.OpenReader(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrUnreadableDocument)
	}

	pages := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %q: %v", ErrUnreadableDocument, sheet, err)
		}
		var sb strings.Builder
		sb.WriteString(sheet)
		sb.WriteByte('\n')
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
		pages = append(pages, sb.String())
	}

	return &ParsedDocument{Pages: pages, Method: ExtractionMethodXLSX}, nil
}
