package main

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const strategyPDFFilename = "Career_Strategy.pdf"

var (
	colorPrimary   = [3]int{30, 58, 95}
	colorTextDark  = [3]int{44, 62, 80}
	colorTextMuted = [3]int{127, 140, 141}
	colorGridLine  = [3]int{220, 220, 220}
)

var markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.Table))

func renderHTMLReport(markdown string) (string, error) {
	var body bytes.Buffer
	if err := markdownRenderer.Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return "<html><body>" + body.String() + "</body></html>", nil
}

// renderPDFReport lays the markdown strategy report out on A4 pages.
// Only headings, bullets, table rows and paragraphs are recognised.
func renderPDFReport(markdown string, generated time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pageWidth, _ := pdf.GetPageSize()

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(20)
	pdf.SetFont("Arial", "B", 20)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 12, "Career Pivot Strategy", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", generated.Format("January 2, 2006 at 15:04 MST")), "", 1, "L", false, 0, "")

	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	pdf.SetLineWidth(0.3)
	pdf.Line(20, pdf.GetY()+2, pageWidth-20, pdf.GetY()+2)
	pdf.Ln(6)

	for _, line := range strings.Split(markdown, "\n") {
		writeMarkdownLine(pdf, tr, line)
	}
	addPageNumbers(pdf)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func writeMarkdownLine(pdf *fpdf.Fpdf, tr func(string) string, line string) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		pdf.Ln(3)

	case strings.HasPrefix(trimmed, "#"):
		level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
		size := 18 - 2*float64(level)
		if size < 11 {
			size = 11
		}
		pdf.Ln(2)
		pdf.SetFont("Arial", "B", size)
		pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
		pdf.MultiCell(0, size*0.5, tr(plainText(strings.TrimLeft(trimmed, "# "))), "", "L", false)
		pdf.Ln(1)

	case isTableSeparator(trimmed):
		// rows are already ruled

	case strings.HasPrefix(trimmed, "|"):
		cells := strings.Split(strings.Trim(trimmed, "|"), "|")
		for i := range cells {
			cells[i] = plainText(strings.TrimSpace(cells[i]))
		}
		pdf.SetFont("Arial", "", 10)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.MultiCell(0, 6, tr(strings.Join(cells, "   |   ")), "B", "L", false)

	case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
		pdf.SetFont("Arial", "", 11)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.SetX(pdf.GetX() + 4)
		pdf.MultiCell(0, 6, tr("• "+plainText(trimmed[2:])), "", "L", false)

	default:
		pdf.SetFont("Arial", "", 11)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.MultiCell(0, 6, tr(plainText(trimmed)), "", "L", false)
	}
}

func addPageNumbers(pdf *fpdf.Fpdf) {
	pdf.SetAutoPageBreak(false, 0)
	total := pdf.PageCount()
	for i := 1; i <= total; i++ {
		pdf.SetPage(i)
		_, pageHeight := pdf.GetPageSize()
		pdf.SetY(pageHeight - 15)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d of %d", i, total), "", 0, "C", false, 0, "")
	}
}

var inlineMarkup = strings.NewReplacer("**", "", "__", "", "`", "")

func plainText(s string) string {
	return inlineMarkup.Replace(s)
}

// isTableSeparator matches the |---|:---:| row under a table header.
func isTableSeparator(s string) bool {
	return strings.HasPrefix(s, "|") && strings.Contains(s, "-") && strings.Trim(s, "|-: ") == ""
}
