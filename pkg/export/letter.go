package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Letter holds the content of a donor appreciation letter.
type Letter struct {
	Institution string
	Signatory   string
	Reference   string
	IssuedAt    time.Time
	DonorName   string
	Salutation  string
	Paragraphs  []string
	Details     [][2]string
}

// LetterRenderer lays out appreciation letters as single-page A4 PDFs.
type LetterRenderer struct{}

// NewLetterRenderer constructs a letter renderer.
func NewLetterRenderer() *LetterRenderer {
	return &LetterRenderer{}
}

// Render creates the PDF bytes for the given letter.
func (r *LetterRenderer) Render(letter Letter) ([]byte, error) {
	if strings.TrimSpace(letter.DonorName) == "" {
		return nil, fmt.Errorf("letter requires a donor name")
	}
	if letter.IssuedAt.IsZero() {
		letter.IssuedAt = time.Now().UTC()
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetTitle(fmt.Sprintf("Appreciation letter %s", letter.Reference), true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr(strings.ToUpper(letter.Institution)), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 5, tr(fmt.Sprintf("Ref: %s", letter.Reference)), "", 1, "C", false, 0, "")
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 6, letter.IssuedAt.Format("2 January 2006"), "", 1, "R", false, 0, "")
	pdf.Ln(4)

	salutation := letter.Salutation
	if salutation == "" {
		salutation = fmt.Sprintf("Dear %s,", letter.DonorName)
	}
	pdf.CellFormat(0, 6, tr(salutation), "", 1, "", false, 0, "")
	pdf.Ln(3)

	for _, paragraph := range letter.Paragraphs {
		pdf.MultiCell(0, 6, tr(paragraph), "", "J", false)
		pdf.Ln(3)
	}

	if len(letter.Details) > 0 {
		pdf.Ln(2)
		for _, detail := range letter.Details {
			pdf.SetFont("Arial", "B", 10)
			pdf.CellFormat(50, 7, tr(detail[0]), "1", 0, "", false, 0, "")
			pdf.SetFont("Arial", "", 10)
			pdf.CellFormat(0, 7, tr(detail[1]), "1", 1, "", false, 0, "")
		}
		pdf.Ln(6)
	}

	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 6, "With sincere gratitude,", "", 1, "", false, 0, "")
	pdf.Ln(14)
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 6, tr(letter.Signatory), "", 1, "", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, tr(letter.Institution), "", 1, "", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render letter pdf: %w", err)
	}
	return buf.Bytes(), nil
}
