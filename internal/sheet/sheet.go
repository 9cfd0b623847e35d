// Package sheet draws the printable mark forms for a participant list and
// exports rosters as CSV.
package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strconv"

	"github.com/go-pdf/fpdf"

	"github.com/edumark/sheetscan/internal/scan"
	"github.com/edumark/sheetscan/pkg/models"
)

const (
	pageW = 210.0 // A4 portrait, mm
	pageH = 297.0
)

// ErrEmptyRoster is returned when a list has no participants to print
// forms for.
var ErrEmptyRoster = errors.New("participant list has no participants")

// Generate renders the mark forms for one participant list and returns
// the PDF bytes: one form per participant, subject.PagesPerForm pages per
// form. Every page carries the corner marks, the flip indicator, the
// participant's userkey strip, the list and page meta strip and the
// choice grid, all projected from the recognizer's reference layout.
func Generate(subject *models.Subject, list *models.ParticipantList, participants []*models.Participant) ([]byte, error) {
	layout := scan.DefaultLayout

	if len(participants) == 0 {
		return nil, ErrEmptyRoster
	}
	if list.ListNumber < 1 || list.ListNumber > 1<<layout.GroupBits-1 {
		return nil, fmt.Errorf("list number %d does not fit %d group bits", list.ListNumber, layout.GroupBits)
	}
	pages := subject.PagesPerForm
	if pages < 1 {
		pages = 1
	}
	if pages > 1<<layout.PageBits-1 {
		return nil, fmt.Errorf("%d pages per form does not fit %d page bits", pages, layout.PageBits)
	}
	for _, p := range participants {
		if err := layout.ValidateUserkey(p.Userkey); err != nil {
			return nil, fmt.Errorf("participant %s: %w", p.UserID, err)
		}
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)

	for _, p := range participants {
		for page := 1; page <= pages; page++ {
			pdf.AddPage()
			drawForm(pdf, layout, subject, list, p, page, pages)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render sheet pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func drawForm(pdf *fpdf.Fpdf, layout scan.Layout, subject *models.Subject, list *models.ParticipantList, p *models.Participant, page, pages int) {
	scaleX := pageW / float64(layout.Width)
	scaleY := pageH / float64(layout.Height)
	toMM := func(r image.Rectangle) (x, y, w, h float64) {
		return float64(r.Min.X) * scaleX, float64(r.Min.Y) * scaleY,
			float64(r.Dx()) * scaleX, float64(r.Dy()) * scaleY
	}

	filled, boxes := formMarks(layout, p.Userkey, list.ListNumber, page)

	pdf.SetFillColor(0, 0, 0)
	for _, r := range filled {
		x, y, w, h := toMM(r)
		pdf.Rect(x, y, w, h, "F")
	}

	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(float64(layout.BoxOutline) * scaleX)
	for _, r := range boxes {
		x, y, w, h := toMM(r)
		pdf.Rect(x, y, w, h, "D")
	}

	// Human-readable band between the barcode strips and the grid. The
	// recognizer never samples there.
	textX := float64(layout.GridX) * scaleX
	textY := float64(layout.BarcodeY+layout.BarcodeHeight+20) * scaleY
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetXY(textX, textY)
	pdf.CellFormat(90, 5, fmt.Sprintf("%s - %s", subject.Name, list.Name), "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetXY(textX+95, textY)
	pdf.CellFormat(80, 5, fmt.Sprintf("%s, %s (key %d) page %d/%d",
		p.LastName, p.FirstName, p.Userkey, page, pages), "", 0, "R", false, 0, "")

	// Row numbers left of the grid, clear of the corner search windows.
	pdf.SetFont("Helvetica", "", 8)
	for r := 0; r < layout.RowCount; r++ {
		y := float64(layout.GridY+r*layout.RowHeight) * scaleY
		pdf.SetXY(textX-14, y)
		pdf.CellFormat(12, float64(layout.BoxSize)*scaleY, strconv.Itoa(r+1), "", 0, "R", false, 0, "")
	}
}
