// Package report renders a session's analysis as a downloadable PDF.
package report

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"

	"github.com/vbonduro/siteoptic/internal/domain"
)

const Title = "SiteOptic Diagnostic Report"

const (
	fontFamily = "Helvetica"
	lineHeight = 5.5
	// maxImageHeight keeps a tall portrait photo from pushing the text off
	// the first page.
	maxImageHeight = 140.0
)

// Document is everything that goes into one report.
type Document struct {
	Image       []byte
	MimeType    string
	Options     domain.AnalysisOptions
	Turns       []*domain.Turn
	GeneratedAt time.Time
}

// Write lays out doc as a PDF and writes it to w. The first assistant turn is
// the analysis; any later turns are appended as a follow-up section.
func Write(w io.Writer, doc Document) error {
	if len(doc.Image) == 0 {
		return fmt.Errorf("report needs an image")
	}
	if len(doc.Turns) == 0 {
		return fmt.Errorf("report needs an analysis")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(Title, false)
	pdf.SetCreator("SiteOptic", false)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	left, _, right, _ := pdf.GetMargins()
	pageW, _ := pdf.GetPageSize()
	contentW := pageW - left - right

	pdf.SetFont(fontFamily, "B", 18)
	pdf.CellFormat(contentW, 10, Latin1(Title), "", 1, "C", false, 0, "")

	pdf.SetFont(fontFamily, "", 9)
	meta := fmt.Sprintf("Focus: %s   Language: %s   Generated: %s",
		doc.Options.Focus.Label(), doc.Options.Language.DisplayName(),
		doc.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"))
	pdf.CellFormat(contentW, 6, Latin1(meta), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	addImage(pdf, doc.Image, doc.MimeType, left, contentW)

	section(pdf, contentW, "Analysis")
	body(pdf, contentW, doc.Turns[0].Content)

	if len(doc.Turns) > 1 {
		section(pdf, contentW, "Follow-up")
		for _, t := range doc.Turns[1:] {
			label := "Inspector"
			if t.Role == domain.RoleUser {
				label = "Question"
			}
			pdf.SetFont(fontFamily, "B", 10)
			pdf.CellFormat(contentW, lineHeight, Latin1(label), "", 1, "L", false, 0, "")
			body(pdf, contentW, t.Content)
			pdf.Ln(2)
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

func addImage(pdf *fpdf.Fpdf, img []byte, mimeType string, x, maxW float64) {
	imgType := "JPG"
	if mimeType == "image/png" {
		imgType = "PNG"
	}
	name := "site-photo"
	opts := fpdf.ImageOptions{ImageType: imgType, ReadDpi: false}
	info := pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img))
	if pdf.Err() || info == nil {
		// fpdf rejects some valid files (interlaced or 16-bit PNGs); retry
		// with a plain 8-bit PNG re-encoding.
		pdf.ClearError()
		name, opts.ImageType = "site-photo-flat", "PNG"
		info = nil
		if flat, err := flatten(img); err == nil {
			info = pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(flat))
		}
	}
	if pdf.Err() || info == nil {
		pdf.ClearError()
		pdf.SetFont(fontFamily, "I", 10)
		pdf.CellFormat(maxW, lineHeight, "The photo could not be embedded in this report.", "", 1, "C", false, 0, "")
		pdf.Ln(4)
		return
	}

	w, h := maxW, maxW*info.Height()/info.Width()
	if h > maxImageHeight {
		w, h = maxImageHeight*info.Width()/info.Height(), maxImageHeight
	}
	pdf.ImageOptions(name, x+(maxW-w)/2, pdf.GetY(), w, h, true, opts, 0, "")
	pdf.Ln(4)
}

// flatten decodes a JPEG or PNG and re-encodes it as a non-interlaced 8-bit
// PNG.
func flatten(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	dst := image.NewNRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func section(pdf *fpdf.Fpdf, w float64, heading string) {
	pdf.Ln(2)
	pdf.SetFont(fontFamily, "B", 13)
	pdf.CellFormat(w, 8, Latin1(heading), "B", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func body(pdf *fpdf.Fpdf, w float64, text string) {
	pdf.SetFont(fontFamily, "", 10)
	pdf.MultiCell(w, lineHeight, Latin1(strings.TrimSpace(text)), "", "L", false)
}

// Latin1 re-encodes s as ISO-8859-1 bytes for the PDF core fonts. Runes with
// no Latin-1 encoding become '?'.
func Latin1(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		c, ok := charmap.ISO8859_1.EncodeRune(r)
		if !ok {
			c = '?'
		}
		b.WriteByte(c)
	}
	return b.String()
}
