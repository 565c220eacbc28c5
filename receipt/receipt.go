// Package receipt renders PDF receipts for confirmed orders.
package receipt

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	"botstore/models"

	"github.com/disintegration/imaging"
	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
)

const ThumbWidth = 300

var ErrNotConfirmed = errors.New("receipt: order is not confirmed")

type Generator struct {
	secret    []byte
	imagesDir string
	storeName string
}

// New returns a Generator signing QR payloads with secret. imagesDir holds
// product images referenced by Product.ImageRef; empty disables thumbnails.
func New(secret []byte, imagesDir, storeName string) *Generator {
	if storeName == "" {
		storeName = "Bot Store"
	}
	return &Generator{secret: secret, imagesDir: imagesDir, storeName: storeName}
}

func (g *Generator) sign(data string) string {
	h := hmac.New(sha256.New, g.secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Payload is the QR content: ref|item|signature.
func (g *Generator) Payload(o models.Order) string {
	data := o.RefCode + "|" + o.ItemID
	return data + "|" + g.sign(data)
}

// Verify checks a scanned payload and returns the order it names.
func (g *Generator) Verify(payload string) (refCode, itemID string, ok bool) {
	parts := strings.Split(payload, "|")
	if len(parts) != 3 {
		return "", "", false
	}
	want := g.sign(parts[0] + "|" + parts[1])
	if !hmac.Equal([]byte(want), []byte(parts[2])) {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Render writes the receipt PDF for o to w.
func (g *Generator) Render(w io.Writer, o models.Order, p models.Product) error {
	if !o.Status.Confirmed() {
		return ErrNotConfirmed
	}
	qrPNG, err := qrcode.Encode(g.Payload(o), qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("receipt: qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, g.storeName+" Receipt")
	pdf.Ln(14)

	pdf.SetFont("Arial", "", 12)
	lines := []string{
		"Reference: " + o.RefCode,
		"Item: " + p.Name + " (" + o.ItemID + ")",
		fmt.Sprintf("Amount: %.2f", o.Amount),
		"Payment: " + string(o.PaymentMethod) + ", " + string(o.Status),
		"Date: " + o.UpdatedAt.UTC().Format("2006-01-02 15:04 MST"),
	}
	if o.ReceiptRef != "" {
		lines = append(lines, "Transaction: "+o.ReceiptRef)
	}
	for _, l := range lines {
		pdf.Cell(0, 10, l)
		pdf.Ln(8)
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 150, 30, 40, 40, false, opts, 0, "")

	if thumb, err := g.Thumbnail(p.ImageRef); err == nil && thumb != nil {
		pdf.RegisterImageOptionsReader("thumb", opts, bytes.NewReader(thumb))
		pdf.ImageOptions("thumb", 10, 90, 60, 0, false, opts, 0, "")
	}

	return pdf.Output(w)
}

// Thumbnail loads ref from the images directory and returns it as a PNG
// resized to ThumbWidth. A nil slice means no image is configured.
func (g *Generator) Thumbnail(ref string) ([]byte, error) {
	if g.imagesDir == "" || ref == "" {
		return nil, nil
	}
	path := filepath.Join(g.imagesDir, filepath.Clean("/"+ref))
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := imaging.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("receipt: decode %s: %w", ref, err)
	}
	thumb := imaging.Resize(img, ThumbWidth, 0, imaging.Lanczos)
	// flatten transparency so the PDF shows a white background
	flat := imaging.New(thumb.Bounds().Dx(), thumb.Bounds().Dy(), color.White)
	flat = imaging.Overlay(flat, thumb, thumb.Bounds().Min, 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
