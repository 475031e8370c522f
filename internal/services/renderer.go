package services

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/gen2brain/go-fitz"
)

// PageRenderer rasterizes one page of a PDF file. pageIndex is 0-based.
type PageRenderer interface {
	RenderPage(pdfPath string, pageIndex int, dpi float64) (image.Image, error)
}

type fitzRenderer struct{}

// NewFitzRenderer returns the MuPDF-backed renderer used for figure cropping.
func NewFitzRenderer() PageRenderer { return fitzRenderer{} }

func (fitzRenderer) RenderPage(pdfPath string, pageIndex int, dpi float64) (image.Image, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", pdfPath, err)
	}
	defer doc.Close()

	img, err := doc.ImageDPI(pageIndex, dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d of %s: %w", pageIndex, pdfPath, err)
	}
	return img, nil
}

// cropImage copies the rectangle r out of src, clamped to src's bounds.
func cropImage(src image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(src.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}
