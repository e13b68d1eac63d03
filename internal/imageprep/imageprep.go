// Package imageprep resizes fixture images to a fixed height and re-encodes
// them as JPEG, keeping the aspect ratio.
package imageprep

import (
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/mwiater/vlmbench/internal/logging"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultPattern      = "test-img-*.png"
	DefaultTargetHeight = 720
	DefaultQuality      = 90
)

// Options selects the images to convert.
type Options struct {
	Dir          string
	Pattern      string
	TargetHeight int
	Quality      int
}

// Conversion describes one converted image.
type Conversion struct {
	Source string
	Output string
	FromW  int
	FromH  int
	ToW    int
	ToH    int
}

func (c Conversion) String() string {
	return fmt.Sprintf("%s -> %s (%dx%d -> %dx%d)", filepath.Base(c.Source), filepath.Base(c.Output), c.FromW, c.FromH, c.ToW, c.ToH)
}

// ConvertDir converts every image in opts.Dir matching opts.Pattern to a
// sibling .jpg file with the same base name.
func ConvertDir(opts Options) ([]Conversion, error) {
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if opts.TargetHeight <= 0 {
		opts.TargetHeight = DefaultTargetHeight
	}
	if opts.Quality <= 0 {
		opts.Quality = DefaultQuality
	}

	paths, err := filepath.Glob(filepath.Join(opts.Dir, opts.Pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid image pattern %q: %w", opts.Pattern, err)
	}
	sort.Strings(paths)

	var out []Conversion
	for _, p := range paths {
		if strings.EqualFold(filepath.Ext(p), ".jpg") {
			continue
		}
		conv, err := ConvertFile(p, opts.TargetHeight, opts.Quality)
		if err != nil {
			return out, err
		}
		logging.LogEvent("images: converted %s", conv)
		out = append(out, conv)
	}
	return out, nil
}

// ConvertFile resizes src to height pixels and writes it as JPEG next to src.
func ConvertFile(src string, height, quality int) (Conversion, error) {
	f, err := os.Open(src)
	if err != nil {
		return Conversion{}, fmt.Errorf("open %q: %w", src, err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return Conversion{}, fmt.Errorf("decode %q: %w", src, err)
	}

	resized := Resize(img, height)
	outPath := strings.TrimSuffix(src, filepath.Ext(src)) + ".jpg"
	out, err := os.Create(outPath)
	if err != nil {
		return Conversion{}, fmt.Errorf("create %q: %w", outPath, err)
	}
	if err := jpeg.Encode(out, resized, &jpeg.Options{Quality: quality}); err != nil {
		out.Close()
		return Conversion{}, fmt.Errorf("encode %q: %w", outPath, err)
	}
	if err := out.Close(); err != nil {
		return Conversion{}, err
	}

	b := img.Bounds()
	rb := resized.Bounds()
	return Conversion{
		Source: src, Output: outPath,
		FromW: b.Dx(), FromH: b.Dy(),
		ToW: rb.Dx(), ToH: rb.Dy(),
	}, nil
}

// Resize scales img to the given height, preserving the aspect ratio. The
// result is always opaque RGBA.
func Resize(img image.Image, height int) image.Image {
	b := img.Bounds()
	width := b.Dx() * height / b.Dy()
	if width < 1 {
		width = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
