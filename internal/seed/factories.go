package seed

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"marketplace/internal/imagestore"

	"github.com/brianvoe/gofakeit/v6"
)

// Factory builds fake listings without persisting them.
type Factory struct {
	faker *gofakeit.Faker
}

func NewFactory(faker *gofakeit.Faker) *Factory {
	if faker == nil {
		faker = gofakeit.New(0)
	}
	return &Factory{faker: faker}
}

// Listing is the input of one seeded post.
type Listing struct {
	Title       string
	Description string
	Photos      []imagestore.File
}

// Listing draws a product title and description plus 1..maxPhotos photos
// alternating between PNG and JPEG.
func (f *Factory) Listing(maxPhotos int) (*Listing, error) {
	if maxPhotos < 1 {
		maxPhotos = 1
	}
	l := &Listing{
		Title:       f.faker.ProductName(),
		Description: f.faker.ProductDescription(),
	}

	n := f.faker.Number(1, maxPhotos)
	for i := 1; i <= n; i++ {
		ext := ".png"
		if f.faker.Bool() {
			ext = ".jpg"
		}
		data, err := f.Photo(ext, 48, 36)
		if err != nil {
			return nil, err
		}
		l.Photos = append(l.Photos, imagestore.File{Name: fmt.Sprintf("photo%d%s", i, ext), Data: data})
	}
	return l, nil
}

// CommentText is a short buyer question.
func (f *Factory) CommentText() string {
	return f.faker.Sentence(f.faker.Number(4, 14))
}

// Photo renders a two-tone gradient in the format named by ext.
func (f *Factory) Photo(ext string, w, h int) ([]byte, error) {
	from := color.RGBA{R: f.faker.Uint8(), G: f.faker.Uint8(), B: f.faker.Uint8(), A: 255}
	to := color.RGBA{R: f.faker.Uint8(), G: f.faker.Uint8(), B: f.faker.Uint8(), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		c := blend(from, to, x, w)
		for y := 0; y < h; y++ {
			img.SetRGBA(x, y, c)
		}
	}

	buf := bytes.NewBuffer(nil)
	var err error
	switch ext {
	case ".png":
		err = png.Encode(buf, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(buf, img, &jpeg.Options{Quality: 75})
	default:
		return nil, fmt.Errorf("unsupported seed photo format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ext, err)
	}
	return buf.Bytes(), nil
}

func blend(a, b color.RGBA, i, n int) color.RGBA {
	if n <= 1 {
		return a
	}
	mix := func(x, y uint8) uint8 {
		return uint8((int(x)*(n-1-i) + int(y)*i) / (n - 1))
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}
