package worker

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/PaulBabatuyi/FileVault/internal/models"
	"github.com/disintegration/imaging"
)

// maxPixels guards against decompression bombs: a 10 MiB PNG can describe a huge canvas.
const maxPixels = 64 << 20

type ImageProcessor struct {
	quality int
}

func NewImageProcessor() *ImageProcessor {
	return &ImageProcessor{quality: 80}
}

// ProcessImage decodes content and renders one JPEG thumbnail per configured size.
// Images narrower than a size are encoded at their original width.
func (ip *ImageProcessor) ProcessImage(content []byte) (map[models.ThumbnailSize][]byte, int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, 0, 0, fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, 0, 0, fmt.Errorf("image too large to thumbnail: %dx%d", cfg.Width, cfg.Height)
	}

	origImg, err := imaging.Decode(bytes.NewReader(content), imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode: %w", err)
	}

	thumbs := make(map[models.ThumbnailSize][]byte, len(models.ThumbnailWidths))
	for size, maxWidth := range models.ThumbnailWidths {
		data, err := ip.renderThumbnail(origImg, maxWidth)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("render %s thumbnail: %w", size, err)
		}
		thumbs[size] = data
	}

	return thumbs, cfg.Width, cfg.Height, nil
}

func (ip *ImageProcessor) renderThumbnail(img image.Image, maxWidth int) ([]byte, error) {
	thumb := img
	if img.Bounds().Dx() > maxWidth {
		// height 0 keeps the aspect ratio
		thumb = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(ip.quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
