// Package analyzer validates uploaded images before they reach the model.
package analyzer

import (
	"image"
	"mime"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotImage          = errors.New("File must be an image")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrImageTooSmall     = errors.New("image too small")
	ErrImageTooLarge     = errors.New("image too large")
)

// ImageAnalyzer checks uploads against format and size limits
type ImageAnalyzer struct {
	config Config
}

// Config holds configuration for the image analyzer
type Config struct {
	SupportedFormats []string
	MinImageSize     int
	MaxImageSize     int
}

// DefaultConfig accepts everything the decoder understands
func DefaultConfig() Config {
	return Config{
		SupportedFormats: []string{"jpeg", "png", "gif", "webp"},
		MinImageSize:     1,
		MaxImageSize:     8192,
	}
}

// New creates a new ImageAnalyzer with default configuration
func New() *ImageAnalyzer {
	return &ImageAnalyzer{config: DefaultConfig()}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	return &ImageAnalyzer{config: config}
}

// CheckContentType rejects a declared content type that is not image/*.
// Empty and application/octet-stream say nothing about the payload; decoding decides.
func (a *ImageAnalyzer) CheckContentType(contentType string) error {
	if contentType == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil && mediaType == "application/octet-stream" {
		return nil
	}
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return ErrNotImage
	}
	return nil
}

// CheckFormat rejects decoder format names outside the allowlist
func (a *ImageAnalyzer) CheckFormat(format string) error {
	if !a.isFormatSupported(format) {
		return errors.Wrap(ErrUnsupportedFormat, format)
	}
	return nil
}

// GetImageInfo returns basic information about an image
func (a *ImageAnalyzer) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{Width: width, Height: height, Area: width * height}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

func (a *ImageAnalyzer) isFormatSupported(format string) bool {
	format = strings.ToLower(format)
	if format == "jpg" {
		format = "jpeg"
	}
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

// ValidateImage checks if an image meets the size limits
func (a *ImageAnalyzer) ValidateImage(img image.Image) error {
	bounds := img.Bounds()
	if bounds.Dx() < a.config.MinImageSize || bounds.Dy() < a.config.MinImageSize {
		return errors.Wrapf(ErrImageTooSmall, "%dx%d (minimum: %d)",
			bounds.Dx(), bounds.Dy(), a.config.MinImageSize)
	}
	if a.config.MaxImageSize > 0 && (bounds.Dx() > a.config.MaxImageSize || bounds.Dy() > a.config.MaxImageSize) {
		return errors.Wrapf(ErrImageTooLarge, "%dx%d (maximum: %d)",
			bounds.Dx(), bounds.Dy(), a.config.MaxImageSize)
	}
	return nil
}

// Validate runs the format and size checks on a decoded upload
func (a *ImageAnalyzer) Validate(img image.Image, format string) error {
	if err := a.CheckFormat(format); err != nil {
		return err
	}
	return a.ValidateImage(img)
}
