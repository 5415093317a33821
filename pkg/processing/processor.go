package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUndecodable is returned when bytes cannot be decoded into an image
var ErrUndecodable = errors.New("could not decode image")

// ErrInvalidBase64 is returned when a base64 payload cannot be decoded
var ErrInvalidBase64 = errors.New("invalid base64 image data")

// DefaultJPEGQuality matches the encoder default used for annotated output
const DefaultJPEGQuality = 90

// Processor handles image processing operations
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", "Food-Detector/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image data")
	}

	img, _, err := p.DecodeImage(imageData)
	return img, err
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := p.DecodeImage(data)
	if err != nil {
		return nil, errors.Wrapf(err, "image: unknown format for %s", path)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(source)
	}
	return p.LoadImage(source)
}

// DecodeImage decodes raw bytes into an image and reports the detected format.
// Registered decoders are tried first, then an explicit WebP decode.
func (p *Processor) DecodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrUndecodable
	}

	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil && img != nil {
		return img, format, nil
	}

	if img, err := webp.Decode(bytes.NewReader(data)); err == nil && img != nil {
		return img, "webp", nil
	}

	return nil, "", ErrUndecodable
}

// DecodeBase64 decodes a base64 image payload, stripping a leading data URL prefix
// ("data:image/png;base64,") when present. Standard encoding is tried before URL-safe.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if idx := strings.IndexByte(s, ','); idx > 0 {
			s = s[idx+1:]
		}
	}
	if s == "" {
		return nil, ErrInvalidBase64
	}

	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return nil, ErrInvalidBase64
}

// EncodeImage encodes an image as jpg (default), png or webp
func (p *Processor) EncodeImage(img image.Image, format string, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, errors.Wrap(err, "png encode")
		}
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, errors.Wrap(err, "webp encode")
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, errors.Wrap(err, "jpeg encode")
		}
	}
	return buf.Bytes(), nil
}

// EncodeBase64 encodes an image and returns the base64 text of the encoded bytes.
// maxDim > 0 downsizes the long side first.
func (p *Processor) EncodeBase64(img image.Image, format string, quality, maxDim int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	data, err := p.EncodeImage(img, format, quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// CloneRGBA copies any image into a fresh *image.RGBA with origin (0,0)
func CloneRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Copy(dst, image.Point{}, img, b, xdraw.Src, nil)
	return dst
}

// Mirror flips an image horizontally
func Mirror(img image.Image) *image.NRGBA {
	return imaging.FlipH(img)
}
