// Package cvloader decodes images through OpenCV and plugs into the
// imageprocessor loader registry.
package cvloader

import (
	"fmt"
	"image"

	"imagesorter/imageprocessor"

	"gocv.io/x/gocv"
)

// Loader reads images with gocv.IMRead
type Loader struct {
	imageprocessor.BaseImageLoader
}

// New creates an OpenCV loader for every accepted format
func New() *Loader {
	return &Loader{
		BaseImageLoader: imageprocessor.BaseImageLoader{
			SupportedFormats: []imageprocessor.FormatType{
				imageprocessor.FormatJPEG,
				imageprocessor.FormatPNG,
				imageprocessor.FormatBMP,
				imageprocessor.FormatTIFF,
			},
		},
	}
}

// Name implements imageprocessor.ImageLoader
func (l *Loader) Name() string { return "opencv" }

// LoadImage reads the file in color and converts the Mat into an image.Image
func (l *Loader) LoadImage(path string) (image.Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("opencv could not read image: %s", path)
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert opencv mat for %s: %w", path, err)
	}
	return img, nil
}

// Register installs the OpenCV loader for every accepted extension
func Register(registry *imageprocessor.ImageLoaderRegistry) error {
	loader := New()
	for _, ext := range imageprocessor.GetSupportedExtensions() {
		if err := registry.RegisterLoader(ext, loader); err != nil {
			return err
		}
	}
	return nil
}
