package imageprocessor

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"

	"imagesorter/logging"
)

// ImageLoaderRegistry maintains a registry of image loaders
type ImageLoaderRegistry struct {
	loaders       map[string]ImageLoader
	defaultLoader ImageLoader
	mutex         sync.RWMutex
}

// NewImageLoaderRegistry creates a registry where every accepted extension
// is served by the Go decoders.
func NewImageLoaderRegistry() *ImageLoaderRegistry {
	registry := &ImageLoaderRegistry{
		loaders: make(map[string]ImageLoader),
	}

	standardLoader := NewStandardImageLoader()
	for _, ext := range GetSupportedExtensions() {
		registry.loaders[ext] = standardLoader
	}
	registry.defaultLoader = standardLoader

	return registry
}

// RegisterLoader registers a new loader for a specific file extension.
// Extensions outside the accepted set are rejected.
func (r *ImageLoaderRegistry) RegisterLoader(ext string, loader ImageLoader) error {
	ext = strings.ToLower(ext)
	if _, ok := formatExtensions[ext]; !ok {
		return fmt.Errorf("register loader %s for %s: %w", loader.Name(), ext, ErrUnsupportedFormat)
	}
	if !loader.CanLoad("probe" + ext) {
		return fmt.Errorf("loader %s does not handle %s", loader.Name(), ext)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.loaders[ext] = loader
	return nil
}

// GetLoader returns the appropriate loader for the given path
func (r *ImageLoaderRegistry) GetLoader(path string) ImageLoader {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if loader, ok := r.loaders[strings.ToLower(filepath.Ext(path))]; ok {
		return loader
	}
	return nil
}

// CanLoadFile checks if any registered loader can handle the given file
func (r *ImageLoaderRegistry) CanLoadFile(path string) bool {
	return r.GetLoader(path) != nil
}

// LoadImage loads an image using the appropriate registered loader. When a
// specialised loader fails the Go decoders get a second attempt.
func (r *ImageLoaderRegistry) LoadImage(path string) (image.Image, error) {
	loader := r.GetLoader(path)
	if loader == nil {
		return nil, fmt.Errorf("load %s: %w", path, ErrUnsupportedFormat)
	}

	img, err := loader.LoadImage(path)
	if err == nil || loader == r.defaultLoader {
		return img, err
	}

	logging.LogWarning("image loader failed, falling back to Go decoders",
		"path", path, "loader", loader.Name(), "error", err)
	return r.defaultLoader.LoadImage(path)
}
