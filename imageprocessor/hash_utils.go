package imageprocessor

import (
	"errors"
	"fmt"
	"image"

	"github.com/corona10/goimagehash"
)

// HashAlgorithm selects the perceptual hash family.
type HashAlgorithm string

// Supported hash algorithms
const (
	HashAverage    HashAlgorithm = "average"
	HashPerception HashAlgorithm = "perception"
	HashDifference HashAlgorithm = "difference"
)

// DefaultHashSize gives 128x128 = 16384-bit hashes.
const DefaultHashSize = 128

// MaxPerceptionHashSize bounds the perception hash, whose DCT runs on a
// (size*size)x(size*size) resample of the image.
const MaxPerceptionHashSize = 16

// ErrHashSizeMismatch is returned when two hashes of different width are compared.
var ErrHashSizeMismatch = errors.New("hash bit lengths differ")

// ParseHashAlgorithm validates an algorithm name
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	switch alg := HashAlgorithm(name); alg {
	case HashAverage, HashPerception, HashDifference:
		return alg, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q", name)
	}
}

// ValidateHashSize checks that size*size bits pack into whole 64-bit words,
// which goimagehash requires for extended hashes.
func ValidateHashSize(size int) error {
	if size <= 0 || (size*size)%64 != 0 {
		return fmt.Errorf("invalid hash size %d: size*size must be a positive multiple of 64", size)
	}
	return nil
}

// ValidateHash checks a size against the limits of the chosen algorithm
func ValidateHash(algorithm HashAlgorithm, size int) error {
	if _, err := ParseHashAlgorithm(string(algorithm)); err != nil {
		return err
	}
	if err := ValidateHashSize(size); err != nil {
		return err
	}
	if algorithm == HashPerception {
		bits := size * size
		if size > MaxPerceptionHashSize || bits&(bits-1) != 0 {
			return fmt.Errorf("invalid perception hash size %d: size*size must be a power of two and size at most %d",
				size, MaxPerceptionHashSize)
		}
	}
	return nil
}

// HashProvider turns an image file into a fixed-width perceptual hash.
// It holds no mutable state and is safe for concurrent use.
type HashProvider struct {
	registry  *ImageLoaderRegistry
	algorithm HashAlgorithm
	size      int
}

// NewHashProvider creates a provider producing size*size-bit hashes
func NewHashProvider(registry *ImageLoaderRegistry, algorithm HashAlgorithm, size int) (*HashProvider, error) {
	if registry == nil {
		registry = NewImageLoaderRegistry()
	}
	if err := ValidateHash(algorithm, size); err != nil {
		return nil, err
	}
	return &HashProvider{registry: registry, algorithm: algorithm, size: size}, nil
}

// Bits returns the hash width W produced by this provider
func (p *HashProvider) Bits() int {
	return p.size * p.size
}

// CanHash reports whether a loader is registered for the file's extension
func (p *HashProvider) CanHash(path string) bool {
	return p.registry.CanLoadFile(path)
}

// HashImage loads the file at path and hashes it
func (p *HashProvider) HashImage(path string) (*goimagehash.ExtImageHash, error) {
	img, err := p.registry.LoadImage(path)
	if err != nil {
		return nil, err
	}
	hash, err := p.Compute(img)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	return hash, nil
}

// Compute hashes an already decoded image
func (p *HashProvider) Compute(img image.Image) (*goimagehash.ExtImageHash, error) {
	switch p.algorithm {
	case HashPerception:
		return goimagehash.ExtPerceptionHash(img, p.size, p.size)
	case HashDifference:
		return goimagehash.ExtDifferenceHash(img, p.size, p.size)
	default:
		return goimagehash.ExtAverageHash(img, p.size, p.size)
	}
}

// Similarity returns 1 - hamming(a, b)/W where W is the bit length carried
// by the hashes themselves.
func Similarity(a, b *goimagehash.ExtImageHash) (float64, error) {
	distance, err := HammingDistance(a, b)
	if err != nil {
		return 0, err
	}
	return SimilarityFromDistance(distance, a), nil
}

// SimilarityFromDistance normalises a Hamming distance by the bit length of h.
// It is the only place the divisor is chosen.
func SimilarityFromDistance(distance int, h *goimagehash.ExtImageHash) float64 {
	return 1 - float64(distance)/float64(h.Bits())
}

// HammingDistance counts differing bit positions between two hashes
func HammingDistance(a, b *goimagehash.ExtImageHash) (int, error) {
	if a == nil || b == nil {
		return 0, errors.New("cannot compare nil hash")
	}
	if a.Bits() != b.Bits() {
		return 0, fmt.Errorf("%w: %d vs %d", ErrHashSizeMismatch, a.Bits(), b.Bits())
	}
	return a.Distance(b)
}
