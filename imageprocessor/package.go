// Package imageprocessor loads candidate and template images, computes
// their perceptual hashes and scores hash pairs.
package imageprocessor
