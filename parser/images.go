package parser

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// imageSink names images by content hash and writes each distinct image
// once. The same picture reused on many pages therefore yields the same
// reference, which attribution relies on for dedupe.
type imageSink struct {
	dir     string
	minSize int
	refs    map[string]string
}

func newImageSink(opts Options) *imageSink {
	return &imageSink{dir: opts.ImageDir, minSize: opts.MinImageSize, refs: make(map[string]string)}
}

// save stores data and returns its reference. ok is false when the image
// is below the minimum size and was skipped.
func (s *imageSink) save(data []byte, ext string) (ref string, ok bool, err error) {
	if w, h := imageSize(data); w > 0 && h > 0 && s.tooSmall(w, h) {
		return "", false, nil
	}
	return s.store(data, ext)
}

func (s *imageSink) tooSmall(w, h int) bool {
	return s.minSize > 0 && (w < s.minSize || h < s.minSize)
}

// store writes data without a size check.
func (s *imageSink) store(data []byte, ext string) (string, bool, error) {
	sum := blake3.Sum256(data)
	key := hex.EncodeToString(sum[:16])
	if ref, ok := s.refs[key]; ok {
		return ref, true, nil
	}

	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		ext = "bin"
	}
	name := key + "." + ext
	ref := name
	if s.dir != "" {
		ref = filepath.Join(s.dir, name)
		if _, err := os.Stat(ref); errors.Is(err, fs.ErrNotExist) {
			if err := os.MkdirAll(s.dir, 0o755); err != nil {
				return "", false, fmt.Errorf("creating image dir: %w", err)
			}
			if err := os.WriteFile(ref, data, 0o644); err != nil {
				return "", false, fmt.Errorf("writing image: %w", err)
			}
		}
	}
	s.refs[key] = ref
	return ref, true, nil
}

// imageSize returns the width and height of an image from its encoded bytes.
func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
