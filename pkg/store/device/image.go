package device

import (
	"io"
	"sync"
)

// Image is a growable in-memory byte image with io.ReaderAt / io.WriterAt
// semantics matching os.File.
//
// It is the shared core of the memory and s3 backends. All methods are safe
// for concurrent use.
type Image struct {
	mu   sync.RWMutex
	data []byte
}

// NewImage returns an image initialized with a copy of data.
func NewImage(data []byte) *Image {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Image{data: buf}
}

// ReadAt copies bytes starting at off into p.
//
// Returns io.EOF when fewer than len(p) bytes are available.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}

	img.mu.RLock()
	defer img.mu.RUnlock()

	if off >= int64(len(img.data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	n := copy(p, img.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt copies p into the image at off, growing it with zeros if needed.
func (img *Image) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}

	img.mu.Lock()
	defer img.mu.Unlock()

	end := off + int64(len(p))
	if end > int64(len(img.data)) {
		img.grow(end)
	}

	return copy(img.data[off:end], p), nil
}

// Truncate resizes the image. New bytes are zero.
func (img *Image) Truncate(size int64) error {
	if size < 0 {
		return ErrNegativeSize
	}

	img.mu.Lock()
	defer img.mu.Unlock()

	if size <= int64(len(img.data)) {
		img.data = img.data[:size]
		return nil
	}
	img.grow(size)
	return nil
}

// Len returns the current image length.
func (img *Image) Len() int64 {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return int64(len(img.data))
}

// Snapshot returns a copy of the whole image.
func (img *Image) Snapshot() []byte {
	img.mu.RLock()
	defer img.mu.RUnlock()

	out := make([]byte, len(img.data))
	copy(out, img.data)
	return out
}

// grow extends data to size bytes. Caller must hold mu.
func (img *Image) grow(size int64) {
	if size <= int64(cap(img.data)) {
		old := len(img.data)
		img.data = img.data[:size]
		clear(img.data[old:])
		return
	}
	buf := make([]byte, size)
	copy(buf, img.data)
	img.data = buf
}
