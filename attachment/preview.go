package attachment

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/mmdatafocus/fieldreport_backend/models"
)

// Previewer owns the local preview resources shown for staged media.
type Previewer interface {
	Create(media models.Media) (ref string, err error)
	Release(ref string) error
}

// ThumbnailStore keeps JPEG thumbnails in memory, keyed by a generated ref.
// Media that cannot be decoded as an image (pdf, heic) gets a ref without thumbnail bytes.
type ThumbnailStore struct {
	mu    sync.Mutex
	width int
	items map[string][]byte
}

func NewThumbnailStore(width int) *ThumbnailStore {
	if width <= 0 {
		width = 200
	}
	return &ThumbnailStore{width: width, items: map[string][]byte{}}
}

func (s *ThumbnailStore) Create(media models.Media) (string, error) {
	thumb, err := generateThumbnail(media.Data, s.width)
	if err != nil {
		thumb = nil
	}
	ref := uuid.NewString()
	s.mu.Lock()
	s.items[ref] = thumb
	s.mu.Unlock()
	return ref, nil
}

func (s *ThumbnailStore) Release(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[ref]; !ok {
		return fmt.Errorf("preview %s is not held", ref)
	}
	delete(s.items, ref)
	return nil
}

// Get returns the thumbnail bytes for ref; ok is false once released.
func (s *ThumbnailStore) Get(ref string) (thumb []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thumb, ok = s.items[ref]
	return thumb, ok
}

// Held is the number of unreleased previews.
func (s *ThumbnailStore) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func generateThumbnail(data []byte, width int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumbnail := imaging.Resize(img, width, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
