package archive

import (
	"bytes"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/drpcorg/mural/canvas"
)

type previewKey struct {
	room   string
	digest uint64
}

// Previews caches rendered PNGs by room and canvas digest, so an unchanged
// canvas is encoded once.
type Previews struct {
	cache *lru.Cache[previewKey, []byte]
}

func NewPreviews(size int) *Previews {
	if size <= 0 {
		size = 64
	}
	cache, _ := lru.New[previewKey, []byte](size)
	return &Previews{cache: cache}
}

// Render returns the PNG of c, encoding it only on a cache miss.
func (p *Previews) Render(room string, c *canvas.Canvas) ([]byte, error) {
	key := previewKey{room: room, digest: c.Digest()}
	if img, ok := p.cache.Get(key); ok {
		PreviewLookups.WithLabelValues("hit").Inc()
		return img, nil
	}
	PreviewLookups.WithLabelValues("miss").Inc()
	var buf bytes.Buffer
	if err := c.EncodePNG(&buf); err != nil {
		return nil, err
	}
	img := buf.Bytes()
	p.cache.Add(key, img)
	return img, nil
}

func (p *Previews) Len() int {
	return p.cache.Len()
}
