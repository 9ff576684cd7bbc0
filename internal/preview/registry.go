package preview

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const Prefix = "/preview/"

var ErrNotFound = errors.New("preview not found")

type Blob struct {
	ContentType string
	Data        []byte
}

// Registry 本地预览资源，相当于浏览器里的 blob URL。
// 创建者负责在消息被替换或移除时 Revoke。
type Registry struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

func NewRegistry() *Registry {
	return &Registry{blobs: make(map[string]Blob)}
}

// Create stores data and returns a locator of the form /preview/<id>.
func (r *Registry) Create(data []byte, contentType string) string {
	id := uuid.New().String()

	r.mu.Lock()
	r.blobs[id] = Blob{ContentType: contentType, Data: data}
	r.mu.Unlock()

	return Prefix + id
}

func (r *Registry) Open(locator string) (Blob, error) {
	id, ok := parse(locator)
	if !ok {
		return Blob{}, ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.blobs[id]
	if !exists {
		return Blob{}, ErrNotFound
	}
	return b, nil
}

func (r *Registry) Revoke(locator string) {
	id, ok := parse(locator)
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.blobs, id)
	r.mu.Unlock()
}

func (r *Registry) RevokeAll() {
	r.mu.Lock()
	r.blobs = make(map[string]Blob)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

// parse accepts either a full locator or a bare id.
func parse(locator string) (string, bool) {
	id := strings.TrimPrefix(locator, Prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
