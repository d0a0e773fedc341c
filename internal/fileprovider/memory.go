package fileprovider

import (
	"context"
	"fmt"
)

// MemProvider is an in-memory Provider for tests, following the teacher's
// mockSource/mockStore style (internal/copier/idempotency_test.go) rather
// than a mocking framework.
type MemProvider struct {
	Files map[string][]byte // key: directory + "/" + filename
}

func NewMemProvider() *MemProvider {
	return &MemProvider{Files: make(map[string][]byte)}
}

func (p *MemProvider) Put(directory, filename string, data []byte) {
	p.Files[key(directory, filename)] = data
}

func key(directory, filename string) string {
	return directory + "/" + filename
}

func (p *MemProvider) Size(ctx context.Context, directory, filename string) (int64, error) {
	data, ok := p.Files[key(directory, filename)]
	if !ok {
		return 0, fmt.Errorf("file not found: %s/%s", directory, filename)
	}
	return int64(len(data)), nil
}

func (p *MemProvider) ReadRange(ctx context.Context, directory, filename string, start, end int64) ([]byte, error) {
	data, ok := p.Files[key(directory, filename)]
	if !ok {
		return nil, fmt.Errorf("file not found: %s/%s", directory, filename)
	}
	if start < 0 || end > int64(len(data)) || end <= start {
		return nil, fmt.Errorf("invalid range [%d,%d) for file of size %d", start, end, len(data))
	}
	out := make([]byte, end-start)
	copy(out, data[start:end])
	return out, nil
}

func (p *MemProvider) ReadPrefix(ctx context.Context, directory, filename string, maxBytes int64) ([]byte, error) {
	data, ok := p.Files[key(directory, filename)]
	if !ok {
		return nil, fmt.Errorf("file not found: %s/%s", directory, filename)
	}
	n := maxBytes
	if n > int64(len(data)) {
		n = int64(len(data))
	}
	out := make([]byte, n)
	copy(out, data[:n])
	return out, nil
}
