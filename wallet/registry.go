package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/trustbloc/logutil-go/pkg/log"
	"go.uber.org/zap"
)

var logger = log.New("wallet-registry")

// StaticRegistry serves a fixed wallet list.
type StaticRegistry struct {
	wallets []Descriptor
}

func NewStaticRegistry(wallets ...Descriptor) *StaticRegistry {
	return &StaticRegistry{wallets: wallets}
}

func (r *StaticRegistry) Wallets(context.Context) ([]Descriptor, error) {
	return append([]Descriptor(nil), r.wallets...), nil
}

// FileRegistry serves wallets from a JSON file holding an array of
// descriptors. The file is read again whenever its modification time changes.
type FileRegistry struct {
	path string

	mu      sync.Mutex
	modTime int64
	wallets []Descriptor
}

func NewFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{path: path}
	if _, err := r.Wallets(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRegistry) Wallets(context.Context) ([]Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.path)
	if err != nil {
		return nil, fmt.Errorf("stat wallets file: %w", err)
	}

	if r.wallets != nil && info.ModTime().UnixNano() == r.modTime {
		return append([]Descriptor(nil), r.wallets...), nil
	}

	b, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read wallets file: %w", err)
	}

	var wallets []Descriptor
	if err := json.Unmarshal(b, &wallets); err != nil {
		return nil, fmt.Errorf("parse wallets file %s: %w", r.path, err)
	}

	for i, w := range wallets {
		if w.ID == "" || w.URL == "" {
			return nil, fmt.Errorf("parse wallets file %s: wallet %d: id and url are required", r.path, i)
		}
	}

	logger.Info("loaded wallets", zap.String("path", r.path), zap.Int("count", len(wallets)))

	r.wallets = wallets
	if r.wallets == nil {
		r.wallets = []Descriptor{}
	}
	r.modTime = info.ModTime().UnixNano()

	return append([]Descriptor(nil), r.wallets...), nil
}
