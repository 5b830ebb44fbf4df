package kv

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/pkg/errors"
)

// Store is a JSON file backed map. Another process may rewrite the file,
// so every access reloads it when the modification time moved.
type Store[T any] struct {
	path string

	mu      sync.RWMutex
	data    map[string]T
	modTime time.Time
	size    int64
}

func NewStore[T any](path string) (*Store[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "create kv dir")
	}
	s := &Store[T]{
		path: path,
		data: make(map[string]T),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store[T]) Path() string {
	return s.path
}

// reloadLocked re-reads the file if it changed since the last read.
func (s *Store[T]) reloadLocked() error {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		s.data = make(map[string]T)
		s.modTime, s.size = time.Time{}, 0
		return nil
	}
	if err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "stat "+s.path)
	}
	if info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "read "+s.path)
	}
	data := make(map[string]T)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return rag.NewError(rag.ErrStorageUnavailable, err, "decode "+s.path)
		}
	}
	s.data = data
	s.modTime, s.size = info.ModTime(), info.Size()
	return nil
}

func (s *Store[T]) refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

// flushLocked writes through a temp file so readers never see a torn file.
func (s *Store[T]) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode kv store")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "write "+tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "rename "+tmp)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.modTime, s.size = info.ModTime(), info.Size()
	}
	return nil
}

func (s *Store[T]) Upsert(_ context.Context, items map[string]T) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return err
	}
	for k, v := range items {
		s.data[k] = v
	}
	return s.flushLocked()
}

func (s *Store[T]) Get(_ context.Context, ids ...string) (map[string]T, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]T, len(ids))
	for _, id := range ids {
		if v, ok := s.data[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// Scan visits entries in key order until fn returns false.
func (s *Store[T]) Scan(_ context.Context, fn func(key string, v T) bool) error {
	if err := s.refresh(); err != nil {
		return err
	}
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]T, len(keys))
	for i, k := range keys {
		values[i] = s.data[k]
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if !fn(k, values[i]) {
			break
		}
	}
	return nil
}

func (s *Store[T]) Delete(_ context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return err
	}
	removed := false
	for _, id := range ids {
		if _, ok := s.data[id]; ok {
			delete(s.data, id)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	return s.flushLocked()
}

func (s *Store[T]) Len() int {
	_ = s.refresh()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Drop removes the backing file.
func (s *Store[T]) Drop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]T)
	s.modTime, s.size = time.Time{}, 0
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return rag.NewError(rag.ErrStorageUnavailable, err, "remove "+s.path)
	}
	return nil
}
