package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage keeps objects in process. Used in local mode and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memoryObject)}
}

func (m *MemoryStorage) GetObject(_ context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[bucket+"/"+objectKey]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, objectKey, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStorage) PutObject(_ context.Context, bucket, objectKey string, reader io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[bucket+"/"+objectKey] = memoryObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) StatObject(_ context.Context, bucket, objectKey string) (ObjectStat, error) {
	m.mu.RLock()
	obj, ok := m.objects[bucket+"/"+objectKey]
	m.mu.RUnlock()
	if !ok {
		return ObjectStat{}, fmt.Errorf("%s/%s: %w", bucket, objectKey, ErrObjectNotFound)
	}
	return ObjectStat{SizeBytes: int64(len(obj.data)), ContentType: obj.contentType}, nil
}
