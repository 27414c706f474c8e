package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/hearth"
)

// Compile-time interface check
var _ hearth.ObjectStore = (*ObjectStore)(nil)

// Object is one object held by ObjectStore.
type Object struct {
	Data        []byte
	ContentType string
	Visibility  hearth.Visibility
	Metadata    map[string]string
}

// Call records one invocation of an ObjectStore method.
type Call struct {
	Op   string
	Key  string
	Dst  string
	Keys []string
}

// ObjectStore is an in-memory implementation of hearth.ObjectStore.
//
// The Fn hooks run before the in-memory behavior of the matching method; a
// non-nil error from a hook is returned as-is and the store is left
// unchanged. SignURLFn and OriginURLFn replace the default entirely.
type ObjectStore struct {
	PutFn             func(ctx context.Context, key string, data []byte, contentType string, vis hearth.Visibility) error
	GetFn             func(ctx context.Context, key string) error
	CopyFn            func(ctx context.Context, src, dst string, vis hearth.Visibility) error
	DeleteManyFn      func(ctx context.Context, keys []string) error
	ReplaceMetadataFn func(ctx context.Context, key string, attrs map[string]string) error
	StatFn            func(ctx context.Context, key string) error
	ListFn            func(ctx context.Context, prefix string) error
	SignURLFn         func(ctx context.Context, key string, expiry time.Duration) (string, error)
	OriginURLFn       func(key string) string

	// Now is the clock used for signed URL expiry. Defaults to time.Now.
	Now func() time.Time

	mu      sync.Mutex
	objects map[string]*Object
	calls   []Call
}

// NewObjectStore returns an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]*Object)}
}

func (s *ObjectStore) record(c Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string]*Object)
	}
	s.calls = append(s.calls, c)
}

func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string, vis hearth.Visibility, attrs map[string]string) error {
	s.record(Call{Op: "Put", Key: key})
	if s.PutFn != nil {
		if err := s.PutFn(ctx, key, data, contentType, vis); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &Object{
		Data:        bytes.Clone(data),
		ContentType: contentType,
		Visibility:  vis,
		Metadata:    metadataOf(attrs),
	}
	return nil
}

func metadataOf(attrs map[string]string) map[string]string {
	if attrs == nil {
		return map[string]string{}
	}
	return maps.Clone(attrs)
}

func (s *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.record(Call{Op: "Get", Key: key})
	if s.GetFn != nil {
		if err := s.GetFn(ctx, key); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, hearth.NotFound("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.Data))), nil
}

func (s *ObjectStore) Copy(ctx context.Context, src, dst string, vis hearth.Visibility) error {
	s.record(Call{Op: "Copy", Key: src, Dst: dst})
	if s.CopyFn != nil {
		if err := s.CopyFn(ctx, src, dst, vis); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[src]
	if !ok {
		return hearth.NotFound("object %s not found", src)
	}
	s.objects[dst] = &Object{
		Data:        bytes.Clone(obj.Data),
		ContentType: obj.ContentType,
		Visibility:  vis,
		Metadata:    maps.Clone(obj.Metadata),
	}
	return nil
}

func (s *ObjectStore) DeleteMany(ctx context.Context, keys []string) error {
	s.record(Call{Op: "DeleteMany", Keys: slices.Clone(keys)})
	if s.DeleteManyFn != nil {
		if err := s.DeleteManyFn(ctx, keys); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.objects, k)
	}
	return nil
}

func (s *ObjectStore) ReplaceMetadata(ctx context.Context, key string, attrs map[string]string) error {
	s.record(Call{Op: "ReplaceMetadata", Key: key})
	if s.ReplaceMetadataFn != nil {
		if err := s.ReplaceMetadataFn(ctx, key, attrs); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return hearth.NotFound("object %s not found", key)
	}
	if obj.Metadata == nil {
		obj.Metadata = map[string]string{}
	}
	maps.Copy(obj.Metadata, attrs)
	return nil
}

func (s *ObjectStore) Stat(ctx context.Context, key string) (*hearth.ObjectInfo, error) {
	s.record(Call{Op: "Stat", Key: key})
	if s.StatFn != nil {
		if err := s.StatFn(ctx, key); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, hearth.NotFound("object %s not found", key)
	}
	return &hearth.ObjectInfo{
		Key:         key,
		Size:        int64(len(obj.Data)),
		ContentType: obj.ContentType,
		Metadata:    maps.Clone(obj.Metadata),
	}, nil
}

func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.record(Call{Op: "List", Key: prefix})
	if s.ListFn != nil {
		if err := s.ListFn(ctx, prefix); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *ObjectStore) SignURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	s.record(Call{Op: "SignURL", Key: key})
	if s.SignURLFn != nil {
		return s.SignURLFn(ctx, key, expiry)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	issued := now()
	return fmt.Sprintf("https://mock-storage.example.com/%s?issued=%d&expires=%d",
		key, issued.Unix(), issued.Add(expiry).Unix()), nil
}

func (s *ObjectStore) OriginURL(key string) string {
	if s.OriginURLFn != nil {
		return s.OriginURLFn(key)
	}
	return "https://mock-storage.example.com/" + key
}

// Seed stores an object directly, bypassing hooks and call recording.
func (s *ObjectStore) Seed(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string]*Object)
	}
	s.objects[key] = &Object{Data: bytes.Clone(data), ContentType: contentType, Metadata: map[string]string{}}
}

// Object returns a copy of the object at key.
func (s *ObjectStore) Object(key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return Object{}, false
	}
	return Object{
		Data:        bytes.Clone(obj.Data),
		ContentType: obj.ContentType,
		Visibility:  obj.Visibility,
		Metadata:    maps.Clone(obj.Metadata),
	}, true
}

// Has reports whether key is stored.
func (s *ObjectStore) Has(key string) bool {
	_, ok := s.Object(key)
	return ok
}

// Keys returns every stored key, sorted.
func (s *ObjectStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.objects))
}

// Calls returns the recorded calls of op, or all calls when op is empty.
func (s *ObjectStore) Calls(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}
