// Package local implements hearth.ObjectStore on the local filesystem for
// development and single-node installs.
//
// Object attributes live in a JSON sidecar under a ".meta" directory next to
// the objects. Signed URLs carry an HMAC-SHA256 token checked by Handler.
package local

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/hearth"
)

// Compile-time interface check
var _ hearth.ObjectStore = (*ObjectStore)(nil)

const metaDir = ".meta"

// ObjectStore implements hearth.ObjectStore on local disk.
type ObjectStore struct {
	basePath string
	baseURL  string
	secret   []byte

	// Now is the clock used for signing and verification.
	Now func() time.Time
}

// sidecar is the persisted attribute set of one object.
type sidecar struct {
	ContentType string            `json:"contentType"`
	Visibility  string            `json:"visibility"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Open creates the storage directory if needed.
func Open(logger *slog.Logger, cfg hearth.StorageConfig) (*ObjectStore, error) {
	if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	logger.Info("initialized local storage",
		slog.String("path", cfg.LocalPath),
		slog.String("url", cfg.LocalURL))
	return NewObjectStore(cfg.LocalPath, cfg.LocalURL, cfg.LocalSecret), nil
}

// NewObjectStore returns a store rooted at basePath whose objects are served
// under baseURL.
func NewObjectStore(basePath, baseURL, secret string) *ObjectStore {
	return &ObjectStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		secret:   []byte(secret),
		Now:      time.Now,
	}
}

// resolve maps key to its object and sidecar paths, rejecting keys that
// would escape the base directory.
func (s *ObjectStore) resolve(key string) (string, string, error) {
	clean := path.Clean("/" + key)[1:]
	if key == "" || clean != key || strings.HasPrefix(key, metaDir+"/") {
		return "", "", hearth.Invalid("invalid object key %q", key)
	}
	obj := filepath.Join(s.basePath, filepath.FromSlash(key))
	meta := filepath.Join(s.basePath, metaDir, filepath.FromSlash(key)+".json")
	return obj, meta, nil
}

// Put writes data at key.
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string, vis hearth.Visibility, attrs map[string]string) error {
	objPath, metaPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := writeFile(objPath, data); err != nil {
		return storageError("put", key, err)
	}
	sc := sidecar{ContentType: contentType, Visibility: vis.String(), Metadata: maps.Clone(attrs)}
	if err := writeSidecar(metaPath, sc); err != nil {
		return storageError("put", key, err)
	}
	return nil
}

// Get opens the object at key.
func (s *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objPath, _, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(objPath)
	if err != nil {
		return nil, storageError("get", key, err)
	}
	return f, nil
}

// Copy duplicates src at dst with the given visibility.
func (s *ObjectStore) Copy(ctx context.Context, src, dst string, vis hearth.Visibility) error {
	srcPath, srcMeta, err := s.resolve(src)
	if err != nil {
		return err
	}
	dstPath, dstMeta, err := s.resolve(dst)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return storageError("copy", src, err)
	}
	sc, err := readSidecar(srcMeta)
	if err != nil {
		return storageError("copy", src, err)
	}
	sc.Visibility = vis.String()

	if err := writeFile(dstPath, data); err != nil {
		return storageError("copy", dst, err)
	}
	if err := writeSidecar(dstMeta, sc); err != nil {
		return storageError("copy", dst, err)
	}
	return nil
}

// DeleteMany removes each key and its sidecar.
func (s *ObjectStore) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		objPath, metaPath, err := s.resolve(key)
		if err != nil {
			return err
		}
		for _, p := range []string{objPath, metaPath} {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return storageError("delete", key, err)
			}
		}
	}
	return nil
}

// ReplaceMetadata merges attrs into the sidecar of key.
func (s *ObjectStore) ReplaceMetadata(ctx context.Context, key string, attrs map[string]string) error {
	objPath, metaPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(objPath); err != nil {
		return storageError("replace_metadata", key, err)
	}
	sc, err := readSidecar(metaPath)
	if err != nil {
		return storageError("replace_metadata", key, err)
	}
	if sc.Metadata == nil {
		sc.Metadata = map[string]string{}
	}
	maps.Copy(sc.Metadata, attrs)
	if err := writeSidecar(metaPath, sc); err != nil {
		return storageError("replace_metadata", key, err)
	}
	return nil
}

// Stat returns the attributes of key.
func (s *ObjectStore) Stat(ctx context.Context, key string) (*hearth.ObjectInfo, error) {
	objPath, metaPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(objPath)
	if err != nil {
		return nil, storageError("stat", key, err)
	}
	sc, err := readSidecar(metaPath)
	if err != nil {
		return nil, storageError("stat", key, err)
	}
	return &hearth.ObjectInfo{
		Key:         key,
		Size:        fi.Size(),
		ContentType: sc.ContentType,
		Metadata:    sc.Metadata,
	}, nil
}

// List walks the base directory for keys beginning with prefix.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == metaDir && filepath.Dir(p) == filepath.Clean(s.basePath) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, storageError("list", prefix, err)
	}
	return keys, nil
}

// SignURL returns a URL for key valid until now+expiry.
func (s *ObjectStore) SignURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", hearth.Errorf(hearth.EINTERNAL, "local storage signing secret is not configured")
	}
	expires := s.Now().Add(expiry).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(key, expires))
	return s.OriginURL(key) + "?" + q.Encode(), nil
}

// OriginURL returns the unsigned URL of key.
func (s *ObjectStore) OriginURL(key string) string {
	return s.baseURL + "/" + key
}

func (s *ObjectStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// verify checks a signature produced by SignURL.
func (s *ObjectStore) verify(key, expiresParam, sig string) bool {
	if len(s.secret) == 0 {
		return false
	}
	expires, err := strconv.ParseInt(expiresParam, 10, 64)
	if err != nil || s.Now().Unix() > expires {
		return false
	}
	want, err := hex.DecodeString(s.sign(key, expires))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// Handler serves objects by key relative to the request path. Private
// objects require a valid, unexpired signature.
func (s *ObjectStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/")
		objPath, metaPath, err := s.resolve(key)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		sc, err := readSidecar(metaPath)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		q := r.URL.Query()
		if sc.Visibility != hearth.Public.String() && !s.verify(key, q.Get("expires"), q.Get("sig")) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		f, err := os.Open(objPath)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if sc.ContentType != "" {
			w.Header().Set("Content-Type", sc.ContentType)
		}
		http.ServeContent(w, r, path.Base(key), fi.ModTime(), f)
	})
}

// writeFile writes data through a temp file and rename so readers never see
// a partial object.
func writeFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}

func writeSidecar(p string, sc sidecar) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	return writeFile(p, data)
}

func readSidecar(p string) (sidecar, error) {
	var sc sidecar
	data, err := os.ReadFile(p)
	if err != nil {
		return sc, err
	}
	if err := json.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("decoding metadata: %w", err)
	}
	return sc, nil
}

func storageError(op, key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return hearth.WrapError(hearth.ENOTFOUND, fmt.Sprintf("object %s not found", key), err)
	}
	transient := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	return &hearth.StorageError{Op: op, Key: key, Transient: transient, Err: err}
}
