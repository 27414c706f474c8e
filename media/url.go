package media

import (
	"context"
	"strings"

	"github.com/dukerupert/hearth"
)

// Resolver turns keys into URLs. It neither caches nor invalidates: a signed
// URL stays valid for its window even if the object is deleted.
type Resolver struct {
	store   hearth.ObjectStore
	cdnBase string
}

// NewResolver creates a Resolver. When cdnBase is empty, public URLs point
// at the store origin.
func NewResolver(store hearth.ObjectStore, cdnBase string) *Resolver {
	return &Resolver{store: store, cdnBase: strings.TrimRight(cdnBase, "/")}
}

// Resolve returns the URL of key in the given mode.
func (r *Resolver) Resolve(ctx context.Context, key string, mode hearth.URLMode) (string, error) {
	if key == "" {
		return "", hearth.Invalid("key is required")
	}
	if !mode.Signed {
		if r.cdnBase != "" {
			return r.cdnBase + "/" + key, nil
		}
		return r.store.OriginURL(key), nil
	}
	if mode.Expiry <= 0 {
		return "", hearth.Invalid("signed URL expiry must be positive")
	}
	url, err := r.store.SignURL(ctx, key, mode.Expiry)
	if err != nil {
		return "", storageError("sign", key, err)
	}
	return url, nil
}

// Renditions resolves every rendition of originalKey, keyed by name.
func (r *Resolver) Renditions(ctx context.Context, originalKey string, set []hearth.Rendition, mode hearth.URLMode) (map[string]string, error) {
	urls := make(map[string]string, len(set))
	for _, rend := range set {
		u, err := r.Resolve(ctx, RenditionKey(originalKey, rend.Name), mode)
		if err != nil {
			return nil, err
		}
		urls[rend.Name] = u
	}
	return urls, nil
}
