package media

import (
	"context"
	"log/slog"
	"slices"
	"strconv"

	"github.com/dukerupert/hearth"
)

// Reorder sets the display-order attribute of each key to its index in keys.
// Content is untouched. The update is not atomic: a failure leaves earlier
// keys updated and later ones unchanged, and the call may simply be
// re-issued. Concurrent reorders of one owner are last-writer-wins per key.
func (p *Pipeline) Reorder(ctx context.Context, owner hearth.Owner, keys []string) error {
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			return hearth.Invalid("duplicate key %q in order", k)
		}
		seen[k] = struct{}{}
	}

	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return &hearth.StorageError{Op: "reorder", Key: key, Transient: true, Err: err}
		}
		attrs := map[string]string{hearth.DisplayOrderKey: strconv.Itoa(i)}
		if err := p.store.ReplaceMetadata(ctx, key, attrs); err != nil {
			p.log(ctx).Error("failed to reorder image",
				slog.String("owner", owner.String()),
				slog.String("key", key),
				slog.Int("position", i),
				slog.String("error", err.Error()))
			return storageError("reorder", key, err)
		}
	}

	p.log(ctx).Info("images reordered",
		slog.String("owner", owner.String()),
		slog.Int("count", len(keys)))
	return nil
}

// DisplayOrder reads the display-order attribute of key. ok is false when
// the object is missing or carries no valid attribute.
func (p *Pipeline) DisplayOrder(ctx context.Context, key string) (order int, ok bool, err error) {
	var info *hearth.ObjectInfo
	err = p.retryIdempotent(ctx, func(ctx context.Context) error {
		var err error
		info, err = p.store.Stat(ctx, key)
		return err
	})
	if hearth.IsErrorCode(err, hearth.ENOTFOUND) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageError("stat", key, err)
	}
	v, found := info.Metadata[hearth.DisplayOrderKey]
	if !found {
		return 0, false, nil
	}
	n, convErr := strconv.Atoi(v)
	if convErr != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// Ordered returns keys sorted by their stored display order. Keys without an
// order keep their relative input order after the ordered ones.
func (p *Pipeline) Ordered(ctx context.Context, keys []string) ([]string, error) {
	type entry struct {
		key   string
		order int
		ok    bool
		pos   int
	}
	entries := make([]entry, len(keys))
	for i, k := range keys {
		order, ok, err := p.DisplayOrder(ctx, k)
		if err != nil {
			return nil, err
		}
		entries[i] = entry{key: k, order: order, ok: ok, pos: i}
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		switch {
		case a.ok && !b.ok:
			return -1
		case !a.ok && b.ok:
			return 1
		case a.ok && b.ok && a.order != b.order:
			return a.order - b.order
		}
		return a.pos - b.pos
	})

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.key
	}
	return out, nil
}
