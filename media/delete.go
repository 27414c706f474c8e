package media

import (
	"context"
	"log/slog"

	"github.com/dukerupert/hearth"
)

// Delete removes originals of the given owner kind together with every
// rendition derivable from them, in a single batch delete. Absent keys are
// not an error, so Delete is idempotent.
func (p *Pipeline) Delete(ctx context.Context, kind hearth.OwnerKind, keys []string) error {
	policy, err := p.Policy(kind)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	all := WithRenditions(keys, policy.Renditions)
	if err := p.deleteKeys(ctx, all); err != nil {
		return storageError("delete", "", err)
	}

	p.log(ctx).Info("images deleted",
		slog.String("kind", string(kind)),
		slog.Int("originals", len(keys)),
		slog.Int("objects", len(all)))
	return nil
}
