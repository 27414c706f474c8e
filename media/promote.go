package media

import (
	"context"
	"log/slog"
	"path"

	"github.com/dukerupert/hearth"
)

// Promote copies staged originals and their renditions to permanent keys of
// owner, then removes the staged copies of every promoted item in one batch
// delete.
//
// Keys outside the staging area are rejected per item and left untouched. A
// failed original copy leaves that item unpromoted and its staged objects in
// place, so the caller can retry just the failures. Already promoted
// items are never rolled back. Rendition copy failures are tolerated.
func (p *Pipeline) Promote(ctx context.Context, stagingKeys []string, owner hearth.Owner) ([]hearth.PromotionResult, error) {
	policy, err := p.Policy(owner.Kind)
	if err != nil {
		return nil, err
	}
	if owner.ID == "" {
		return nil, hearth.Invalid("owner id is required")
	}

	results := make([]hearth.PromotionResult, len(stagingKeys))
	var staged []string

	for i, src := range stagingKeys {
		results[i].StagingKey = src

		if !isStagingKey(src) {
			results[i].Err = hearth.Invalid("%s is not a staged image", src)
			continue
		}
		if err := ctx.Err(); err != nil {
			results[i].Err = &hearth.StorageError{Op: "copy", Key: src, Transient: true, Err: err}
			continue
		}

		dst := PermanentKey(owner.Kind, owner.ID, p.newID(), path.Ext(src))
		if err := p.store.Copy(ctx, src, dst, hearth.Public); err != nil {
			p.log(ctx).Error("failed to promote image",
				slog.String("key", src),
				slog.String("owner", owner.String()),
				slog.String("error", err.Error()))
			results[i].Err = storageError("copy", src, err)
			continue
		}
		results[i].PermanentKey = dst

		for _, r := range policy.Renditions {
			rsrc, rdst := RenditionKey(src, r.Name), RenditionKey(dst, r.Name)
			if err := p.store.Copy(ctx, rsrc, rdst, hearth.Public); err != nil {
				p.report(ctx, Event{Type: EventRenditionCopyFailed, Op: "copy", Key: rsrc, Err: err})
			}
		}
		staged = append(staged, src)
	}

	if len(staged) > 0 {
		doomed := WithRenditions(staged, policy.Renditions)
		cctx, cancel := cleanupContext(ctx)
		if err := p.deleteKeys(cctx, doomed); err != nil {
			for _, k := range doomed {
				p.report(ctx, Event{Type: EventStagingCleanupFailed, Op: "delete", Key: k, Err: err})
			}
		}
		cancel()
	}

	p.log(ctx).Info("images promoted",
		slog.String("owner", owner.String()),
		slog.Int("requested", len(stagingKeys)),
		slog.Int("promoted", len(staged)))

	return results, nil
}
