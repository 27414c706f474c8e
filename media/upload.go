package media

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukerupert/hearth"
	"golang.org/x/sync/errgroup"
)

// Upload validates a batch, writes each original in input order and derives
// the owner kind's renditions for it. It returns the committed original keys
// in input order.
//
// Originals are written one at a time; renditions of an original are derived
// in the background while the next original is written. The first failed
// original write (or cancellation of ctx) stops the batch: every key written
// so far, renditions included, is deleted and a StorageError is returned.
// Rendition failures never fail the batch.
//
// For StageStaging, owner.ID is the request token and owner.Kind selects the
// policy of the owner the assets will be promoted to.
func (p *Pipeline) Upload(ctx context.Context, owner hearth.Owner, stage hearth.Stage, uploads []hearth.Upload) ([]string, error) {
	policy, err := p.Policy(owner.Kind)
	if err != nil {
		return nil, err
	}
	if owner.ID == "" {
		return nil, hearth.Invalid("owner id is required")
	}
	if err := Validate(policy, uploads); err != nil {
		return nil, err
	}

	vis := hearth.Public
	if stage == hearth.StageStaging {
		vis = hearth.Private
	}

	var (
		written committed
		g       errgroup.Group
		keys    = make([]string, 0, len(uploads))
	)
	g.SetLimit(p.concurrency)

	fail := func(err error) ([]string, error) {
		// Rendition writers still running must land in written before we
		// compensate, otherwise their objects would be orphaned.
		_ = g.Wait()
		p.compensate(ctx, written.snapshot())
		return nil, err
	}

	for i, u := range uploads {
		if err := ctx.Err(); err != nil {
			return fail(&hearth.StorageError{Op: "upload", Transient: true, Err: err})
		}

		ext := Ext(u.Filename)
		var key string
		if stage == hearth.StageStaging {
			key = StagingKey(owner.ID, p.newID(), ext)
		} else {
			key = PermanentKey(owner.Kind, owner.ID, p.newID(), ext)
		}

		// Display order starts as the position in the batch; Copy carries
		// it through promotion.
		attrs := map[string]string{hearth.DisplayOrderKey: strconv.Itoa(i)}
		if err := p.store.Put(ctx, key, u.Data, ContentType(ext), vis, attrs); err != nil {
			p.log(ctx).Error("failed to upload image",
				slog.String("owner", owner.String()),
				slog.String("key", key),
				slog.Int("index", i),
				slog.String("error", err.Error()))
			return fail(storageError("put", key, err))
		}
		written.add(key)
		keys = append(keys, key)

		if len(policy.Renditions) > 0 {
			data := u.Data
			g.Go(func() error {
				p.deriveAndStore(ctx, key, data, policy.Renditions, vis, &written)
				return nil
			})
		}
	}
	_ = g.Wait()

	p.log(ctx).Info("images uploaded",
		slog.String("owner", owner.String()),
		slog.String("stage", string(stage)),
		slog.Int("count", len(keys)))

	return keys, nil
}

// deriveAndStore writes every rendition of the original at key. Failures
// are reported, never returned.
func (p *Pipeline) deriveAndStore(ctx context.Context, key string, data []byte, set []hearth.Rendition, vis hearth.Visibility, written *committed) {
	img, err := Decode(data)
	if err != nil {
		for _, r := range set {
			p.report(ctx, Event{Type: EventRenditionFailed, Op: "derive", Key: RenditionKey(key, r.Name), Err: err})
		}
		return
	}

	for _, r := range set {
		rkey := RenditionKey(key, r.Name)
		out, err := p.deriver.Render(img, r)
		if err != nil {
			p.report(ctx, Event{Type: EventRenditionFailed, Op: "derive", Key: rkey, Err: err})
			continue
		}
		if err := p.store.Put(ctx, rkey, out, RenditionContentType, vis, nil); err != nil {
			p.report(ctx, Event{Type: EventRenditionFailed, Op: "put", Key: rkey, Err: err})
			continue
		}
		written.add(rkey)
	}
}

// compensate deletes keys written by a failed batch. It is best-effort: a
// failure is reported per key and otherwise ignored.
func (p *Pipeline) compensate(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	cctx, cancel := cleanupContext(ctx)
	defer cancel()

	if err := p.deleteKeys(cctx, keys); err != nil {
		for _, k := range keys {
			p.report(ctx, Event{Type: EventCleanupFailed, Op: "delete", Key: k, Err: err})
		}
		return
	}
	p.log(ctx).Info("rolled back partial upload", slog.Int("keys", len(keys)))
}
