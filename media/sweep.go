package media

import (
	"context"
	"io"
	"log/slog"
	"slices"

	"github.com/dukerupert/hearth"
)

// IncompleteSet is an original missing some of its renditions.
type IncompleteSet struct {
	Key     string   `json:"key"`
	Missing []string `json:"missing"`
}

// SweepReport summarizes one sweep of a prefix.
type SweepReport struct {
	Prefix     string          `json:"prefix"`
	Originals  int             `json:"originals"`
	Incomplete []IncompleteSet `json:"incomplete"`
	Repaired   int             `json:"repaired"`
}

// Sweep finds originals under prefix whose rendition set for kind is
// incomplete, the residue of tolerated rendition failures. With repair set,
// missing renditions are re-derived from the original.
func (p *Pipeline) Sweep(ctx context.Context, kind hearth.OwnerKind, prefix string, repair bool) (*SweepReport, error) {
	policy, err := p.Policy(kind)
	if err != nil {
		return nil, err
	}

	var keys []string
	err = p.retryIdempotent(ctx, func(ctx context.Context) error {
		var err error
		keys, err = p.store.List(ctx, prefix)
		return err
	})
	if err != nil {
		return nil, storageError("list", prefix, err)
	}

	present := make(map[string]map[string]bool)
	var originals []string
	for _, k := range keys {
		if orig, name, ok := ParseRendition(k, policy.Renditions); ok {
			if present[orig] == nil {
				present[orig] = make(map[string]bool)
			}
			present[orig][name] = true
			continue
		}
		originals = append(originals, k)
	}
	slices.Sort(originals)

	report := &SweepReport{Prefix: prefix, Originals: len(originals)}
	for _, orig := range originals {
		var missing []hearth.Rendition
		for _, r := range policy.Renditions {
			if !present[orig][r.Name] {
				missing = append(missing, r)
			}
		}
		if len(missing) == 0 {
			continue
		}

		set := IncompleteSet{Key: orig}
		for _, r := range missing {
			set.Missing = append(set.Missing, r.Name)
		}
		report.Incomplete = append(report.Incomplete, set)
		p.report(ctx, Event{Type: EventIncompleteRenditions, Op: "sweep", Key: orig})

		if repair {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if p.repair(ctx, orig, missing) {
				report.Repaired++
			}
		}
	}

	p.log(ctx).Info("sweep finished",
		slog.String("prefix", prefix),
		slog.Int("originals", report.Originals),
		slog.Int("incomplete", len(report.Incomplete)),
		slog.Int("repaired", report.Repaired))

	return report, nil
}

// repair re-derives the missing renditions of one original and reports
// whether all of them were written.
func (p *Pipeline) repair(ctx context.Context, key string, missing []hearth.Rendition) bool {
	rc, err := p.store.Get(ctx, key)
	if err != nil {
		p.report(ctx, Event{Type: EventRenditionFailed, Op: "get", Key: key, Err: err})
		return false
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		p.report(ctx, Event{Type: EventRenditionFailed, Op: "get", Key: key, Err: err})
		return false
	}

	vis := hearth.Public
	if isStagingKey(key) {
		vis = hearth.Private
	}

	var written committed
	p.deriveAndStore(ctx, key, data, missing, vis, &written)
	return len(written.snapshot()) == len(missing)
}
