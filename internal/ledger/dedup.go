package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"clawback/internal/models"
	"clawback/internal/repository"
)

// Engine collapses raw source events into unified ledger events. The
// fingerprint map is scoped to one Dedupe invocation; independent batches
// (different merchants) may run in parallel, one batch must not.
type Engine struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// RowError records one raw row that failed normalization. The row is skipped;
// it never aborts the batch.
type RowError struct {
	RawID string `json:"raw_id"`
	Error string `json:"error"`
}

// Result is the outcome of deduplicating one batch. Unique events are new to
// the ledger; duplicates were already persisted by an earlier sync run;
// merged counts raw rows collapsed into an in-batch sibling.
type Result struct {
	UniqueCount    int
	DuplicateCount int
	MergedCount    int

	// Events holds every batch event; duplicates carry IsDeduplicated and
	// stay out of the insert set.
	Events []models.LedgerEvent

	// MergeUpdates are persisted events whose merge metadata grew because
	// this batch contributed raw IDs they had not seen. Canonical amount and
	// date come from the persisted row, never from this batch.
	MergeUpdates []models.LedgerEvent

	RowErrors []RowError

	// Degraded is set when the persisted-ledger cross-check was unavailable
	// and every event was treated as new.
	Degraded bool
}

// Dedupe is pure computation: no writes. Persistence is a separate step
// (Store) so callers control transaction boundaries.
func (e *Engine) Dedupe(ctx context.Context, merchantID string, raws []RawSourceEvent, sourceType, sourceReport string) (Result, error) {
	var res Result
	if len(raws) == 0 {
		return res, nil
	}

	byFingerprint := map[string]int{}
	events := make([]models.LedgerEvent, 0, len(raws))

	for _, raw := range raws {
		ev, err := Normalize(raw, sourceType, merchantID, sourceReport)
		if err != nil {
			res.RowErrors = append(res.RowErrors, RowError{RawID: raw.ID, Error: err.Error()})
			continue
		}
		fp := Fingerprint(ev)
		idx, seen := byFingerprint[fp]
		if !seen {
			byFingerprint[fp] = len(events)
			events = append(events, ev)
			continue
		}
		// Same fingerprint within the batch: the first occurrence owns the
		// canonical amount/date; later rows only contribute merge metadata.
		appendMerge(&events[idx], rawIDOrUnknown(raw), sourceReport, "in-batch")
		res.MergedCount++
	}

	// Cross-run check against the persisted ledger by event_id. A failure
	// here must not crash the batch: proceed treating everything as new and
	// surface the degraded mode to the caller.
	known := map[string]models.LedgerEvent{}
	if e.Repo != nil {
		ids := make([]string, 0, len(events))
		for i := range events {
			ids = append(ids, events[i].EventID)
		}
		found, err := e.Repo.ListLedgerEventsByIDs(ctx, merchantID, ids)
		if err != nil {
			res.Degraded = true
			if e.Logger != nil {
				e.Logger.Warn("ledger cross-check unavailable, treating batch as new",
					zap.String("merchant_id", merchantID),
					zap.String("source_report", sourceReport),
					zap.Error(err))
			}
		} else {
			for _, ev := range found {
				known[ev.EventID] = ev
			}
		}
	}

	for i := range events {
		persisted, dup := known[events[i].EventID]
		if !dup {
			res.UniqueCount++
			continue
		}
		events[i].IsDeduplicated = true
		res.DuplicateCount++
		if update, changed := mergeExisting(persisted, events[i], sourceReport); changed {
			res.MergeUpdates = append(res.MergeUpdates, update)
		}
	}
	res.Events = events
	return res, nil
}

// Store upserts the new events and the cross-run merge updates of a dedupe
// result. The upsert is keyed by event_id, so re-storing the same logical
// batch converges: a raw ID already recorded never grows merge_count again.
func (e *Engine) Store(ctx context.Context, res Result) (int, error) {
	if e == nil || e.Repo == nil {
		return 0, nil
	}
	upsert := make([]models.LedgerEvent, 0, len(res.Events)+len(res.MergeUpdates))
	for _, ev := range res.Events {
		if ev.IsDeduplicated {
			continue
		}
		upsert = append(upsert, ev)
	}
	upsert = append(upsert, res.MergeUpdates...)
	if len(upsert) == 0 {
		return 0, nil
	}
	if err := e.Repo.UpsertLedgerEvents(ctx, upsert); err != nil {
		return 0, fmt.Errorf("store unified events: %w", err)
	}
	return len(upsert), nil
}

// mergeExisting folds a batch duplicate into its persisted counterpart.
// Returns changed=false when every raw ID of the incoming event is already
// recorded, which keeps repeated storage of the same batch a no-op.
func mergeExisting(persisted, incoming models.LedgerEvent, sourceReport string) (models.LedgerEvent, bool) {
	var have, add []string
	_ = json.Unmarshal(persisted.SourceEventIDs, &have)
	_ = json.Unmarshal(incoming.SourceEventIDs, &add)

	seen := make(map[string]struct{}, len(have))
	for _, id := range have {
		seen[id] = struct{}{}
	}
	changed := false
	for _, id := range add {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		appendMerge(&persisted, id, sourceReport, "cross-run")
		changed = true
	}
	return persisted, changed
}

func appendMerge(target *models.LedgerEvent, rawID, sourceReport, kind string) {
	var ids []string
	_ = json.Unmarshal(target.SourceEventIDs, &ids)
	ids = append(ids, rawID)
	idsRaw, _ := json.Marshal(ids)
	target.SourceEventIDs = datatypes.JSON(idsRaw)

	target.MergeCount++

	var notes []string
	if len(target.ReconciliationNotes) > 0 {
		_ = json.Unmarshal(target.ReconciliationNotes, &notes)
	}
	notes = append(notes, fmt.Sprintf("%s merge: raw %s from %s at %s",
		kind, rawID, sourceReport, time.Now().UTC().Format(time.RFC3339)))
	notesRaw, _ := json.Marshal(notes)
	target.ReconciliationNotes = datatypes.JSON(notesRaw)
}

func rawIDOrUnknown(raw RawSourceEvent) string {
	if raw.ID == "" {
		return "unknown"
	}
	return raw.ID
}
