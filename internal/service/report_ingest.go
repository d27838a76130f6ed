package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clawback/internal/ledger"
	"clawback/internal/models"
	"clawback/internal/repository"
)

// ReportIngestService feeds one source report batch through the dedup engine
// and records the ingest watermark. One call is one batch for one merchant and
// one source report; batches for different merchants are independent.
type ReportIngestService struct {
	Repo         repository.Repository
	Engine       *ledger.Engine
	Logger       *zap.Logger
	MaxBatchRows int
}

type IngestRequest struct {
	MerchantID   string
	SourceType   string
	SourceReport string
	Rows         []ledger.RawSourceEvent
}

type IngestResult struct {
	Accepted   int               `json:"accepted"`
	Unique     int               `json:"unique"`
	Duplicates int               `json:"duplicates"`
	Merged     int               `json:"merged"`
	Stored     int               `json:"stored"`
	Skipped    int               `json:"skipped"`
	Degraded   bool              `json:"degraded"`
	RowErrors  []ledger.RowError `json:"row_errors,omitempty"`
}

func (s *ReportIngestService) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if max := s.MaxBatchRows; max > 0 && len(req.Rows) > max {
		return IngestResult{}, fmt.Errorf("batch of %d rows exceeds limit %d", len(req.Rows), max)
	}

	res, err := s.Engine.Dedupe(ctx, req.MerchantID, req.Rows, req.SourceType, req.SourceReport)
	if err != nil {
		s.recordSync(ctx, req, nil, err)
		return IngestResult{}, err
	}
	stored, err := s.Engine.Store(ctx, res)
	if err != nil {
		s.recordSync(ctx, req, nil, err)
		return IngestResult{}, err
	}

	out := IngestResult{
		Accepted:   len(req.Rows),
		Unique:     res.UniqueCount,
		Duplicates: res.DuplicateCount,
		Merged:     res.MergedCount,
		Stored:     stored,
		Skipped:    len(res.RowErrors),
		Degraded:   res.Degraded,
		RowErrors:  res.RowErrors,
	}
	s.recordSync(ctx, req, &out, nil)

	s.Logger.Info("report batch ingested",
		zap.String("merchant_id", req.MerchantID),
		zap.String("source_type", req.SourceType),
		zap.String("source_report", req.SourceReport),
		zap.Int("accepted", out.Accepted),
		zap.Int("unique", out.Unique),
		zap.Int("duplicates", out.Duplicates),
		zap.Int("merged", out.Merged),
		zap.Int("skipped", out.Skipped),
		zap.Bool("degraded", out.Degraded))
	return out, nil
}

// recordSync updates the per-(merchant, source type) watermark. Failures here
// are logged, not surfaced: the ledger write already succeeded or failed on
// its own terms.
func (s *ReportIngestService) recordSync(ctx context.Context, req IngestRequest, result *IngestResult, cause error) {
	scope := fmt.Sprintf("ingest:%s:%s", req.MerchantID, req.SourceType)
	now := time.Now().UTC()

	state, err := s.Repo.GetSyncState(ctx, scope)
	if err != nil || state == nil {
		state = &models.SyncState{Scope: scope}
	}
	state.LastAttemptAt = &now
	if cause != nil {
		msg := cause.Error()
		state.LastError = &msg
	} else {
		state.LastError = nil
		state.LastSuccessAt = &now
		if result != nil {
			stats, _ := json.Marshal(result)
			state.StatsJSON = stats
		}
	}
	if err := s.Repo.SaveSyncState(ctx, state); err != nil {
		s.Logger.Warn("failed to save sync state", zap.String("scope", scope), zap.Error(err))
	}
}
