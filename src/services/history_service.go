package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/username/kryptofolio/src/logger"
	"github.com/username/kryptofolio/src/models"
)

// historyService answers range queries from the cache and fetches only what
// the cache does not cover yet. A live fetch failure never discards what the
// cache already had.
type historyService struct {
	client ExchangeClient
	store  RecordStore
	floor  time.Time // earliest feasible history start (exchange founding)
}

func NewHistoryService(client ExchangeClient, store RecordStore, floor time.Time) HistoryService {
	return &historyService{client: client, store: store, floor: floor}
}

func (s *historyService) Trades(ctx context.Context, start, end time.Time) ([]models.RawTransactionRecord, error) {
	return s.records(ctx, models.KindTrade, start, end)
}

func (s *historyService) LedgerEntries(ctx context.Context, start, end time.Time) ([]models.RawTransactionRecord, error) {
	return s.records(ctx, models.KindLedger, start, end)
}

func (s *historyService) records(ctx context.Context, kind models.RecordKind, start, end time.Time) ([]models.RawTransactionRecord, error) {
	cached, err := s.store.LoadRange(kind, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("loading cached %s: %w", kind, err)
	}

	latest, err := s.store.LatestTimestamp(kind)
	if err != nil {
		return nil, fmt.Errorf("reading cache high-water mark for %s: %w", kind, err)
	}
	if latest >= end.Unix() {
		return cached, nil
	}

	fetchStart := start
	if fromCache := time.Unix(latest+1, 0).UTC(); fromCache.After(fetchStart) {
		fetchStart = fromCache
	}

	fetched, err := s.fetch(ctx, kind, fetchStart, end)
	if err != nil {
		// Partial progress: the caller still gets everything the cache had.
		logger.L.Warn("live fetch failed, returning cached records only", "kind", kind, "cached", len(cached), "error", err)
		return cached, fmt.Errorf("fetching %s after %s: %w", kind, fetchStart.Format("2006-01-02"), err)
	}

	if _, err := s.store.Save(kind, fetched); err != nil {
		return nil, fmt.Errorf("caching fetched %s: %w", kind, err)
	}

	return mergeRecords(cached, fetched, start.Unix(), end.Unix()), nil
}

func (s *historyService) fetch(ctx context.Context, kind models.RecordKind, start, end time.Time) ([]models.RawTransactionRecord, error) {
	if kind == models.KindTrade {
		return s.client.GetTrades(ctx, start, end)
	}
	return s.client.GetLedger(ctx, start, end)
}

// ExtendHistory re-fetches both endpoints from the floor up to until. Used
// by the ledger's recovery path when a disposal cannot be matched; the cache
// makes repeated recoveries cheap.
func (s *historyService) ExtendHistory(ctx context.Context, until time.Time) (int, error) {
	total := 0
	for _, kind := range []models.RecordKind{models.KindTrade, models.KindLedger} {
		fetched, err := s.fetch(ctx, kind, s.floor, until)
		if err != nil {
			return total, fmt.Errorf("extending %s history: %w", kind, err)
		}
		result, err := s.store.Save(kind, fetched)
		if err != nil {
			return total, fmt.Errorf("caching extended %s history: %w", kind, err)
		}
		total += result.Inserted
	}
	logger.L.Info("history extended", "until", until.Format("2006-01-02"), "newRecords", total)
	return total, nil
}

// mergeRecords deduplicates by reference id, preferring the freshly fetched
// copy, restricted to [start, end], sorted by timestamp then refid.
func mergeRecords(cached, fetched []models.RawTransactionRecord, start, end int64) []models.RawTransactionRecord {
	byRef := make(map[string]models.RawTransactionRecord, len(cached)+len(fetched))
	for _, rec := range cached {
		byRef[rec.RefID] = rec
	}
	for _, rec := range fetched {
		byRef[rec.RefID] = rec
	}

	merged := make([]models.RawTransactionRecord, 0, len(byRef))
	for _, rec := range byRef {
		if rec.Timestamp >= start && rec.Timestamp <= end {
			merged = append(merged, rec)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].RefID < merged[j].RefID
	})
	return merged
}
