package usecase

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricepulse/backend/internal/domain"
)

const (
	defaultIngestWorkers = 3
	defaultQueueSize     = 64
)

var requiredItemFields = []string{"item_name", "item_link", "item_price", "item_reference"}

// IngestConfig holds the tunables of the submission layer.
type IngestConfig struct {
	// APIKey is the shared secret scrapers must present. When empty, every
	// key is accepted (permissive fallback for local/dev use).
	APIKey string
	// Workers is the fixed size of the reconciliation worker pool.
	Workers int
	// QueueSize bounds the submission queue. Submissions block at enqueue
	// when it is full; callers observe that as elevated latency.
	QueueSize int
}

// IngestService accepts scrape submissions, validates payload shape and API
// key synchronously, and dispatches accepted batches to a fixed-size worker
// pool so request handling never blocks on reconciliation.
type IngestService struct {
	reconciler *Reconciler
	apiKey     string
	queue      chan domain.ScrapeBatch
	wg         sync.WaitGroup
	closeOnce  sync.Once
	logger     *zap.Logger
}

// NewIngestService creates the submission layer and starts its workers.
func NewIngestService(reconciler *Reconciler, config IngestConfig, logger *zap.Logger) *IngestService {
	workers := config.Workers
	if workers <= 0 {
		workers = defaultIngestWorkers
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	s := &IngestService{
		reconciler: reconciler,
		apiKey:     config.APIKey,
		queue:      make(chan domain.ScrapeBatch, queueSize),
		logger:     logger,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Submit validates a decoded JSON payload and, when valid, enqueues the
// batch and returns immediately. Reconciliation failures are observable only
// through logs; the synchronous answer covers validation alone.
func (s *IngestService) Submit(payload map[string]any) domain.RejectReason {
	batch, reason := s.ValidatePayload(payload)
	if reason != domain.RejectNone {
		s.logger.Warn("scrape submission rejected",
			zap.Int("code", int(reason)),
			zap.String("reason", reason.String()))
		return reason
	}

	s.queue <- *batch
	s.logger.Debug("scrape batch enqueued",
		zap.String("store", batch.Store),
		zap.Int("items", len(batch.Items)))
	return domain.RejectNone
}

// ValidatePayload checks payload shape and the API key, returning the parsed
// batch or the reject reason. Shape checks cover exactly the external
// contract: a mapping with store/api_key/prices, every price record carrying
// item_name, item_link, item_price and item_reference. Anything deeper
// (reference normalization, amount parsing) is a per-item concern of the
// engine, not a submission-level one.
func (s *IngestService) ValidatePayload(payload map[string]any) (*domain.ScrapeBatch, domain.RejectReason) {
	if payload == nil {
		return nil, domain.RejectNotAMapping
	}
	for _, key := range []string{"store", "api_key", "prices"} {
		if _, ok := payload[key]; !ok {
			return nil, domain.RejectMissingKey
		}
	}

	apiKey, _ := payload["api_key"].(string)
	if !s.validAPIKey(apiKey) {
		return nil, domain.RejectInvalidAPIKey
	}

	storeName, ok := payload["store"].(string)
	if !ok || storeName == "" {
		return nil, domain.RejectMissingKey
	}

	rawPrices, ok := payload["prices"].([]any)
	if !ok {
		return nil, domain.RejectMissingField
	}

	items := make([]domain.ScrapeItem, 0, len(rawPrices))
	for _, rawItem := range rawPrices {
		record, ok := rawItem.(map[string]any)
		if !ok {
			return nil, domain.RejectMissingField
		}
		for _, field := range requiredItemFields {
			if _, present := record[field]; !present {
				return nil, domain.RejectMissingField
			}
		}
		items = append(items, parseItem(record))
	}

	return &domain.ScrapeBatch{Store: storeName, Items: items}, domain.RejectNone
}

// Close drains the queue and stops the workers.
func (s *IngestService) Close() {
	s.closeOnce.Do(func() { close(s.queue) })
	s.wg.Wait()
}

func (s *IngestService) worker() {
	defer s.wg.Done()
	for batch := range s.queue {
		if _, err := s.reconciler.Reconcile(context.Background(), batch.Store, batch.Items); err != nil {
			s.logger.Error("batch reconciliation failed",
				zap.String("store", batch.Store),
				zap.Int("items", len(batch.Items)),
				zap.Error(err))
		}
	}
}

func (s *IngestService) validAPIKey(key string) bool {
	return s.apiKey == "" || s.apiKey == key
}

// parseItem converts one validated price record into a ScrapeItem. A
// non-numeric item_price becomes NaN so the engine can fail that item in
// isolation; an unparseable fetched_at falls back to ingestion time.
func parseItem(record map[string]any) domain.ScrapeItem {
	item := domain.ScrapeItem{
		Name:   stringField(record["item_name"]),
		Link:   stringField(record["item_link"]),
		Amount: amountField(record["item_price"]),
	}

	// Presence of a non-null item_discount implies a discounted price.
	if discount, present := record["item_discount"]; present && discount != nil {
		item.Discounted = true
	}

	switch ref := record["item_reference"].(type) {
	case string:
		item.Reference = ref
	case float64:
		item.Reference = strconv.FormatInt(int64(ref), 10)
	default:
		item.Reference = fmt.Sprintf("%v", ref)
	}

	if raw, ok := record["fetched_at"].(string); ok {
		if t, err := parseTimestamp(raw); err == nil {
			item.FetchedAt = &t
		}
	}
	return item
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func amountField(v any) float64 {
	switch amount := v.(type) {
	case float64:
		return amount
	case string:
		if parsed, err := strconv.ParseFloat(amount, 64); err == nil {
			return parsed
		}
	}
	return math.NaN()
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
