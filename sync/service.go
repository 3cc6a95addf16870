// Package sync runs the batch publication of RIS orders to the configured
// PACS backends. Each invocation processes one bounded selection and
// terminates; there is no long-lived loop.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/zorgnet/mwlsync/models/ris"
	"github.com/zorgnet/mwlsync/pacs"
	"github.com/zorgnet/mwlsync/store"
	"github.com/zorgnet/mwlsync/worklist"
)

// Terminal states of the per-order state machine. Planned only occurs in
// dry runs, where mapping happens but no publish call is made.
const (
	StatePublished = "Published"
	StateSkipped   = "Skipped"
	StateFailed    = "Failed"
	StatePlanned   = "Planned"
)

// DefaultStatuses is the selection allow-set when the caller passes none:
// orders still awaiting or scheduled for imaging.
var DefaultStatuses = []string{ris.StatusInRequest, ris.StatusScheduled}

// Config holds all the dependencies needed to create a new sync service.
type Config struct {
	Store      store.OrderStore
	Publishers []pacs.Publisher

	// Primary names the backend whose outcome decides overall order success
	// when more than one publisher is configured.
	Primary string

	Log zerolog.Logger

	// Concurrency bounds the number of orders processed in parallel.
	// Defaults to 1 (sequential).
	Concurrency int

	// RetryAttempts is the number of extra publish attempts after a
	// connection error. Auth and validation errors are never retried.
	RetryAttempts int
	RetryBackoff  time.Duration

	// Now supplies the clock for the opt-in default-schedule fallback.
	Now func() time.Time
}

// Options controls a single run.
type Options struct {
	Filter store.Filter

	// DryRun maps every candidate order and emits the would-be worklist item
	// without any publish call or write-back.
	DryRun bool

	// Force re-publishes orders whose study id is already set.
	Force bool

	// AllowDefaultSchedule opts into the mapper's default-to-now fallback for
	// orders without a confirmed schedule.
	AllowDefaultSchedule bool
}

// Service is the sync orchestrator.
type Service struct {
	cfg Config
	log zerolog.Logger
}

// NewService creates a sync service with all required dependencies.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(cfg.Publishers) == 0 {
		return nil, fmt.Errorf("at least one publisher is required")
	}
	if cfg.Primary == "" {
		cfg.Primary = cfg.Publishers[0].Name()
	}
	found := false
	for _, p := range cfg.Publishers {
		if p.Name() == cfg.Primary {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("primary backend %q is not among the configured publishers", cfg.Primary)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{cfg: cfg, log: cfg.Log}, nil
}

// Run executes one sync pass and returns the ordered report. The returned
// error is only non-nil on fatal setup failures (selection itself failed);
// per-order failures live in the report.
func (s *Service) Run(ctx context.Context, opts Options) (*Report, error) {
	if len(opts.Filter.Statuses) == 0 {
		opts.Filter.Statuses = DefaultStatuses
	}
	for _, status := range opts.Filter.Statuses {
		if !slices.Contains(ris.KnownStatuses, status) {
			return nil, fmt.Errorf("unknown order status %q in filter", status)
		}
	}

	orders, err := s.cfg.Store.SelectOrders(ctx, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to select orders: %w", err)
	}

	s.log.Info().
		Int("candidates", len(orders)).
		Bool("dryRun", opts.DryRun).
		Msg("Starting sync run")

	results := make([]OrderResult, len(orders))
	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, order := range orders {
		// Cancellation stops scheduling new orders; publishes already in
		// flight run to completion below so no backend is left in an
		// ambiguous state.
		if ctx.Err() != nil {
			results[i] = OrderResult{
				OrderID:         order.ID,
				AccessionNumber: order.AccessionNumber,
				State:           StateSkipped,
				Reason:          "run cancelled before processing",
			}
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int, order ris.Order) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.processOrder(context.WithoutCancel(ctx), order, opts)
		}(i, order)
	}
	wg.Wait()

	report := NewReport(results, opts.DryRun)
	s.log.Info().
		Int("published", report.Published).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("planned", report.Planned).
		Msg("Sync run finished")
	return report, nil
}

// processOrder walks one order through guard, map, publish and write-back.
// Every failure is converted into the result; nothing here may abort the batch.
func (s *Service) processOrder(ctx context.Context, order ris.Order, opts Options) OrderResult {
	result := OrderResult{
		OrderID:         order.ID,
		AccessionNumber: order.AccessionNumber,
	}
	log := s.log.With().Int64("orderId", order.ID).Str("accessionNumber", order.AccessionNumber).Logger()

	// Guard: already synced orders are skipped unless forced.
	if order.StudyID != nil && *order.StudyID != "" && !opts.Force {
		log.Debug().Str("studyId", *order.StudyID).Msg("Order already has a study id, skipping")
		result.State = StateSkipped
		result.Reason = "study id already set"
		return result
	}

	bundle, err := s.cfg.Store.GetOrderBundle(ctx, order.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load order bundle")
		result.State = StateFailed
		result.Reason = err.Error()
		return result
	}

	item, err := worklist.BuildItem(*bundle, worklist.BuildOptions{
		AllowDefaultSchedule: opts.AllowDefaultSchedule,
		Now:                  s.cfg.Now,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to map order to worklist item")
		result.State = StateFailed
		result.Reason = err.Error()
		return result
	}

	if opts.DryRun {
		result.State = StatePlanned
		result.Item = &item
		return result
	}

	primaryOK := false
	externalStudyID := ""
	for _, pub := range s.cfg.Publishers {
		pubResult := s.publishWithRetry(ctx, pub, item)
		result.Backends = append(result.Backends, pubResult)
		if pub.Name() == s.cfg.Primary && pubResult.Success {
			primaryOK = true
			externalStudyID = pubResult.ExternalStudyID
		}
	}

	if !primaryOK {
		result.State = StateFailed
		result.Reason = fmt.Sprintf("primary backend %s did not succeed", s.cfg.Primary)
		return result
	}

	result.State = StatePublished
	result.ExternalStudyID = externalStudyID

	if externalStudyID != "" {
		if err := s.writeBack(ctx, order.ID, externalStudyID, opts.Force); err != nil {
			// The item is live on the backend; the next run's guard re-read
			// decides whether another write is needed.
			log.Error().Err(err).Msg("Failed to write back study id")
			result.Reason = fmt.Sprintf("published, but write-back failed: %v", err)
		}
	}
	return result
}

// publishWithRetry calls the publisher, retrying only transient connection
// failures with a fixed backoff.
func (s *Service) publishWithRetry(ctx context.Context, pub pacs.Publisher, item worklist.Item) pacs.PublishResult {
	var (
		result pacs.PublishResult
		err    error
	)
loop:
	for attempt := 0; ; attempt++ {
		result, err = pub.Publish(ctx, item)
		if err == nil {
			return result
		}
		if !pacs.Retryable(err) || attempt >= s.cfg.RetryAttempts {
			break
		}
		s.log.Warn().
			Err(err).
			Str("backend", pub.Name()).
			Str("accessionNumber", item.AccessionNumber).
			Int("attempt", attempt+1).
			Msg("Publish failed with a transient error, retrying")
		select {
		case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt+1)):
		case <-ctx.Done():
			break loop
		}
	}

	result.AccessionNumber = item.AccessionNumber
	result.Backend = pub.Name()
	result.Success = false
	result.ErrorMessage = err.Error()
	return result
}

// writeBack persists the external study id, re-reading the current value
// immediately before the write. Last writer wins; transactional locking across
// the external store is out of scope.
func (s *Service) writeBack(ctx context.Context, orderID int64, studyID string, force bool) error {
	current, err := s.cfg.Store.GetStudyID(ctx, orderID)
	if err != nil {
		return err
	}
	if current != nil && *current != "" && !force {
		s.log.Debug().
			Int64("orderId", orderID).
			Str("studyId", *current).
			Msg("Study id already written by a concurrent run, leaving it")
		return nil
	}
	return s.cfg.Store.SetStudyID(ctx, orderID, studyID)
}
