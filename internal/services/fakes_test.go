package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"bizxpense/internal/aggregator"
	"bizxpense/internal/aggregator/aggregatortest"
	"bizxpense/internal/core"
	"bizxpense/internal/ledger/memory"
)

func newFakeAggregator() *aggregatortest.Fake { return aggregatortest.New() }

var txn = aggregatortest.Txn

// cursorFailStore fails the next cursor write.
type cursorFailStore struct {
	*memory.Store
	failNext bool
}

func (s *cursorFailStore) UpdateItemCursor(ctx context.Context, id, prev, next string, at time.Time) (bool, error) {
	if s.failNext {
		s.failNext = false
		return false, errors.New("disk I/O error")
	}
	return s.Store.UpdateItemCursor(ctx, id, prev, next, at)
}

// occurrenceFailStore fails inserts for one template.
type occurrenceFailStore struct {
	*memory.Store
	failFor string
}

func (s *occurrenceFailStore) CreateRecurringOccurrence(ctx context.Context, e core.Expense) (bool, error) {
	if e.RecurringExpenseID == s.failFor {
		return false, errors.New("constraint violation")
	}
	return s.Store.CreateRecurringOccurrence(ctx, e)
}

// gatedAggregator blocks page fetches until release is closed.
type gatedAggregator struct {
	*aggregatortest.Fake
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newGatedAggregator(fake *aggregatortest.Fake) *gatedAggregator {
	return &gatedAggregator{Fake: fake, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedAggregator) FetchTransactionPage(ctx context.Context, token, cursor string) (aggregator.TransactionPage, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return aggregator.TransactionPage{}, ctx.Err()
	}
	return g.Fake.FetchTransactionPage(ctx, token, cursor)
}

type recordingDispatcher struct {
	mu       sync.Mutex
	err      error
	requests []string
}

func (d *recordingDispatcher) PublishSyncRequest(_ context.Context, externalItemID, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, externalItemID+"|"+reason)
	return d.err
}

func on(y int, m time.Month, day int) core.Date {
	return core.NewDate(y, m, day)
}
