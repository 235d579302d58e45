package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/mailqueue/internal/domain"
	"github.com/kursadbilgin/mailqueue/internal/events"
	"github.com/kursadbilgin/mailqueue/internal/provider"
	"github.com/kursadbilgin/mailqueue/internal/repository"
)

// memoryEmailRepo mirrors the conditional updates of the gorm repository.
type memoryEmailRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.QueuedEmail

	createErr   error
	getErr      error
	listDueErr  error
	claimErr    error
	requeueErr  error
	countErr    error
	listDueCall int

	// honorCtx makes the Mark* updates fail on a done context, as a real
	// database driver does.
	honorCtx bool
}

var _ repository.EmailRepository = (*memoryEmailRepo)(nil)

func newMemoryEmailRepo() *memoryEmailRepo {
	return &memoryEmailRepo{rows: make(map[int64]domain.QueuedEmail)}
}

func (r *memoryEmailRepo) seed(e domain.QueuedEmail) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	e.ID = r.nextID
	if e.Status == "" {
		e.Status = domain.StatusPending
	}
	r.rows[e.ID] = e
	return e.ID
}

func (r *memoryEmailRepo) get(id int64) domain.QueuedEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

func (r *memoryEmailRepo) Create(ctx context.Context, e *domain.QueuedEmail) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	e.ID = r.nextID
	r.rows[e.ID] = *e
	return nil
}

func (r *memoryEmailRepo) GetByID(ctx context.Context, id int64) (*domain.QueuedEmail, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &row, nil
}

func (r *memoryEmailRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.QueuedEmail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listDueCall++
	if r.listDueErr != nil {
		return nil, r.listDueErr
	}

	due := make([]domain.QueuedEmail, 0)
	for _, row := range r.rows {
		if row.IsDue(now) {
			due = append(due, row)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *memoryEmailRepo) Claim(ctx context.Context, id int64, expectedAttempts int, now time.Time) (bool, error) {
	if r.claimErr != nil {
		return false, r.claimErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || !row.IsDue(now) || row.Attempts != expectedAttempts {
		return false, nil
	}
	row.Status = domain.StatusSending
	row.Attempts++
	row.UpdatedAt = now
	r.rows[id] = row
	return true, nil
}

func (r *memoryEmailRepo) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	if err := r.ctxErr(ctx); err != nil {
		return err
	}
	return r.update(id, func(row *domain.QueuedEmail) bool {
		if row.Status != domain.StatusSending {
			return false
		}
		row.Status = domain.StatusSent
		row.SentAt = &sentAt
		row.LastError = nil
		row.UpdatedAt = sentAt
		return true
	})
}

func (r *memoryEmailRepo) MarkRetry(ctx context.Context, id int64, lastErr string, nextAt time.Time, now time.Time) error {
	if err := r.ctxErr(ctx); err != nil {
		return err
	}
	return r.update(id, func(row *domain.QueuedEmail) bool {
		if row.Status != domain.StatusSending {
			return false
		}
		row.Status = domain.StatusPendingRetry
		row.LastError = &lastErr
		row.ScheduledFor = nextAt
		row.UpdatedAt = now
		return true
	})
}

func (r *memoryEmailRepo) MarkFailed(ctx context.Context, id int64, lastErr string, now time.Time) error {
	if err := r.ctxErr(ctx); err != nil {
		return err
	}
	return r.update(id, func(row *domain.QueuedEmail) bool {
		if row.Status.IsTerminal() {
			return false
		}
		row.Status = domain.StatusFailed
		row.LastError = &lastErr
		row.UpdatedAt = now
		return true
	})
}

func (r *memoryEmailRepo) ctxErr(ctx context.Context) error {
	if !r.honorCtx {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *memoryEmailRepo) update(id int64, apply func(row *domain.QueuedEmail) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !apply(&row) {
		return domain.ErrConflict
	}
	r.rows[id] = row
	return nil
}

func (r *memoryEmailRepo) RequeueStale(ctx context.Context, staleBefore time.Time, now time.Time) (int64, error) {
	if r.requeueErr != nil {
		return 0, r.requeueErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, row := range r.rows {
		if row.Status == domain.StatusSending && row.UpdatedAt.Before(staleBefore) {
			msg := repository.StaleSendingError
			row.Status = domain.StatusPendingRetry
			row.LastError = &msg
			row.ScheduledFor = now
			row.UpdatedAt = now
			r.rows[id] = row
			n++
		}
	}
	return n, nil
}

func (r *memoryEmailRepo) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	if r.countErr != nil {
		return nil, r.countErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[domain.Status]int64)
	for _, row := range r.rows {
		counts[row.Status]++
	}
	return counts, nil
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	created  []domain.DeliveryAttempt
	createFn func(ctx context.Context, a *domain.DeliveryAttempt) error
	listFn   func(ctx context.Context, emailID int64) ([]domain.DeliveryAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, a); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *a)
	return nil
}

func (f *fakeAttemptRepo) ListByEmailID(ctx context.Context, emailID int64) ([]domain.DeliveryAttempt, error) {
	if f.listFn != nil {
		return f.listFn(ctx, emailID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.DeliveryAttempt, 0)
	for _, a := range f.created {
		if a.EmailID == emailID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) all() []domain.DeliveryAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.DeliveryAttempt(nil), f.created...)
}

type fakeTransport struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, msg provider.Message) error
	sent   []provider.Message
	calls  atomic.Int64
}

func (f *fakeTransport) Name() string { return "smtp.test" }

func (f *fakeTransport) Send(ctx context.Context, msg provider.Message) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return nil
}

func (f *fakeTransport) sendsTo(recipient string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, msg := range f.sent {
		for _, to := range msg.To {
			if to == recipient {
				n++
			}
		}
	}
	return n
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeCycleRunner struct {
	calls atomic.Int64
	onRun func(n int64)
}

func (f *fakeCycleRunner) ProcessQueue(ctx context.Context) CycleReport {
	n := f.calls.Add(1)
	if f.onRun != nil {
		f.onRun(n)
	}
	return CycleReport{}
}

// testClock is a settable clock shared by a test and the code under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeEventPublisher struct {
	mu        sync.Mutex
	published []events.DeliveryEvent
	publishFn func(ctx context.Context, event events.DeliveryEvent) error
}

func (f *fakeEventPublisher) Publish(ctx context.Context, event events.DeliveryEvent) error {
	f.mu.Lock()
	f.published = append(f.published, event)
	f.mu.Unlock()

	if f.publishFn != nil {
		return f.publishFn(ctx, event)
	}
	return nil
}

func (f *fakeEventPublisher) Close() error { return nil }

func (f *fakeEventPublisher) outcomes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.published))
	for _, e := range f.published {
		out = append(out, e.Outcome)
	}
	return out
}
