package prospects

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.
type MemoryRepo struct {
	mu          sync.Mutex
	prospects   map[int64]Prospect
	events      []StatusChangeEvent
	assignments map[int64]LeadAssignment
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		prospects:   map[int64]Prospect{},
		assignments: map[int64]LeadAssignment{},
	}
}

// Add seeds a prospect. A zero status defaults to new.
func (r *MemoryRepo) Add(p Prospect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Status == "" {
		p.Status = StatusNew
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
		p.UpdatedAt = p.CreatedAt
	}
	r.prospects[p.ID] = p
}

func (r *MemoryRepo) GetProspect(ctx context.Context, id int64) (Prospect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prospects[id]
	if !ok {
		return Prospect{}, errNotFound()
	}
	return p, nil
}

func (r *MemoryRepo) ListStatusEvents(ctx context.Context, prospectID int64) ([]StatusChangeEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StatusChangeEvent, 0)
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].ProspectID == prospectID {
			out = append(out, r.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) GetAssignment(ctx context.Context, prospectID int64) (LeadAssignment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[prospectID]
	return a, ok, nil
}

func (r *MemoryRepo) UpsertAssignment(ctx context.Context, a LeadAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[a.ProspectID] = a
	return nil
}

func (r *MemoryRepo) CountStatusChanges(ctx context.Context, status Status, from, to time.Time, changedBy int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.NewStatus != status || e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		if changedBy != 0 && e.ChangedBy != changedBy {
			continue
		}
		n++
	}
	return n, nil
}

func (r *MemoryRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{repo: r, updated: map[int64]Prospect{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, p := range tx.updated {
		r.prospects[id] = p
	}
	r.events = append(r.events, tx.events...)
	return nil
}

type memTx struct {
	repo    *MemoryRepo
	updated map[int64]Prospect
	events  []StatusChangeEvent
}

func (t *memTx) LockProspect(ctx context.Context, id int64) (Prospect, error) {
	if p, ok := t.updated[id]; ok {
		return p, nil
	}
	p, ok := t.repo.prospects[id]
	if !ok {
		return Prospect{}, errNotFound()
	}
	return p, nil
}

func (t *memTx) UpdateStatus(ctx context.Context, p Prospect) error {
	if _, err := t.LockProspect(ctx, p.ID); err != nil {
		return err
	}
	t.updated[p.ID] = p
	return nil
}

func (t *memTx) InsertStatusEvent(ctx context.Context, e StatusChangeEvent) error {
	t.events = append(t.events, e)
	return nil
}
