package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.
//
// InTx holds a single mutex for the whole unit of work and applies staged
// changes only when fn succeeds. InsertCallAttempt enforces the same
// one-open-attempt-per-prospect rule as the Postgres partial unique index.
type MemoryRepo struct {
	mu sync.Mutex
	st memState
}

type memProspect struct {
	ref  ProspectRef
	name string
}

type memState struct {
	prospects map[int64]memProspect
	users     map[int64]string
	attempts  []CallAttempt
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{st: memState{prospects: map[int64]memProspect{}, users: map[int64]string{}}}
}

// AddProspect seeds a prospect row.
func (r *MemoryRepo) AddProspect(id int64, name, phone string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.prospects[id] = memProspect{ref: ProspectRef{ID: id, PhoneNumber: phone}, name: name}
}

// AddUser seeds caller display data.
func (r *MemoryRepo) AddUser(id int64, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.users[id] = name
}

func (r *MemoryRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := memState{
		prospects: r.st.prospects,
		users:     r.st.users,
		attempts:  append([]CallAttempt(nil), r.st.attempts...),
	}
	tx := &memTx{st: &staged}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.st.attempts = staged.attempts
	return nil
}

func (r *MemoryRepo) GetProspect(ctx context.Context, prospectID int64) (ProspectRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.getProspect(prospectID)
}

func (r *MemoryRepo) FindOpenCallAttempt(ctx context.Context, prospectID int64) (CallAttempt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.st.findOpen(prospectID)
	return a, ok, nil
}

func (r *MemoryRepo) LastEndedCallAttempt(ctx context.Context, prospectID int64) (CallAttempt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.st.lastEnded(prospectID)
	return a, ok, nil
}

func (r *MemoryRepo) GetCallAttempt(ctx context.Context, attemptID string) (CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.st.indexOf(attemptID)
	if i < 0 {
		return CallAttempt{}, errAttemptNotFound()
	}
	return r.st.attempts[i], nil
}

func (r *MemoryRepo) ListActiveCallAttempts(ctx context.Context) ([]ActiveCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActiveCall, 0)
	for _, a := range r.st.attempts {
		if !a.State.IsOpen() {
			continue
		}
		out = append(out, ActiveCall{
			CallAttempt:  a,
			ProspectName: r.st.prospects[a.ProspectID].name,
			CallerName:   r.st.users[a.CallerID],
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (r *MemoryRepo) ListCallAttempts(ctx context.Context, prospectID int64) ([]CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallAttempt, 0)
	for _, a := range r.st.attempts {
		if a.ProspectID == prospectID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (r *MemoryRepo) ListCallAttemptsBetween(ctx context.Context, from, to time.Time, callerID int64) ([]CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallAttempt, 0)
	for _, a := range r.st.attempts {
		if a.StartedAt.Before(from) || !a.StartedAt.Before(to) {
			continue
		}
		if callerID != 0 && a.CallerID != callerID {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

type memTx struct {
	st *memState
}

func (t *memTx) GetProspect(ctx context.Context, prospectID int64) (ProspectRef, error) {
	return t.st.getProspect(prospectID)
}

func (t *memTx) FindOpenCallAttempt(ctx context.Context, prospectID int64) (CallAttempt, bool, error) {
	a, ok := t.st.findOpen(prospectID)
	return a, ok, nil
}

func (t *memTx) LastEndedCallAttempt(ctx context.Context, prospectID int64) (CallAttempt, bool, error) {
	a, ok := t.st.lastEnded(prospectID)
	return a, ok, nil
}

func (t *memTx) GetCallAttempt(ctx context.Context, attemptID string) (CallAttempt, error) {
	i := t.st.indexOf(attemptID)
	if i < 0 {
		return CallAttempt{}, errAttemptNotFound()
	}
	return t.st.attempts[i], nil
}

func (t *memTx) LockProspect(ctx context.Context, prospectID int64) (ProspectRef, error) {
	return t.st.getProspect(prospectID)
}

func (t *memTx) LockCallAttempt(ctx context.Context, attemptID string) (CallAttempt, error) {
	return t.GetCallAttempt(ctx, attemptID)
}

func (t *memTx) InsertCallAttempt(ctx context.Context, a CallAttempt) error {
	if a.State.IsOpen() {
		if _, ok := t.st.findOpen(a.ProspectID); ok {
			return errActiveCall()
		}
	}
	t.st.attempts = append(t.st.attempts, a)
	return nil
}

func (t *memTx) UpdateCallAttemptEnded(ctx context.Context, a CallAttempt) error {
	i := t.st.indexOf(a.ID)
	if i < 0 {
		return errAttemptNotFound()
	}
	cur := t.st.attempts[i]
	if !cur.State.IsOpen() {
		return errAlreadyEnded()
	}
	cur.State = StateEnded
	cur.EndedAt = a.EndedAt
	cur.Outcome = a.Outcome
	cur.DurationSeconds = a.DurationSeconds
	cur.Notes = a.Notes
	cur.RecordingRef = a.RecordingRef
	t.st.attempts[i] = cur
	return nil
}

func (t *memTx) SetProviderCallID(ctx context.Context, attemptID, providerCallID string) error {
	i := t.st.indexOf(attemptID)
	if i < 0 {
		return errAttemptNotFound()
	}
	t.st.attempts[i].ProviderCallID = providerCallID
	return nil
}

func (s *memState) getProspect(id int64) (ProspectRef, error) {
	p, ok := s.prospects[id]
	if !ok {
		return ProspectRef{}, errProspectNotFound()
	}
	return p.ref, nil
}

func (s *memState) findOpen(prospectID int64) (CallAttempt, bool) {
	for _, a := range s.attempts {
		if a.ProspectID == prospectID && a.State.IsOpen() {
			return a, true
		}
	}
	return CallAttempt{}, false
}

func (s *memState) lastEnded(prospectID int64) (CallAttempt, bool) {
	var best CallAttempt
	found := false
	for _, a := range s.attempts {
		if a.ProspectID != prospectID || a.State != StateEnded || a.EndedAt == nil {
			continue
		}
		if !found || a.EndedAt.After(*best.EndedAt) {
			best = a
			found = true
		}
	}
	return best, found
}

func (s *memState) indexOf(attemptID string) int {
	for i, a := range s.attempts {
		if a.ID == attemptID {
			return i
		}
	}
	return -1
}
