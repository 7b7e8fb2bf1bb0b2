package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callcenter/internal/apperr"
	"callcenter/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeLimiter struct {
	mu    sync.Mutex
	limit int
	open  map[int64]int
	err   error
}

func (l *fakeLimiter) Acquire(ctx context.Context, callerID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.open[callerID] >= l.limit {
		return false, nil
	}
	l.open[callerID]++
	return true, nil
}

func (l *fakeLimiter) Release(ctx context.Context, callerID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open[callerID] > 0 {
		l.open[callerID]--
	}
	return nil
}

func (l *fakeLimiter) Busy(ctx context.Context, callerID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	return l.open[callerID] >= l.limit, nil
}

func (l *fakeLimiter) held(callerID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open[callerID]
}

// cancelAfterCommitRepo cancels the caller's context once a transaction has
// committed, the way a client disconnect races the response.
type cancelAfterCommitRepo struct {
	*MemoryRepo
	cancel context.CancelFunc
}

func (r cancelAfterCommitRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := r.MemoryRepo.InTx(ctx, fn)
	r.cancel()
	return err
}

const cooldown = 60 * time.Second

func newTestManager(t *testing.T, opts Options) (*Manager, *MemoryRepo, *fakeClock) {
	t.Helper()
	repo := NewMemoryRepo()
	repo.AddProspect(42, "Ada Lovelace", "+15551234567")
	repo.AddProspect(43, "Grace Hopper", "+15559876543")
	repo.AddProspect(44, "No Phone", "")
	repo.AddUser(7, "Agent Seven")
	repo.AddUser(9, "Agent Nine")

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	opts.Clock = clock.Now
	if opts.Cooldown == 0 {
		opts.Cooldown = cooldown
	}
	return NewManager(repo, opts), repo, clock
}

func TestLifecycle_Scenario(t *testing.T) {
	rec := &events.Recorder{}
	m, _, clock := newTestManager(t, Options{Events: rec})
	ctx := context.Background()

	a, err := m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7, PhoneNumber: "+15551234567", FromNumber: "+15557654321"})
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, a.State)
	assert.Equal(t, int64(42), a.ProspectID)
	assert.NotEmpty(t, a.ID)

	_, err = m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 9, PhoneNumber: "+15551234567"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	clock.Advance(30 * time.Second)
	ended, err := m.EndCall(ctx, EndCallRequest{ProspectID: 42, AttemptID: a.ID, Outcome: "no-answer", DurationSeconds: 0})
	require.NoError(t, err)
	assert.Equal(t, StateEnded, ended.State)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, clock.Now(), *ended.EndedAt)

	clock.Advance(cooldown)
	adm, err := m.CanCall(ctx, 42, 7)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)

	evs := rec.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, events.TypeCallStarted, evs[0].Type)
	assert.Equal(t, events.TypeCallEnded, evs[1].Type)
	assert.Equal(t, "no-answer", evs[1].Outcome)
}

func TestStartCall_ConcurrentRequestsAdmitExactlyOne(t *testing.T) {
	m, repo, _ := newTestManager(t, Options{})
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: int64(100 + i)})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	active, err := repo.ListActiveCallAttempts(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestCanCall_ReflectsOpenAttempt(t *testing.T) {
	m, _, clock := newTestManager(t, Options{})
	ctx := context.Background()

	adm, err := m.CanCall(ctx, 42, 7)
	require.NoError(t, err)
	assert.Equal(t, Admission{Allowed: true}, adm)

	a, err := m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7})
	require.NoError(t, err)

	adm, err = m.CanCall(ctx, 42, 9)
	require.NoError(t, err)
	assert.Equal(t, Admission{Allowed: false, Reason: ReasonInProgress}, adm)

	_, err = m.EndCall(ctx, EndCallRequest{ProspectID: 42, AttemptID: a.ID, Outcome: OutcomeCompleted, DurationSeconds: 95})
	require.NoError(t, err)

	clock.Advance(cooldown)
	adm, err = m.CanCall(ctx, 42, 9)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
}

func TestCanCall_CooldownBoundary(t *testing.T) {
	m, _, clock := newTestManager(t, Options{})
	ctx := context.Background()

	a, err := m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7})
	require.NoError(t, err)
	_, err = m.EndCall(ctx, EndCallRequest{ProspectID: 42, AttemptID: a.ID, Outcome: OutcomeBusy})
	require.NoError(t, err)

	adm, err := m.CanCall(ctx, 42, 7)
	require.NoError(t, err)
	assert.Equal(t, Admission{Allowed: false, Reason: ReasonCooldown}, adm)

	clock.Advance(cooldown - time.Nanosecond)
	adm, err = m.CanCall(ctx, 42, 7)
	require.NoError(t, err)
	assert.Equal(t, ReasonCooldown, adm.Reason)

	_, err = m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7})
	require.Error(t, err)
	typed, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, CodeCooldown, typed.Code)

	clock.Advance(time.Nanosecond)
	adm, err = m.CanCall(ctx, 42, 7)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
}

func TestCanCall_UnknownProspect(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})

	_, err := m.CanCall(context.Background(), 999, 7)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = m.CanCall(context.Background(), 0, 7)
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
}

func TestEndCall_SecondEndIsInvalidState(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})
	ctx := context.Background()

	a, err := m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7})
	require.NoError(t, err)

	_, err = m.EndCall(ctx, EndCallRequest{ProspectID: 42, AttemptID: a.ID, Outcome: OutcomeCompleted, DurationSeconds: 12})
	require.NoError(t, err)

	_, err = m.EndCall(ctx, EndCallRequest{ProspectID: 42, AttemptID: a.ID, Outcome: OutcomeCompleted, DurationSeconds: 12})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestEndCall_NotFound(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})
	ctx := context.Background()

	a, err := m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7})
	require.NoError(t, err)

	cases := []EndCallRequest{
		{ProspectID: 42, AttemptID: "not-a-uuid", Outcome: OutcomeCompleted},
		{ProspectID: 42, AttemptID: "2b1d8f7e-4d55-4c5e-9f4a-0a0c2c1f9e11", Outcome: OutcomeCompleted},
		{ProspectID: 43, AttemptID: a.ID, Outcome: OutcomeCompleted},
	}
	for _, req := range cases {
		_, err := m.EndCall(ctx, req)
		assert.True(t, errors.Is(err, apperr.ErrNotFound), "req %+v: %v", req, err)
	}

	// the attempt is untouched
	got, err := m.GetAttempt(ctx, 42, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, got.State)
}

func TestEndCall_ValidatesInput(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})
	ctx := context.Background()
	a, err := m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7})
	require.NoError(t, err)

	_, err = m.EndCall(ctx, EndCallRequest{ProspectID: 42, AttemptID: a.ID, Outcome: "  "})
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))

	_, err = m.EndCall(ctx, EndCallRequest{ProspectID: 42, AttemptID: a.ID, Outcome: OutcomeCompleted, DurationSeconds: -1})
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
}

func TestStartCall_PhoneHandling(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})
	ctx := context.Background()

	a, err := m.StartCall(ctx, StartCallRequest{ProspectID: 43, CallerID: 7})
	require.NoError(t, err)
	assert.Equal(t, "+15559876543", a.PhoneNumber)

	_, err = m.StartCall(ctx, StartCallRequest{ProspectID: 44, CallerID: 7})
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))

	_, err = m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7, PhoneNumber: "555-1234"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))

	_, err = m.StartCall(ctx, StartCallRequest{ProspectID: 999, CallerID: 7})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestStartCall_CallerCap(t *testing.T) {
	lim := &fakeLimiter{limit: 1, open: map[int64]int{}}
	m, _, _ := newTestManager(t, Options{Limiter: lim})
	ctx := context.Background()

	a, err := m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7})
	require.NoError(t, err)

	_, err = m.StartCall(ctx, StartCallRequest{ProspectID: 43, CallerID: 7})
	require.Error(t, err)
	typed, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, CodeCallerBusy, typed.Code)

	// a rejected admission gives the slot back
	_, err = m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 9})
	require.Error(t, err)
	assert.Equal(t, 0, lim.open[9])

	_, err = m.EndCall(ctx, EndCallRequest{ProspectID: 42, AttemptID: a.ID, Outcome: OutcomeCompleted})
	require.NoError(t, err)
	assert.Equal(t, 0, lim.open[7])

	_, err = m.StartCall(ctx, StartCallRequest{ProspectID: 43, CallerID: 7})
	require.NoError(t, err)
}

func TestStartCall_LimiterFailureIsTransient(t *testing.T) {
	lim := &fakeLimiter{limit: 1, open: map[int64]int{}, err: errors.New("redis down")}
	m, _, _ := newTestManager(t, Options{Limiter: lim})

	_, err := m.StartCall(context.Background(), StartCallRequest{ProspectID: 42, CallerID: 7})
	assert.True(t, errors.Is(err, apperr.ErrTransient))
}

func TestCanCall_ReportsCallerBusy(t *testing.T) {
	lim := &fakeLimiter{limit: 1, open: map[int64]int{}}
	m, _, _ := newTestManager(t, Options{Limiter: lim})
	ctx := context.Background()

	adm, err := m.CanCall(ctx, 43, 7)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)

	_, err = m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7})
	require.NoError(t, err)

	adm, err = m.CanCall(ctx, 43, 7)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, ReasonCallerBusy, adm.Reason)
	assert.Equal(t, 1, lim.held(7), "CanCall must not take a slot")

	// prospect rules win over the caller cap
	adm, err = m.CanCall(ctx, 42, 7)
	require.NoError(t, err)
	assert.Equal(t, ReasonInProgress, adm.Reason)

	adm, err = m.CanCall(ctx, 43, 9)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
}

func TestCanCall_LimiterFailureIsTransient(t *testing.T) {
	lim := &fakeLimiter{limit: 1, open: map[int64]int{}, err: errors.New("redis down")}
	m, _, _ := newTestManager(t, Options{Limiter: lim})

	_, err := m.CanCall(context.Background(), 42, 7)
	assert.True(t, errors.Is(err, apperr.ErrTransient))
}

func TestEndCall_ReleasesSlotWhenRequestIsCanceled(t *testing.T) {
	lim := &fakeLimiter{limit: 1, open: map[int64]int{}}
	mem := NewMemoryRepo()
	mem.AddProspect(42, "Ada Lovelace", "+15551234567")
	mem.AddUser(7, "Agent Seven")

	m := NewManager(mem, Options{Limiter: lim})
	a, err := m.StartCall(context.Background(), StartCallRequest{ProspectID: 42, CallerID: 7})
	require.NoError(t, err)
	require.Equal(t, 1, lim.held(7))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m = NewManager(cancelAfterCommitRepo{MemoryRepo: mem, cancel: cancel}, Options{Limiter: lim})

	ended, err := m.EndCall(ctx, EndCallRequest{ProspectID: 42, AttemptID: a.ID, Outcome: OutcomeCompleted})
	require.NoError(t, err)
	assert.Equal(t, StateEnded, ended.State)
	require.Error(t, ctx.Err())
	assert.Equal(t, 0, lim.held(7))
}

func TestActiveCalls_MatchesCanCall(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})
	ctx := context.Background()

	_, err := m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7})
	require.NoError(t, err)
	b, err := m.StartCall(ctx, StartCallRequest{ProspectID: 43, CallerID: 9})
	require.NoError(t, err)
	_, err = m.EndCall(ctx, EndCallRequest{ProspectID: 43, AttemptID: b.ID, Outcome: OutcomeVoicemail})
	require.NoError(t, err)

	active, err := m.ActiveCalls(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(42), active[0].ProspectID)
	assert.Equal(t, "Ada Lovelace", active[0].ProspectName)
	assert.Equal(t, "Agent Seven", active[0].CallerName)

	for _, id := range []int64{42, 43} {
		adm, err := m.CanCall(ctx, id, 7)
		require.NoError(t, err)
		listed := false
		for _, ac := range active {
			listed = listed || ac.ProspectID == id
		}
		assert.Equal(t, listed, adm.Reason == ReasonInProgress, "prospect %d", id)
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	m, _, clock := newTestManager(t, Options{Cooldown: time.Second})
	ctx := context.Background()

	first, err := m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7})
	require.NoError(t, err)
	_, err = m.EndCall(ctx, EndCallRequest{ProspectID: 42, AttemptID: first.ID, Outcome: OutcomeNoAnswer})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	second, err := m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7})
	require.NoError(t, err)

	hist, err := m.History(ctx, 42)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, second.ID, hist[0].ID)
	assert.Equal(t, first.ID, hist[1].ID)

	_, err = m.History(ctx, 999)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestAttachProviderCall(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})
	ctx := context.Background()

	a, err := m.StartCall(ctx, StartCallRequest{ProspectID: 42, CallerID: 7})
	require.NoError(t, err)

	require.NoError(t, m.AttachProviderCall(ctx, 42, a.ID, "CA123"))
	got, err := m.GetAttempt(ctx, 42, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "CA123", got.ProviderCallID)

	assert.True(t, errors.Is(m.AttachProviderCall(ctx, 43, a.ID, "CA123"), apperr.ErrNotFound))

	_, err = m.EndCall(ctx, EndCallRequest{ProspectID: 42, AttemptID: a.ID, Outcome: OutcomeCompleted})
	require.NoError(t, err)
	assert.True(t, errors.Is(m.AttachProviderCall(ctx, 42, a.ID, "CA999"), apperr.ErrInvalidState))
}

func TestMemoryRepo_RollsBackFailedTx(t *testing.T) {
	repo := NewMemoryRepo()
	repo.AddProspect(1, "P", "+15550000001")
	ctx := context.Background()

	boom := errors.New("boom")
	err := repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertCallAttempt(ctx, CallAttempt{ID: "a", ProspectID: 1, State: StateInProgress}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, open, err := repo.FindOpenCallAttempt(ctx, 1)
	require.NoError(t, err)
	assert.False(t, open)
}

func TestState_IsOpen(t *testing.T) {
	assert.True(t, StateRequested.IsOpen())
	assert.True(t, StateInProgress.IsOpen())
	assert.False(t, StateEnded.IsOpen())
}

func TestIsE164(t *testing.T) {
	for _, s := range []string{"+15551234567", "+442071838750", "+12345678"} {
		assert.True(t, IsE164(s), s)
	}
	for _, s := range []string{"", "15551234567", "+1555abc4567", "+0123456789", "+1234567", "+1234567890123456"} {
		assert.False(t, IsE164(s), s)
	}
}
