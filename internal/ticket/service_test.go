package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snackticket/internal/clock"
	"snackticket/internal/eligibility"
	"snackticket/internal/geo"
	"snackticket/internal/history"
	"snackticket/internal/ledger"
	"snackticket/internal/queue"
	"snackticket/internal/schedule"
	"snackticket/internal/store"
	"snackticket/internal/user"
)

var (
	campus = geo.Coordinate{Latitude: -27.618426, Longitude: -48.663304}

	joao       = user.User{ID: "12345678", Password: "123456", Role: user.RoleStudent, Name: "João Silva", Class: "DS-V1"}
	alunoTeste = user.User{ID: "99999999", Password: "999999", Role: user.RoleStudent, Name: "Aluno Teste", Class: "MA-V1"}

	stdRules = eligibility.Rules{OpeningMinute: 13*60 + 45, ClosingMinute: 17*60 + 15, PreWindowMinutes: 5}
)

// captureQueue records published messages.
type captureQueue struct {
	msgs []queue.Message
	err  error
}

func (q *captureQueue) Publish(_ context.Context, msg queue.Message) error {
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *captureQueue) Consume(context.Context) (<-chan queue.Message, error) {
	return nil, errors.New("not implemented")
}

type faultyKV struct {
	inner  *store.Memory
	setErr error
}

func (f *faultyKV) Get(ctx context.Context, key string) (string, bool, error) {
	return f.inner.Get(ctx, key)
}

func (f *faultyKV) Set(ctx context.Context, key, value string) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.inner.Set(ctx, key, value)
}

// mondayUTC maps school-local 2026-08-24 hh:mm to the UTC instant a real
// clock would have observed.
func mondayUTC(hour, min int) time.Time {
	return time.Date(2026, time.August, 24, hour+3, min, 0, 0, time.UTC)
}

func newService(t *testing.T, kv store.KV, at time.Time, q queue.Queue) *Service {
	t.Helper()
	reg, err := schedule.Load("")
	require.NoError(t, err)
	gate := geo.Gate{Target: campus, ThresholdKm: 0.1}
	return NewService(clock.NewFrozen(-3, at), reg, ledger.New(kv), gate, stdRules, "99999999", q)
}

func TestRedeemHappyPath(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	q := &captureQueue{}
	svc := newService(t, kv, mondayUTC(15, 5), q)

	st, err := svc.Status(ctx, joao)
	require.NoError(t, err)
	assert.Equal(t, eligibility.Eligible, st.Decision.State)
	assert.False(t, st.Redeemed)

	tk, err := svc.Redeem(ctx, joao, &campus)
	require.NoError(t, err)
	assert.Regexp(t, `^TK20260824\d{3}$`, tk.Number)
	assert.Equal(t, "DS-V1", tk.Class.ID)

	// The ledger write must be visible immediately.
	st, err = svc.Status(ctx, joao)
	require.NoError(t, err)
	assert.True(t, st.Redeemed)
	assert.Equal(t, eligibility.AlreadyRedeemed, st.Decision.State)

	// And the redemption event must have been published.
	require.Len(t, q.msgs, 1)
	assert.Equal(t, "redemption", q.msgs[0].Type)
	var evt history.Event
	require.NoError(t, json.Unmarshal(q.msgs[0].Body, &evt))
	assert.Equal(t, "12345678", evt.StudentID)
	assert.Equal(t, tk.Number, evt.TicketNumber)
}

func TestRedeemTwiceSameDayBlocked(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemory(), mondayUTC(15, 5), &captureQueue{})

	_, err := svc.Redeem(ctx, joao, &campus)
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, joao, &campus)
	var notEligible *NotEligibleError
	require.ErrorAs(t, err, &notEligible)
	assert.Equal(t, eligibility.AlreadyRedeemed, notEligible.Decision.State)
}

func TestRedeemOutsideWindow(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemory(), mondayUTC(14, 54), &captureQueue{})

	_, err := svc.Redeem(ctx, joao, &campus)
	var notEligible *NotEligibleError
	require.ErrorAs(t, err, &notEligible)
	assert.Equal(t, eligibility.WindowNotYetOpen, notEligible.Decision.State)
	require.NotNil(t, notEligible.Decision.Countdown)
	assert.Equal(t, "06:00", notEligible.Decision.Countdown.String())
}

func TestRedeemLocationGates(t *testing.T) {
	ctx := context.Background()

	// Unknown location is distinct from out of range.
	kv := store.NewMemory()
	svc := newService(t, kv, mondayUTC(15, 5), &captureQueue{})
	_, err := svc.Redeem(ctx, joao, nil)
	assert.ErrorIs(t, err, ErrLocationUnknown)

	away := geo.Coordinate{
		Latitude:  campus.Latitude + (2.0/6371)*(180/math.Pi),
		Longitude: campus.Longitude,
	}
	_, err = svc.Redeem(ctx, joao, &away)
	assert.ErrorIs(t, err, ErrOutOfRange)

	// Neither denial may touch the ledger.
	st, err := svc.Status(ctx, joao)
	require.NoError(t, err)
	assert.False(t, st.Redeemed)
}

func TestRedeemPrivilegedBypassesAllGates(t *testing.T) {
	ctx := context.Background()
	// Friday 22:00 school time (01:00 UTC Saturday): every normal gate is closed.
	friday := time.Date(2026, time.August, 29, 1, 0, 0, 0, time.UTC)
	svc := newService(t, store.NewMemory(), friday, &captureQueue{})

	st, err := svc.Status(ctx, alunoTeste)
	require.NoError(t, err)
	assert.Equal(t, eligibility.Eligible, st.Decision.State)

	tk, err := svc.Redeem(ctx, alunoTeste, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, tk.Number)
}

func TestRedeemLedgerWriteFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	kv := &faultyKV{inner: store.NewMemory(), setErr: errors.New("store down")}
	q := &captureQueue{}
	svc := newService(t, kv, mondayUTC(15, 5), q)

	_, err := svc.Redeem(ctx, joao, &campus)
	require.Error(t, err)

	// No success, no event, no redeemed marker.
	assert.Empty(t, q.msgs)
	kv.setErr = nil
	st, err := svc.Status(ctx, joao)
	require.NoError(t, err)
	assert.False(t, st.Redeemed)
}

func TestRedeemCancelledBeforeWrite(t *testing.T) {
	kv := store.NewMemory()
	svc := newService(t, kv, mondayUTC(15, 5), &captureQueue{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Redeem(ctx, joao, &campus)
	require.Error(t, err)

	st, err := svc.Status(context.Background(), joao)
	require.NoError(t, err)
	assert.False(t, st.Redeemed)
}

func TestRedeemUnknownClass(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemory(), mondayUTC(15, 5), &captureQueue{})

	ghost := user.User{ID: "22222222", Role: user.RoleStudent, Name: "Ghost", Class: "ZZ-V9"}
	_, err := svc.Redeem(ctx, ghost, &campus)
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestClassToday(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	svc := newService(t, kv, mondayUTC(15, 5), &captureQueue{})

	dir := user.NewDirectory(kv)
	require.NoError(t, dir.Register(ctx, joao))
	require.NoError(t, dir.Register(ctx, user.User{ID: "11111111", Password: "123456", Role: user.RoleStudent, Name: "Pedro Oliveira", Class: "DS-V1"}))

	_, err := svc.Redeem(ctx, joao, &campus)
	require.NoError(t, err)

	rows, err := svc.ClassToday(ctx, dir, "DS-V1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[string]bool{}
	for _, r := range rows {
		byID[r.StudentID] = r.TicketTaken
	}
	assert.True(t, byID["12345678"])
	assert.False(t, byID["11111111"])
}
