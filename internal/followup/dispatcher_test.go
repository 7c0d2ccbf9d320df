package followup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/microsignal/internal/config"
	"github.com/sawpanic/microsignal/internal/monitor"
)

type fakeRepo struct {
	nextID int64
	err    error
}

func (f *fakeRepo) InsertSignal(ctx context.Context, sig *monitor.Signal) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	return f.nextID, nil
}

type enqueueCall struct {
	queueName, kind string
	delay           time.Duration
}

type fakeScheduler struct {
	calls []enqueueCall
	fail  map[string]bool
}

func (f *fakeScheduler) Enqueue(ctx context.Context, queueName, kind string, payload any, delay time.Duration, nowMs int64) (string, error) {
	f.calls = append(f.calls, enqueueCall{queueName, kind, delay})
	if f.fail[queueName] {
		return "", errTestEnqueue
	}
	return "task-id", nil
}

var errTestEnqueue = errors.New("enqueue failed")

func TestHandle_EnqueuesThreeOrderbookTasksAndOneTrajectoryTask(t *testing.T) {
	cfg := config.Default()
	repo := &fakeRepo{}
	sched := &fakeScheduler{}
	d := New(repo, sched, cfg, zerolog.Nop())

	sig := &monitor.Signal{Symbol: "BTCUSDT", SignalTimestampMs: 1000}
	require.NoError(t, d.Handle(context.Background(), sig))
	assert.Len(t, sched.calls, len(cfg.FollowUp.OrderbookOffsetsSec)+1)
}

func TestHandle_PersistFailureSkipsEnqueue(t *testing.T) {
	cfg := config.Default()
	repo := &fakeRepo{err: errTestEnqueue}
	sched := &fakeScheduler{}
	d := New(repo, sched, cfg, zerolog.Nop())

	sig := &monitor.Signal{Symbol: "BTCUSDT"}
	err := d.Handle(context.Background(), sig)
	require.Error(t, err)
	assert.Empty(t, sched.calls)
}

func TestHandle_OneEnqueueFailureDoesNotBlockTheOthers(t *testing.T) {
	cfg := config.Default()
	repo := &fakeRepo{}
	sched := &fakeScheduler{fail: map[string]bool{cfg.FollowUp.OrderbookQueue(): true}}
	d := New(repo, sched, cfg, zerolog.Nop())

	sig := &monitor.Signal{Symbol: "BTCUSDT"}
	require.NoError(t, d.Handle(context.Background(), sig))
	assert.Len(t, sched.calls, len(cfg.FollowUp.OrderbookOffsetsSec)+1)
}

func TestHandle_DuplicateSignalIsANoop(t *testing.T) {
	cfg := config.Default()
	repo := &fakeRepo{err: ErrDuplicateSignal}
	sched := &fakeScheduler{}
	d := New(repo, sched, cfg, zerolog.Nop())

	sig := &monitor.Signal{Symbol: "BTCUSDT"}
	require.NoError(t, d.Handle(context.Background(), sig))
	assert.Empty(t, sched.calls)
}
