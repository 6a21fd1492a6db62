package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jobs/taskqueue/internal/biz/task"
	"github.com/jobs/taskqueue/internal/events"
	"github.com/jobs/taskqueue/pkg/slugid"
	"github.com/raulk/clock"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func run(id int, state task.RunState, reason *task.ReasonResolved) *task.Run {
	return &task.Run{RunID: id, State: state, ReasonCreated: task.ReasonCreatedScheduled, ReasonResolved: reason, Scheduled: epoch}
}

func newBuilder() *events.Builder {
	clk := clock.NewMock()
	clk.Set(epoch)
	return events.NewBuilder("queue-1", clk)
}

func TestKindForRun(t *testing.T) {
	tests := []struct {
		run  *task.Run
		want events.Kind
	}{
		{run(0, task.RunStatePending, nil), events.KindTaskPending},
		{run(0, task.RunStateRunning, nil), events.KindTaskRunning},
		{run(0, task.RunStateCompleted, lo.ToPtr(task.ReasonResolvedCompleted)), events.KindTaskCompleted},
		{run(0, task.RunStateFailed, lo.ToPtr(task.ReasonResolvedFailed)), events.KindTaskFailed},
		{run(0, task.RunStateFailed, lo.ToPtr(task.ReasonResolvedClaimExpired)), events.KindTaskException},
		{run(0, task.RunStateFailed, lo.ToPtr(task.ReasonResolvedDeadlineExceeded)), events.KindTaskException},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, events.KindForRun(tt.run))
	}
}

func TestBuilder(t *testing.T) {
	b := newBuilder()
	tk := &task.Task{TaskID: uuid.New(), TaskGroupID: uuid.New(), Routes: []string{"a"}}

	msg := b.Defined(tk)
	assert.Equal(t, events.KindTaskDefined, msg.Kind)
	assert.Nil(t, msg.RunID)
	assert.Equal(t, task.StateUnscheduled, msg.State)
	assert.Equal(t, slugid.Encode(tk.TaskID), msg.TaskID)
	assert.Equal(t, "queue-1", msg.Source)
	assert.Equal(t, epoch.UnixMilli(), msg.Timestamp)

	tk.Runs = []*task.Run{
		run(0, task.RunStateFailed, lo.ToPtr(task.ReasonResolvedClaimExpired)),
		run(1, task.RunStatePending, nil),
	}
	msgs := b.ForLastRuns([]*task.Task{tk, {TaskID: uuid.New()}})
	require.Len(t, msgs, 2)
	assert.Equal(t, events.KindTaskException, msgs[0].Kind)
	assert.Equal(t, 0, *msgs[0].RunID)
	assert.Equal(t, events.KindTaskPending, msgs[1].Kind)
	assert.Equal(t, 1, *msgs[1].RunID)
	assert.Equal(t, string(task.RunStatePending), msgs[1].State)
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := events.New(events.Config{Backend: events.BackendRedis}, nil, zap.New(core))

	msg := newBuilder().ForRun(&task.Task{
		TaskID: uuid.New(),
		Runs:   []*task.Run{run(0, task.RunStateRunning, nil)},
	}, 0)
	require.NoError(t, p.Publish(context.Background(), msg))

	entries := logs.FilterMessage("task event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "task-running", entries[0].ContextMap()["kind"])
	assert.EqualValues(t, 0, entries[0].ContextMap()["run_id"])
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, events.Message) error {
	f.calls++
	return errors.New("down")
}

func TestPublishAllLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	p := &failingPublisher{}
	msgs := []events.Message{{Kind: events.KindTaskPending}, {Kind: events.KindTaskRunning}}

	events.PublishAll(context.Background(), p, zap.New(core), msgs...)
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, 2, logs.FilterMessage("failed to publish task event").Len())
}

// TestRedisPublisher runs against a live server when TASKQUEUE_TEST_REDIS is set.
func TestRedisPublisher(t *testing.T) {
	addr := os.Getenv("TASKQUEUE_TEST_REDIS")
	if addr == "" {
		t.Skip("TASKQUEUE_TEST_REDIS not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	p := events.NewRedisPublisher(rdb, "taskqueue-test:"+slugid.Nice())
	sub := rdb.Subscribe(ctx, p.Channel(events.KindTaskDefined))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	msg := newBuilder().Defined(&task.Task{TaskID: uuid.New()})
	require.NoError(t, p.Publish(ctx, msg))

	select {
	case got := <-sub.Channel():
		var decoded events.Message
		require.NoError(t, json.Unmarshal([]byte(got.Payload), &decoded))
		assert.Equal(t, msg.TaskID, decoded.TaskID)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
