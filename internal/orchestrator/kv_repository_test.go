package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded JetStream-enabled server.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func connectTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

// repositories returns both backends for shared contract tests.
func repositories(t *testing.T) map[string]Repository {
	nc := connectTestNATS(t)
	kv, err := NewKVRepository(context.Background(), nc, "test_tasks")
	require.NoError(t, err)
	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"kv":     kv,
	}
}

func TestRepository_Contract(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a := &Task{UUID: "a", Title: "first", Status: StatusPending, Priority: PriorityLow, GroupName: "g"}
			b := &Task{UUID: "b", Title: "second", Status: StatusPending, Priority: PriorityHigh, GroupName: "g"}
			require.NoError(t, repo.Create(ctx, a))
			require.NoError(t, repo.Create(ctx, b))
			assert.Equal(t, int64(1), a.ID)
			assert.Equal(t, int64(2), b.ID)

			got, err := repo.Get(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, "first", got.Title)
			assert.Equal(t, PriorityLow, got.Priority)

			// Returned tasks are copies.
			got.Title = "mutated"
			again, err := repo.Get(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, "first", again.Title)

			now := time.Now().UTC().Truncate(time.Millisecond)
			got.Title = "first"
			got.Status = StatusRunning
			got.LockHolder = LockHolderMaster
			got.LockTime = &now
			require.NoError(t, repo.Update(ctx, got))

			running, err := repo.List(ctx, ListFilter{Status: StatusRunning})
			require.NoError(t, err)
			require.Len(t, running, 1)
			assert.Equal(t, LockHolderMaster, running[0].LockHolder)
			require.NotNil(t, running[0].LockTime)
			assert.True(t, now.Equal(*running[0].LockTime))

			all, err := repo.List(ctx, ListFilter{GroupName: "g"})
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "second", all[0].Title)

			require.NoError(t, repo.Delete(ctx, b.ID))
			_, err = repo.Get(ctx, b.ID)
			assert.ErrorIs(t, err, ErrTaskNotFound)
			assert.ErrorIs(t, repo.Delete(ctx, b.ID), ErrTaskNotFound)
			assert.ErrorIs(t, repo.Update(ctx, &Task{ID: 99}), ErrTaskNotFound)

			// Ids are never reused.
			c := &Task{UUID: "c", Title: "third", Status: StatusPending}
			require.NoError(t, repo.Create(ctx, c))
			assert.Equal(t, int64(3), c.ID)
		})
	}
}

func TestKVRepository_ConcurrentCreateUniqueIDs(t *testing.T) {
	nc := connectTestNATS(t)
	repo, err := NewKVRepository(context.Background(), nc, "concurrent_tasks")
	require.NoError(t, err)

	const n = 20
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := &Task{Title: "t", Status: StatusPending}
			if err := repo.Create(context.Background(), task); err == nil {
				ids <- task.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.NotEmpty(t, seen)
}

func TestKVRepository_SharedBucket(t *testing.T) {
	nc := connectTestNATS(t)
	ctx := context.Background()
	first, err := NewKVRepository(ctx, nc, "shared_tasks")
	require.NoError(t, err)
	second, err := NewKVRepository(ctx, nc, "shared_tasks")
	require.NoError(t, err)

	task := &Task{Title: "visible", Status: StatusPending}
	require.NoError(t, first.Create(ctx, task))

	got, err := second.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "visible", got.Title)
}

func TestNewKVRepository_RequiresConnection(t *testing.T) {
	_, err := NewKVRepository(context.Background(), nil, "tasks")
	assert.Error(t, err)
}

func TestNATSPublisher(t *testing.T) {
	nc := connectTestNATS(t)
	pub := NewNATSPublisher(nc, "")

	sub, err := nc.SubscribeSync(DefaultSubjectPrefix + ".>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	task := &Task{ID: 3, UUID: "uuid-3", Status: StatusCompleted}
	code := 0
	ev := newTaskEvent(EventCompleted, task)
	ev.ExitCode = &code
	require.NoError(t, pub.Publish(context.Background(), ev))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "agentflow.tasks.uuid-3.completed", msg.Subject)

	var got TaskEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, EventCompleted, got.Type)
	assert.Equal(t, int64(3), got.TaskID)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
}

func TestOrchestrator_PublishesOverNATS(t *testing.T) {
	nc := connectTestNATS(t)
	sub, err := nc.SubscribeSync("custom.*.created")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	o := newOrchestrator(t, nil, WithPublisher(NewNATSPublisher(nc, "custom")))
	task, err := o.Create(context.Background(), &CreateRequest{Title: "t"})
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "custom."+task.UUID+".created", msg.Subject)
}
