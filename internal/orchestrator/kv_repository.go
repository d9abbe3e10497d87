package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	kvTaskPrefix   = "task."
	kvSequenceKey  = "seq"
	maxCASAttempts = 16
)

// KVRepository stores tasks as JSON values in a NATS JetStream key-value
// bucket. Ids come from a sequence key advanced with compare-and-set, so
// several daemons can share one bucket.
type KVRepository struct {
	kv jetstream.KeyValue
}

var _ Repository = (*KVRepository)(nil)

// NewKVRepository opens (or creates) bucket on nc.
func NewKVRepository(ctx context.Context, nc *nats.Conn, bucket string) (*KVRepository, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "agentflow tasks",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("opening kv bucket %s: %w", bucket, err)
	}
	return &KVRepository{kv: kv}, nil
}

func taskKey(id int64) string {
	return kvTaskPrefix + strconv.FormatInt(id, 10)
}

func (r *KVRepository) nextID(ctx context.Context) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		entry, err := r.kv.Get(ctx, kvSequenceKey)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			if _, err := r.kv.Create(ctx, kvSequenceKey, []byte("1")); err != nil {
				lastErr = err
				continue
			}
			return 1, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading task sequence: %w", err)
		}

		current, err := strconv.ParseInt(string(entry.Value()), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt task sequence %q: %w", entry.Value(), err)
		}
		next := current + 1
		if _, err := r.kv.Update(ctx, kvSequenceKey, []byte(strconv.FormatInt(next, 10)), entry.Revision()); err != nil {
			lastErr = err
			continue
		}
		return next, nil
	}
	return 0, fmt.Errorf("allocating task id after %d attempts: %w", maxCASAttempts, lastErr)
}

// Create allocates an id and stores task under it.
func (r *KVRepository) Create(ctx context.Context, task *Task) error {
	id, err := r.nextID(ctx)
	if err != nil {
		return err
	}
	task.ID = id

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task %d: %w", id, err)
	}
	if _, err := r.kv.Create(ctx, taskKey(id), data); err != nil {
		return fmt.Errorf("storing task %d: %w", id, err)
	}
	return nil
}

// Get retrieves a task by id.
func (r *KVRepository) Get(ctx context.Context, id int64) (*Task, error) {
	entry, err := r.kv.Get(ctx, taskKey(id))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading task %d: %w", id, err)
	}
	var t Task
	if err := json.Unmarshal(entry.Value(), &t); err != nil {
		return nil, fmt.Errorf("decoding task %d: %w", id, err)
	}
	return &t, nil
}

// Update replaces a stored task with a single Put.
func (r *KVRepository) Update(ctx context.Context, task *Task) error {
	if _, err := r.Get(ctx, task.ID); err != nil {
		return err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task %d: %w", task.ID, err)
	}
	if _, err := r.kv.Put(ctx, taskKey(task.ID), data); err != nil {
		return fmt.Errorf("storing task %d: %w", task.ID, err)
	}
	return nil
}

// Delete removes a task.
func (r *KVRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	if err := r.kv.Delete(ctx, taskKey(id)); err != nil {
		return fmt.Errorf("deleting task %d: %w", id, err)
	}
	return nil
}

// List scans every task key.
func (r *KVRepository) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	lister, err := r.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing task keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var out []*Task
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, kvTaskPrefix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(key, kvTaskPrefix), 10, 64)
		if err != nil {
			continue
		}
		t, err := r.Get(ctx, id)
		if errors.Is(err, ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	return limitTasks(sortTasks(out), filter.Limit), nil
}
