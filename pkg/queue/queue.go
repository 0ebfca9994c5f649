package queue

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/recurrence"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketJobs    = []byte("jobs")
	bucketRepeats = []byte("repeats")

	errJobNotFound = errors.New("job not found")
)

// Config holds queue and worker settings
type Config struct {
	DataDir         string
	Concurrency     int
	PollInterval    time.Duration
	LockTimeout     time.Duration // lease on a claimed job; expired leases are reclaimed
	JobTimeout      time.Duration // 0 disables the per-attempt timeout
	DefaultAttempts int
	DefaultBackoff  Backoff
}

// DefaultConfig returns the queue defaults
func DefaultConfig() Config {
	return Config{
		Concurrency:     4,
		PollInterval:    1 * time.Second,
		LockTimeout:     2 * time.Minute,
		JobTimeout:      5 * time.Minute,
		DefaultAttempts: 3,
		DefaultBackoff:  Backoff{Delay: 5 * time.Second, MaxDelay: 5 * time.Minute},
	}
}

// Queue is a durable job queue on a bbolt file, with an in-process worker
type Queue struct {
	db     *bolt.DB
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
	listener SettleListener

	inflight  atomic.Int32
	runningMu sync.Mutex
	running   map[string]struct{}

	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Open creates or reopens the queue at <DataDir>/queue.db
func Open(cfg Config) (*Queue, error) {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.DefaultAttempts <= 0 {
		cfg.DefaultAttempts = def.DefaultAttempts
	}
	if cfg.DefaultBackoff.Delay == 0 && cfg.DefaultBackoff.MaxDelay == 0 {
		cfg.DefaultBackoff = def.DefaultBackoff
	}
	if err := cfg.DefaultBackoff.Validate(); err != nil {
		return nil, err
	}

	db, err := bolt.Open(filepath.Join(cfg.DataDir, "queue.db"), 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketRepeats} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Queue{
		db:       db,
		cfg:      cfg,
		logger:   log.WithComponent("queue"),
		now:      time.Now,
		handlers: make(map[string]Handler),
		running:  make(map[string]struct{}),
		wakeCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}, nil
}

// Close stops the worker and closes the database
func (q *Queue) Close() error {
	q.Stop()
	return q.db.Close()
}

// Register binds a handler to a job name
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// OnSettle sets the listener notified when jobs settle
func (q *Queue) OnSettle(l SettleListener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listener = l
}

func newJobID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func putJob(tx *bolt.Tx, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
}

func getJob(tx *bolt.Tx, id string) (*Job, error) {
	data := tx.Bucket(bucketJobs).Get([]byte(id))
	if data == nil {
		return nil, errJobNotFound
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func putRepeat(tx *bolt.Tx, entry *RepeatEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketRepeats).Put([]byte(entry.Key), data)
}

func getRepeat(tx *bolt.Tx, key string) (*RepeatEntry, error) {
	data := tx.Bucket(bucketRepeats).Get([]byte(key))
	if data == nil {
		return nil, nil
	}
	var entry RepeatEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// CreateJob enqueues a job and returns its id. data is JSON-encoded unless it
// already is a json.RawMessage. With opts.Repeat set the job becomes the first
// instance of a repeat rule and runs at the rule's next fire time.
func (q *Queue) CreateJob(ctx context.Context, name string, data any, opts JobOptions) Result {
	if err := ctx.Err(); err != nil {
		return failure("failed to create job", err)
	}
	if name == "" {
		return Result{Message: "job name is required"}
	}

	payload, ok := data.(json.RawMessage)
	if !ok {
		var err error
		if payload, err = json.Marshal(data); err != nil {
			return failure("failed to encode job data", err)
		}
	}

	if opts.Attempts <= 0 {
		opts.Attempts = q.cfg.DefaultAttempts
	}
	if opts.Backoff.Delay == 0 && opts.Backoff.MaxDelay == 0 {
		opts.Backoff = q.cfg.DefaultBackoff
	}
	if err := opts.Backoff.Validate(); err != nil {
		return failure("invalid job options", err)
	}

	now := q.now().UTC()
	job := &Job{
		ID:        newJobID(),
		Name:      name,
		Data:      payload,
		Opts:      opts,
		State:     StateWaiting,
		RunAt:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var entry *RepeatEntry
	if opts.Repeat != nil {
		if err := recurrence.Validate(opts.Repeat); err != nil {
			return failure("invalid repeat rule", err)
		}
		next, ok := recurrence.NextRun(opts.Repeat, now)
		if !ok {
			return Result{Message: "repeat rule has no future runs"}
		}
		job.RunAt = next
		job.State = StateDelayed
		job.RepeatKey = fmt.Sprintf("%s:%s:%s", name, job.ID, opts.Repeat.Pattern)
		entry = &RepeatEntry{
			Key:       job.RepeatKey,
			JobID:     job.ID,
			Name:      name,
			Data:      payload,
			Opts:      opts,
			Rule:      *opts.Repeat,
			CreatedAt: now,
		}
	} else if opts.Delay > 0 {
		job.RunAt = now.Add(opts.Delay)
		job.State = StateDelayed
	}

	err := q.db.Update(func(tx *bolt.Tx) error {
		if entry != nil {
			if err := putRepeat(tx, entry); err != nil {
				return err
			}
		}
		return putJob(tx, job)
	})
	if err != nil {
		return failure("failed to enqueue job", err)
	}

	q.logger.Debug().
		Str("job_id", job.ID).
		Str("name", name).
		Str("state", string(job.State)).
		Time("run_at", job.RunAt).
		Msg("Job created")

	q.wake()
	return Result{Success: true, JobID: job.ID, Job: job}
}

// GetJob returns a job by id
func (q *Queue) GetJob(ctx context.Context, id string) Result {
	var job *Job
	err := q.db.View(func(tx *bolt.Tx) error {
		var err error
		job, err = getJob(tx, id)
		return err
	})
	if errors.Is(err, errJobNotFound) {
		return notFound(id)
	}
	if err != nil {
		return failure("failed to read job", err)
	}
	return Result{Success: true, JobID: id, Job: job}
}

// RemoveJob deletes a job. A running attempt finishes but is not settled.
func (q *Queue) RemoveJob(ctx context.Context, id string) Result {
	err := q.db.Update(func(tx *bolt.Tx) error {
		if _, err := getJob(tx, id); err != nil {
			return err
		}
		return tx.Bucket(bucketJobs).Delete([]byte(id))
	})
	if errors.Is(err, errJobNotFound) {
		return notFound(id)
	}
	if err != nil {
		return failure("failed to remove job", err)
	}
	return Result{Success: true, JobID: id}
}

// UpdateJob applies p to a waiting or delayed job. Data paths are also
// applied to the job's repeat rule so later instances carry the change.
func (q *Queue) UpdateJob(ctx context.Context, id string, p Patch) Result {
	var job *Job
	err := q.db.Update(func(tx *bolt.Tx) error {
		var err error
		if job, err = getJob(tx, id); err != nil {
			return err
		}
		if job.State != StateWaiting && job.State != StateDelayed {
			return fmt.Errorf("job is %s", job.State)
		}

		if job.Data, err = applyPaths(job.Data, p.Data); err != nil {
			return err
		}

		if p.RunAt != nil {
			job.RunAt = p.RunAt.UTC()
			job.State = StateDelayed
			if !job.RunAt.After(q.now()) {
				job.State = StateWaiting
			}
		}
		job.UpdatedAt = q.now().UTC()

		if job.RepeatKey != "" && len(p.Data) > 0 {
			entry, err := getRepeat(tx, job.RepeatKey)
			if err != nil {
				return err
			}
			if entry != nil {
				if entry.Data, err = applyPaths(entry.Data, p.Data); err != nil {
					return err
				}
				if err := putRepeat(tx, entry); err != nil {
					return err
				}
			}
		}
		return putJob(tx, job)
	})
	if errors.Is(err, errJobNotFound) {
		return notFound(id)
	}
	if err != nil {
		return failure("failed to update job", err)
	}

	q.wake()
	return Result{Success: true, JobID: id, Job: job}
}

func applyPaths(data json.RawMessage, paths map[string]any) (json.RawMessage, error) {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte(data)
	for _, k := range keys {
		var err error
		if out, err = sjson.SetBytes(out, k, paths[k]); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", k, err)
		}
	}
	return out, nil
}

// RemoveRepeatableJob retires the repeat rule whose key or current instance
// matches id, and removes that instance if it has not started.
// The key embeds the first instance's id, so the original handle still matches.
func (q *Queue) RemoveRepeatableJob(ctx context.Context, id string) Result {
	if id == "" {
		return notFound(id)
	}

	var removed *RepeatEntry
	err := q.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRepeats).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry RepeatEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.Key == id || entry.JobID == id || strings.Contains(entry.Key, id) {
				removed = &entry
				break
			}
		}
		if removed == nil {
			return errJobNotFound
		}

		if err := tx.Bucket(bucketRepeats).Delete([]byte(removed.Key)); err != nil {
			return err
		}
		job, err := getJob(tx, removed.JobID)
		if errors.Is(err, errJobNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if job.State == StateWaiting || job.State == StateDelayed {
			return tx.Bucket(bucketJobs).Delete([]byte(job.ID))
		}
		return nil
	})
	if errors.Is(err, errJobNotFound) {
		return notFound(id)
	}
	if err != nil {
		return failure("failed to remove repeat rule", err)
	}
	return Result{Success: true, JobID: removed.JobID}
}

// ListRepeatRules returns every registered repeat rule
func (q *Queue) ListRepeatRules() ([]*RepeatEntry, error) {
	var entries []*RepeatEntry
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepeats).ForEach(func(k, v []byte) error {
			var entry RepeatEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	return entries, err
}

// CountByState returns the number of stored jobs per state
func (q *Queue) CountByState() (map[string]int, error) {
	counts := map[string]int{
		string(StateWaiting):   0,
		string(StateDelayed):   0,
		string(StateActive):    0,
		string(StateCompleted): 0,
		string(StateFailed):    0,
	}
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			counts[string(job.State)]++
			return nil
		})
	})
	return counts, err
}

// CountRepeatRules returns the number of registered repeat rules
func (q *Queue) CountRepeatRules() (int, error) {
	n := 0
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketRepeats).Stats().KeyN
		return nil
	})
	return n, err
}
