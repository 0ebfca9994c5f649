package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/herald/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTasks        = []byte("tasks")
	bucketReminders    = []byte("reminders")
	bucketReminderJobs = []byte("reminder_jobs")
	bucketAgentStates  = []byte("agent_states")
	bucketChats        = []byte("chat_messages")
	bucketProfiles     = []byte("profiles")
	bucketDevices      = []byte("devices")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "herald.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTasks,
			bucketReminders,
			bucketReminderJobs,
			bucketAgentStates,
			bucketChats,
			bucketProfiles,
			bucketDevices,
		}

		for _, bucket := range buckets {
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

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %w: %s", kind, ErrNotFound, id)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func put(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// Task operations
func (s *BoltStore) CreateTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketTasks), task.ID, task)
	})
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return notFound("task", id)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasksByUser(userID string) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.UserID == userID {
				tasks = append(tasks, &task)
			}
			return nil
		})
	})
	return tasks, err
}

// Reminder operations

// CreateReminder stores a reminder and indexes its current job handle
func (s *BoltStore) CreateReminder(reminder *types.Reminder) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := put(tx.Bucket(bucketReminders), reminder.ID, reminder); err != nil {
			return err
		}
		if reminder.JobID == "" {
			return nil
		}
		return tx.Bucket(bucketReminderJobs).Put([]byte(reminder.JobID), []byte(reminder.ID))
	})
}

func getReminder(tx *bolt.Tx, id string) (*types.Reminder, error) {
	data := tx.Bucket(bucketReminders).Get([]byte(id))
	if data == nil {
		return nil, notFound("reminder", id)
	}
	var reminder types.Reminder
	if err := json.Unmarshal(data, &reminder); err != nil {
		return nil, err
	}
	return &reminder, nil
}

func (s *BoltStore) GetReminder(id string) (*types.Reminder, error) {
	var reminder *types.Reminder
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		reminder, err = getReminder(tx, id)
		return err
	})
	return reminder, err
}

// GetReminderByJobID resolves a reminder through its current job handle
func (s *BoltStore) GetReminderByJobID(jobID string) (*types.Reminder, error) {
	var reminder *types.Reminder
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketReminderJobs).Get([]byte(jobID))
		if id == nil {
			return notFound("reminder for job", jobID)
		}
		var err error
		reminder, err = getReminder(tx, string(id))
		return err
	})
	return reminder, err
}

func (s *BoltStore) ListReminders() ([]*types.Reminder, error) {
	return s.listReminders(func(*types.Reminder) bool { return true })
}

func (s *BoltStore) ListRemindersByUser(userID string) ([]*types.Reminder, error) {
	return s.listReminders(func(r *types.Reminder) bool { return r.UserID == userID })
}

func (s *BoltStore) listReminders(keep func(*types.Reminder) bool) ([]*types.Reminder, error) {
	var reminders []*types.Reminder
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReminders).ForEach(func(k, v []byte) error {
			var reminder types.Reminder
			if err := json.Unmarshal(v, &reminder); err != nil {
				return err
			}
			if keep(&reminder) {
				reminders = append(reminders, &reminder)
			}
			return nil
		})
	})
	return reminders, err
}

// UpdateReminder replaces a reminder, moving its job index entry if the handle changed
func (s *BoltStore) UpdateReminder(reminder *types.Reminder) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		prev, err := getReminder(tx, reminder.ID)
		if err != nil {
			return err
		}

		index := tx.Bucket(bucketReminderJobs)
		if prev.JobID != reminder.JobID && prev.JobID != "" {
			if err := index.Delete([]byte(prev.JobID)); err != nil {
				return err
			}
		}
		if reminder.JobID != "" {
			if err := index.Put([]byte(reminder.JobID), []byte(reminder.ID)); err != nil {
				return err
			}
		}
		return put(tx.Bucket(bucketReminders), reminder.ID, reminder)
	})
}

// RepointReminderJob moves the reminder currently bound to oldJobID onto newJobID.
// The reminder record and its index entry change in one transaction.
func (s *BoltStore) RepointReminderJob(oldJobID, newJobID string) (*types.Reminder, error) {
	var reminder *types.Reminder
	err := s.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketReminderJobs)
		id := index.Get([]byte(oldJobID))
		if id == nil {
			return notFound("reminder for job", oldJobID)
		}
		reminderID := string(id)

		var err error
		reminder, err = getReminder(tx, reminderID)
		if err != nil {
			return err
		}

		reminder.JobID = newJobID
		reminder.UpdatedAt = time.Now()

		if err := index.Delete([]byte(oldJobID)); err != nil {
			return err
		}
		if err := index.Put([]byte(newJobID), []byte(reminderID)); err != nil {
			return err
		}
		return put(tx.Bucket(bucketReminders), reminderID, reminder)
	})
	if err != nil {
		return nil, err
	}
	return reminder, nil
}

func (s *BoltStore) DeleteReminder(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		reminder, err := getReminder(tx, id)
		if err != nil {
			return err
		}
		if reminder.JobID != "" {
			if err := tx.Bucket(bucketReminderJobs).Delete([]byte(reminder.JobID)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketReminders).Delete([]byte(id))
	})
}

// Agent state operations

// AppendAgentState assigns the next sequence number of the state's stream,
// persists it and, for task-bound states, appends it to the task's
// ExecutionStatus. All three happen in one write transaction, so concurrent
// writers on the same stream never observe or produce a duplicate sequence.
func (s *BoltStore) AppendAgentState(state *types.AgentState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var task *types.Task
		if state.TaskID != "" {
			data := tx.Bucket(bucketTasks).Get([]byte(state.TaskID))
			if data == nil {
				return notFound("task", state.TaskID)
			}
			task = &types.Task{}
			if err := json.Unmarshal(data, task); err != nil {
				return err
			}
		}

		stream, err := tx.Bucket(bucketAgentStates).CreateBucketIfNotExists([]byte(StreamKey(state.TaskID, state.MessageID)))
		if err != nil {
			return err
		}

		seq, err := stream.NextSequence()
		if err != nil {
			return err
		}

		if state.ID == "" {
			state.ID = uuid.New().String()
		}
		if state.Timestamp.IsZero() {
			state.Timestamp = time.Now()
		}
		state.Sequence = seq

		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		if err := stream.Put(itob(seq), data); err != nil {
			return err
		}

		if task != nil {
			task.ExecutionStatus = append(task.ExecutionStatus, state.ID)
			return put(tx.Bucket(bucketTasks), task.ID, task)
		}
		return nil
	})
}

// ListAgentStates returns a stream's states in sequence order
func (s *BoltStore) ListAgentStates(taskID, messageID string) ([]*types.AgentState, error) {
	var states []*types.AgentState
	err := s.db.View(func(tx *bolt.Tx) error {
		stream := tx.Bucket(bucketAgentStates).Bucket([]byte(StreamKey(taskID, messageID)))
		if stream == nil {
			return nil
		}
		return stream.ForEach(func(k, v []byte) error {
			var state types.AgentState
			if err := json.Unmarshal(v, &state); err != nil {
				return err
			}
			states = append(states, &state)
			return nil
		})
	})
	return states, err
}

// Chat message operations

func (s *BoltStore) AppendChatMessage(msg *types.ChatMessage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return appendChatMessage(tx, msg)
	})
}

func appendChatMessage(tx *bolt.Tx, msg *types.ChatMessage) error {
	chat, err := tx.Bucket(bucketChats).CreateBucketIfNotExists([]byte(msg.ChatID))
	if err != nil {
		return err
	}
	seq, err := chat.NextSequence()
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return chat.Put(itob(seq), data)
}

// ReplaceLastUserMessage overwrites the chat's last message with msg when
// that message was written by the user; otherwise msg is appended.
func (s *BoltStore) ReplaceLastUserMessage(msg *types.ChatMessage) (bool, error) {
	replaced := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		chat := tx.Bucket(bucketChats).Bucket([]byte(msg.ChatID))
		if chat != nil {
			k, v := chat.Cursor().Last()
			if k != nil {
				var last types.ChatMessage
				if err := json.Unmarshal(v, &last); err != nil {
					return err
				}
				if last.Role == types.RoleUser {
					if msg.ID == "" {
						msg.ID = last.ID
					}
					if msg.CreatedAt.IsZero() {
						msg.CreatedAt = time.Now()
					}
					data, err := json.Marshal(msg)
					if err != nil {
						return err
					}
					replaced = true
					return chat.Put(k, data)
				}
			}
		}
		return appendChatMessage(tx, msg)
	})
	return replaced, err
}

func (s *BoltStore) ListChatMessages(chatID string) ([]*types.ChatMessage, error) {
	var msgs []*types.ChatMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		chat := tx.Bucket(bucketChats).Bucket([]byte(chatID))
		if chat == nil {
			return nil
		}
		return chat.ForEach(func(k, v []byte) error {
			var msg types.ChatMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			msgs = append(msgs, &msg)
			return nil
		})
	})
	return msgs, err
}

// Profile operations
func (s *BoltStore) GetProfile(userID string) (*types.UserProfile, error) {
	var profile types.UserProfile
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProfiles).Get([]byte(userID))
		if data == nil {
			return notFound("profile", userID)
		}
		return json.Unmarshal(data, &profile)
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *BoltStore) PutProfile(profile *types.UserProfile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketProfiles), profile.UserID, profile)
	})
}

// Device operations
func (s *BoltStore) RegisterDevice(device *types.Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		user, err := tx.Bucket(bucketDevices).CreateBucketIfNotExists([]byte(device.UserID))
		if err != nil {
			return err
		}
		return put(user, device.Token, device)
	})
}

func (s *BoltStore) ListDevices(userID string) ([]*types.Device, error) {
	var devices []*types.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		user := tx.Bucket(bucketDevices).Bucket([]byte(userID))
		if user == nil {
			return nil
		}
		return user.ForEach(func(k, v []byte) error {
			var device types.Device
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			devices = append(devices, &device)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) RemoveDevice(userID, token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		user := tx.Bucket(bucketDevices).Bucket([]byte(userID))
		if user == nil {
			return nil
		}
		return user.Delete([]byte(token))
	})
}
