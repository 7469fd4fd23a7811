// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package store implements the task state store on a TTL-bounded key/value
// protocol. The key layout is colon-delimited and hierarchical:
//
//	User:{user_id}:Task:{task_id}:State                -> JSON task record
//	User:{user_id}:Task:{task_id}:InputArgumentsFilename
//	User:{user_id}:Task:{task_id}:ScriptFilename
//	User:{user_id}:Task:{task_id}:OutputArgumentsFilename
//	User:{user_id}:Task:{task_id}:InitScriptFilename
//	Log:{task_id}                                      -> append-only text
//
// Every key carries a TTL so a crashed writer leaves nothing behind once
// the reconciliation loop has pruned the matching files.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"
	"github.com/gstream/gstream/structs"
	"oss.indeed.com/go/libtime"
)

const (
	// DefaultTTL bounds the lifetime of every task key.
	DefaultTTL = 3 * time.Hour

	// LogNotFound is the literal returned for a missing task log.
	LogNotFound = "Log not found"

	// logTimeFormat prefixes every appended log line.
	logTimeFormat = "2006-01-02 15:04:05"
)

// key name suffixes under User:{user}:Task:{task}:
const (
	keyState              = "State"
	keyInputArgsFilename  = "InputArgumentsFilename"
	keyScriptFilename     = "ScriptFilename"
	keyOutputArgsFilename = "OutputArgumentsFilename"
	keyInitScriptFilename = "InitScriptFilename"
)

// Config configures a Store.
type Config struct {
	Logger hclog.Logger
	Clock  libtime.Clock

	// TTL applied to every written key. Defaults to DefaultTTL.
	TTL time.Duration
}

// Store is the task state store.
type Store struct {
	kv     KV
	ttl    time.Duration
	clock  libtime.Clock
	logger hclog.Logger
}

// New wraps a KV into a task store.
func New(kv KV, cfg *Config) *Store {
	if cfg == nil {
		cfg = &Config{}
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = libtime.SystemClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{
		kv:     kv,
		ttl:    ttl,
		clock:  clock,
		logger: logger.Named("store"),
	}
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.kv.Close()
}

func taskKeyPrefix(userID, taskID string) string {
	return fmt.Sprintf("User:%s:Task:%s", userID, taskID)
}

func logKey(taskID string) string {
	return "Log:" + taskID
}

// taskIDFromKey pulls the task id out of a User:{u}:Task:{t}:... key.
func taskIDFromKey(key string) (string, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 || parts[0] != "User" || parts[2] != "Task" {
		return "", false
	}
	return parts[3], true
}

// userIDFromKey pulls the user id out of a User:{u}:Task:{t}:... key.
func userIDFromKey(key string) (string, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 || parts[0] != "User" || parts[2] != "Task" {
		return "", false
	}
	return parts[1], true
}

func (s *Store) formatLogLine(message string) string {
	return fmt.Sprintf("[%s] %s\n", s.clock.Now().Format(logTimeFormat), message)
}

// IsTaskExist reports whether any key belongs to the task.
func (s *Store) IsTaskExist(ctx context.Context, taskID string) (bool, error) {
	keys, err := s.kv.Keys(ctx, fmt.Sprintf("*Task:%s:*", taskID))
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// AddTask writes a fresh task record and all of its keys, stamps the TTL
// and opens the task log. Fails if the task id is taken.
func (s *Store) AddTask(ctx context.Context, state *structs.TaskState) error {
	exists, err := s.IsTaskExist(ctx, state.TaskID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", structs.ErrTaskExists, state.TaskID)
	}

	state.Touch(s.clock.Now())
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}

	prefix := taskKeyPrefix(state.UserID, state.TaskID)
	pairs := map[string]string{
		prefix + ":" + keyState:              string(blob),
		prefix + ":" + keyInputArgsFilename:  state.InputArgsFilename,
		prefix + ":" + keyScriptFilename:     state.ScriptFilename,
		prefix + ":" + keyOutputArgsFilename: state.OutputArgsFilename,
		prefix + ":" + keyInitScriptFilename: state.InitScriptFilename,
	}
	if err := s.kv.MSet(ctx, pairs); err != nil {
		return err
	}
	for key := range pairs {
		if err := s.kv.Expire(ctx, key, s.ttl); err != nil {
			return err
		}
	}

	s.logger.Debug("task created", "task_id", state.TaskID, "user_id", state.UserID, "type", state.Type)
	return s.AddLogMessage(ctx, state.TaskID, "Task was created")
}

// UpdateTaskState rewrites the JSON record, refreshing both the
// modification stamp and the TTL.
func (s *Store) UpdateTaskState(ctx context.Context, taskID string, state *structs.TaskState) error {
	keys, err := s.kv.Keys(ctx, fmt.Sprintf("*Task:%s:%s", taskID, keyState))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: %s", structs.ErrTaskNotFound, taskID)
	}

	state.Touch(s.clock.Now())
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, keys[0], string(blob), s.ttl); err != nil {
		return err
	}
	return s.AddLogMessage(ctx, taskID, "Task state was updated")
}

// GetTaskState reconstructs the full record, recovering the user id from
// the matched key.
func (s *Store) GetTaskState(ctx context.Context, taskID string) (*structs.TaskState, error) {
	keys, err := s.kv.Keys(ctx, fmt.Sprintf("*Task:%s:%s", taskID, keyState))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", structs.ErrTaskNotFound, taskID)
	}

	blob, ok, err := s.kv.Get(ctx, keys[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", structs.ErrTaskNotFound, taskID)
	}

	state := new(structs.TaskState)
	if err := json.Unmarshal([]byte(blob), state); err != nil {
		return nil, fmt.Errorf("task %s state: %w", taskID, err)
	}

	userID, ok := userIDFromKey(keys[0])
	if !ok {
		return nil, fmt.Errorf("%w: malformed key %q", structs.ErrTaskNotFound, keys[0])
	}
	state.UserID = userID
	state.TaskID = taskID
	return state, nil
}

// getFilenameKey reads one of the per-task filename keys.
func (s *Store) getFilenameKey(ctx context.Context, taskID, suffix string) (string, error) {
	keys, err := s.kv.Keys(ctx, fmt.Sprintf("*Task:%s:%s", taskID, suffix))
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: %s", structs.ErrTaskNotFound, taskID)
	}
	value, ok, err := s.kv.Get(ctx, keys[0])
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", structs.ErrTaskNotFound, taskID)
	}
	return value, nil
}

// TaskInputArgsFilename returns the input blob filename for the task.
func (s *Store) TaskInputArgsFilename(ctx context.Context, taskID string) (string, error) {
	return s.getFilenameKey(ctx, taskID, keyInputArgsFilename)
}

// TaskScriptFilename returns the launcher script filename for the task.
func (s *Store) TaskScriptFilename(ctx context.Context, taskID string) (string, error) {
	return s.getFilenameKey(ctx, taskID, keyScriptFilename)
}

// TaskOutputArgsFilename returns the result blob filename for the task.
func (s *Store) TaskOutputArgsFilename(ctx context.Context, taskID string) (string, error) {
	return s.getFilenameKey(ctx, taskID, keyOutputArgsFilename)
}

// TaskInitScriptFilename returns the init script filename for the task.
func (s *Store) TaskInitScriptFilename(ctx context.Context, taskID string) (string, error) {
	return s.getFilenameKey(ctx, taskID, keyInitScriptFilename)
}

// AddLogMessage appends a timestamped line to the task log, creating the
// log key with a TTL on first write.
func (s *Store) AddLogMessage(ctx context.Context, taskID, message string) error {
	line := s.formatLogLine(message)
	key := logKey(taskID)

	_, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return s.kv.Set(ctx, key, line, s.ttl)
	}
	return s.kv.Append(ctx, key, line)
}

// GetLog returns the stored log text, or the LogNotFound literal.
func (s *Store) GetLog(ctx context.Context, taskID string) (string, error) {
	text, ok, err := s.kv.Get(ctx, logKey(taskID))
	if err != nil {
		return "", err
	}
	if !ok {
		return LogNotFound, nil
	}
	return text, nil
}

// UserID recovers the owning user of a task from the key space.
func (s *Store) UserID(ctx context.Context, taskID string) (string, error) {
	keys, err := s.kv.Keys(ctx, fmt.Sprintf("*Task:%s*", taskID))
	if err != nil {
		return "", err
	}
	for _, key := range keys {
		keyTask, ok := taskIDFromKey(key)
		if !ok || keyTask != taskID {
			continue
		}
		if userID, ok := userIDFromKey(key); ok {
			return userID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", structs.ErrTaskNotFound, taskID)
}

// UserTaskIDs returns the task ids owned by a user.
func (s *Store) UserTaskIDs(ctx context.Context, userID string) ([]string, error) {
	keys, err := s.kv.Keys(ctx, fmt.Sprintf("User:%s:Task:*", userID))
	if err != nil {
		return nil, err
	}
	ids := set.New[string](len(keys))
	for _, key := range keys {
		if taskID, ok := taskIDFromKey(key); ok {
			ids.Insert(taskID)
		}
	}
	return ids.Slice(), nil
}

// AllTaskIDs enumerates every task known to the store.
func (s *Store) AllTaskIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, "*Task:*")
	if err != nil {
		return nil, err
	}
	ids := set.New[string](len(keys))
	for _, key := range keys {
		if taskID, ok := taskIDFromKey(key); ok {
			ids.Insert(taskID)
		}
	}
	return ids.Slice(), nil
}

// ActiveTaskIDs returns the tasks currently in status running.
func (s *Store) ActiveTaskIDs(ctx context.Context) ([]string, error) {
	taskIDs, err := s.AllTaskIDs(ctx)
	if err != nil {
		return nil, err
	}

	var active []string
	for _, taskID := range taskIDs {
		state, err := s.GetTaskState(ctx, taskID)
		if err != nil {
			// Keys can expire between the enumeration and the read.
			continue
		}
		if state.Status == structs.TaskStatusRunning {
			active = append(active, taskID)
		}
	}
	return active, nil
}

// AllFilenames returns the union of artifact filenames across all tasks.
func (s *Store) AllFilenames(ctx context.Context) (*set.Set[string], error) {
	taskIDs, err := s.AllTaskIDs(ctx)
	if err != nil {
		return nil, err
	}

	filenames := set.New[string](4 * len(taskIDs))
	for _, taskID := range taskIDs {
		state, err := s.GetTaskState(ctx, taskID)
		if err != nil {
			continue
		}
		filenames.InsertSlice(state.AllFilenames())
	}
	return filenames, nil
}

// ActiveUsers returns every user id present in the key space.
func (s *Store) ActiveUsers(ctx context.Context) (*set.Set[string], error) {
	keys, err := s.kv.Keys(ctx, "User:*")
	if err != nil {
		return nil, err
	}
	users := set.New[string](len(keys))
	for _, key := range keys {
		if userID, ok := userIDFromKey(key); ok {
			users.Insert(userID)
		}
	}
	return users, nil
}

// RemoveTask deletes the state record and the task log. The remaining
// per-task keys are left to expire under their TTL.
func (s *Store) RemoveTask(ctx context.Context, taskID string) error {
	keys, err := s.kv.Keys(ctx, fmt.Sprintf("*Task:%s:%s", taskID, keyState))
	if err != nil {
		return err
	}
	keys = append(keys, logKey(taskID))
	s.logger.Debug("removing task", "task_id", taskID)
	return s.kv.Delete(ctx, keys...)
}
