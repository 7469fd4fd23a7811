// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gstream/gstream/ci"
	"github.com/gstream/gstream/helper/testlog"
	"github.com/gstream/gstream/structs"
	"github.com/shoenig/test/must"
	"oss.indeed.com/go/libtime"
	"oss.indeed.com/go/libtime/libtimetest"
)

// testClock is a manually advanced clock shared by the store and its KV.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) clock(t *testing.T) libtime.Clock {
	return libtimetest.NewClockMock(t).NowMock.Set(c.Now)
}

func testStore(t *testing.T) (*Store, *testClock) {
	clock := newTestClock()
	kv := NewMemKVWithClock(clock.clock(t))
	s := New(kv, &Config{
		Logger: testlog.HCLogger(t),
		Clock:  clock.clock(t),
	})
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func addTestTask(t *testing.T, s *Store, userID string) *structs.TaskState {
	state, err := structs.NewTaskState(userID, structs.TaskTypeDelays)
	must.NoError(t, err)
	must.NoError(t, s.AddTask(context.Background(), state))
	return state
}

func TestStore_AddTask(t *testing.T) {
	ci.Parallel(t)
	s, _ := testStore(t)
	ctx := context.Background()

	state := addTestTask(t, s, "u1")

	exists, err := s.IsTaskExist(ctx, state.TaskID)
	must.NoError(t, err)
	must.True(t, exists)

	back, err := s.GetTaskState(ctx, state.TaskID)
	must.NoError(t, err)
	must.Eq(t, "u1", back.UserID)
	must.Eq(t, state.TaskID, back.TaskID)
	must.Eq(t, structs.TaskStatusNew, back.Status)
	must.Eq(t, state.InputArgsFilename, back.InputArgsFilename)

	log, err := s.GetLog(ctx, state.TaskID)
	must.NoError(t, err)
	must.StrContains(t, log, "Task was created")
}

func TestStore_AddTask_duplicate(t *testing.T) {
	ci.Parallel(t)
	s, _ := testStore(t)

	state := addTestTask(t, s, "u1")
	must.ErrorIs(t, s.AddTask(context.Background(), state), structs.ErrTaskExists)
}

func TestStore_GetTaskState_notFound(t *testing.T) {
	ci.Parallel(t)
	s, _ := testStore(t)

	_, err := s.GetTaskState(context.Background(), "nope")
	must.ErrorIs(t, err, structs.ErrTaskNotFound)
}

func TestStore_UpdateTaskState(t *testing.T) {
	ci.Parallel(t)
	s, clock := testStore(t)
	ctx := context.Background()

	state := addTestTask(t, s, "u1")
	created := state.ModifiedUnixTime

	clock.advance(3 * time.Second)
	state.Status = structs.TaskStatusReady
	must.NoError(t, s.UpdateTaskState(ctx, state.TaskID, state))

	back, err := s.GetTaskState(ctx, state.TaskID)
	must.NoError(t, err)
	must.Eq(t, structs.TaskStatusReady, back.Status)
	must.True(t, back.ModifiedUnixTime > created)

	log, err := s.GetLog(ctx, state.TaskID)
	must.NoError(t, err)
	must.StrContains(t, log, "Task state was updated")
}

func TestStore_UpdateTaskState_notFound(t *testing.T) {
	ci.Parallel(t)
	s, _ := testStore(t)

	state, err := structs.NewTaskState("u1", structs.TaskTypeDelays)
	must.NoError(t, err)
	must.ErrorIs(t, s.UpdateTaskState(context.Background(), state.TaskID, state),
		structs.ErrTaskNotFound)
}

func TestStore_filenameKeys(t *testing.T) {
	ci.Parallel(t)
	s, _ := testStore(t)
	ctx := context.Background()

	state := addTestTask(t, s, "u1")

	input, err := s.TaskInputArgsFilename(ctx, state.TaskID)
	must.NoError(t, err)
	must.Eq(t, state.InputArgsFilename, input)

	script, err := s.TaskScriptFilename(ctx, state.TaskID)
	must.NoError(t, err)
	must.Eq(t, state.ScriptFilename, script)

	output, err := s.TaskOutputArgsFilename(ctx, state.TaskID)
	must.NoError(t, err)
	must.Eq(t, state.OutputArgsFilename, output)

	initScript, err := s.TaskInitScriptFilename(ctx, state.TaskID)
	must.NoError(t, err)
	must.Eq(t, state.InitScriptFilename, initScript)

	_, err = s.TaskInitScriptFilename(ctx, "absent")
	must.ErrorIs(t, err, structs.ErrTaskNotFound)
}

func TestStore_log(t *testing.T) {
	ci.Parallel(t)
	s, clock := testStore(t)
	ctx := context.Background()

	log, err := s.GetLog(ctx, "absent")
	must.NoError(t, err)
	must.Eq(t, LogNotFound, log)

	state := addTestTask(t, s, "u1")

	clock.advance(time.Minute)
	must.NoError(t, s.AddLogMessage(ctx, state.TaskID, "Task running..."))

	log, err = s.GetLog(ctx, state.TaskID)
	must.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(log, "\n"), "\n")
	must.Len(t, 2, lines)
	must.StrContains(t, lines[0], "Task was created")
	must.StrContains(t, lines[1], "Task running...")
	must.StrContains(t, lines[1], "[2024-03-01 12:01:00] ")
}

func TestStore_enumerations(t *testing.T) {
	ci.Parallel(t)
	s, _ := testStore(t)
	ctx := context.Background()

	t1 := addTestTask(t, s, "u1")
	t2 := addTestTask(t, s, "u1")
	t3 := addTestTask(t, s, "u2")

	userID, err := s.UserID(ctx, t3.TaskID)
	must.NoError(t, err)
	must.Eq(t, "u2", userID)

	ids, err := s.UserTaskIDs(ctx, "u1")
	must.NoError(t, err)
	must.SliceContainsAll(t, []string{t1.TaskID, t2.TaskID}, ids)

	all, err := s.AllTaskIDs(ctx)
	must.NoError(t, err)
	must.SliceContainsAll(t, []string{t1.TaskID, t2.TaskID, t3.TaskID}, all)

	users, err := s.ActiveUsers(ctx)
	must.NoError(t, err)
	must.Eq(t, 2, users.Size())
	must.True(t, users.Contains("u1"))
	must.True(t, users.Contains("u2"))

	filenames, err := s.AllFilenames(ctx)
	must.NoError(t, err)
	must.Eq(t, 12, filenames.Size())
	must.True(t, filenames.Contains(t1.InputArgsFilename))
	must.True(t, filenames.Contains(t3.InitScriptFilename))
}

func TestStore_ActiveTaskIDs(t *testing.T) {
	ci.Parallel(t)
	s, _ := testStore(t)
	ctx := context.Background()

	t1 := addTestTask(t, s, "u1")
	t2 := addTestTask(t, s, "u1")

	t1.Status = structs.TaskStatusRunning
	t1.PID = 1234
	must.NoError(t, s.UpdateTaskState(ctx, t1.TaskID, t1))

	active, err := s.ActiveTaskIDs(ctx)
	must.NoError(t, err)
	must.Eq(t, []string{t1.TaskID}, active)
	must.SliceNotContains(t, active, t2.TaskID)
}

func TestStore_RemoveTask(t *testing.T) {
	ci.Parallel(t)
	s, _ := testStore(t)
	ctx := context.Background()

	state := addTestTask(t, s, "u1")
	must.NoError(t, s.RemoveTask(ctx, state.TaskID))

	_, err := s.GetTaskState(ctx, state.TaskID)
	must.ErrorIs(t, err, structs.ErrTaskNotFound)

	log, err := s.GetLog(ctx, state.TaskID)
	must.NoError(t, err)
	must.Eq(t, LogNotFound, log)
}

func TestStore_ttlExpiry(t *testing.T) {
	ci.Parallel(t)
	s, clock := testStore(t)
	ctx := context.Background()

	state := addTestTask(t, s, "u1")

	clock.advance(DefaultTTL - time.Minute)
	exists, err := s.IsTaskExist(ctx, state.TaskID)
	must.NoError(t, err)
	must.True(t, exists)

	clock.advance(2 * time.Minute)
	exists, err = s.IsTaskExist(ctx, state.TaskID)
	must.NoError(t, err)
	must.False(t, exists)
}
