// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gstream/gstream/structs"
)

// requireQuery extracts a mandatory query parameter.
func requireQuery(req *http.Request, name string) (string, error) {
	value := req.URL.Query().Get(name)
	if value == "" {
		return "", CodedError(http.StatusBadRequest, "Missing parameter: "+name)
	}
	return value, nil
}

// readTaskState resolves task_id to its state. Any lookup failure is
// reported as the task not existing; expired keys and absent keys look
// the same to clients.
func (s *HTTPServer) readTaskState(req *http.Request) (*structs.TaskState, error) {
	taskID, err := requireQuery(req, "task_id")
	if err != nil {
		return nil, err
	}
	state, err := s.store.GetTaskState(req.Context(), taskID)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, "Task not found")
	}
	return state, nil
}

// checkFinished guards the result-facing endpoints.
func (s *HTTPServer) checkFinished(state *structs.TaskState) error {
	if state.Status != structs.TaskStatusFinished {
		return CodedError(http.StatusBadRequest,
			fmt.Sprintf("Task is has status - %s (not finished!)", state.Status))
	}
	if !s.files.IsFileExist(state.OutputArgsFilename) {
		return CodedError(http.StatusBadRequest, "Task has not output filename")
	}
	return nil
}

// createTaskRequest registers a new task and returns its id. The
// per-user cap is strict: a user already holding more tasks than the cap
// is turned away.
func (s *HTTPServer) createTaskRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	userID, err := requireQuery(req, "user_id")
	if err != nil {
		return nil, err
	}
	taskType, err := requireQuery(req, "task_type")
	if err != nil {
		return nil, err
	}

	taskIDs, err := s.store.UserTaskIDs(req.Context(), userID)
	if err != nil {
		return nil, err
	}
	if len(taskIDs) > s.config.maxUserTasks() {
		return nil, CodedError(http.StatusTooManyRequests, "Too many requests. Try again later.")
	}

	state, err := structs.NewTaskState(userID, structs.TaskType(taskType))
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.AddTask(req.Context(), state); err != nil {
		return nil, err
	}
	return state.TaskID, nil
}

// taskStateResponse is the state record plus the identity fields, which
// live in the store key rather than the stored JSON blob.
type taskStateResponse struct {
	UserID string `json:"UserID"`
	TaskID string `json:"TaskID"`
	*structs.TaskState
}

func (s *HTTPServer) taskStateRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	state, err := s.readTaskState(req)
	if err != nil {
		return nil, err
	}
	return &taskStateResponse{
		UserID:    state.UserID,
		TaskID:    state.TaskID,
		TaskState: state,
	}, nil
}

// loadArgsRequest stores the task's input blob and, for task types with
// a launcher template, materializes the launcher script.
func (s *HTTPServer) loadArgsRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	state, err := s.readTaskState(req)
	if err != nil {
		return nil, err
	}

	maxBytes := s.config.maxInputBytes()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBytes+1))
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, "Failed to read request body")
	}
	if int64(len(body)) > maxBytes {
		return nil, CodedError(http.StatusRequestEntityTooLarge, "Too large parameter bytes size")
	}
	if state.Status != structs.TaskStatusNew {
		return nil, CodedError(http.StatusBadRequest,
			fmt.Sprintf("Task has status %s", state.Status))
	}

	if err := s.files.SaveBinaryData(body, state.InputArgsFilename); err != nil {
		return nil, err
	}
	if err := s.store.AddLogMessage(req.Context(), state.TaskID, "Input arguments was loaded."); err != nil {
		return nil, err
	}

	if script, ok := LauncherScript(state.Type, state.TaskID); ok {
		if err := s.files.SaveScript(script, state.ScriptFilename); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// runTaskRequest flips a fully prepared task to ready, handing it to the
// scheduler.
func (s *HTTPServer) runTaskRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	state, err := s.readTaskState(req)
	if err != nil {
		return nil, err
	}
	if state.Status != structs.TaskStatusNew {
		return nil, CodedError(http.StatusBadRequest,
			fmt.Sprintf("Task is has status - %s not new", state.Status))
	}
	if !s.files.IsFileExist(state.InputArgsFilename) {
		return nil, CodedError(http.StatusBadRequest, "Task has not input args file")
	}
	if !s.files.IsFileExist(state.ScriptFilename) {
		return nil, CodedError(http.StatusInternalServerError, "Task has not running script")
	}

	state.Status = structs.TaskStatusReady
	if err := s.store.UpdateTaskState(req.Context(), state.TaskID, state); err != nil {
		return nil, err
	}
	return nil, nil
}

// killTaskRequest records a kill intent; the scheduler enacts it.
func (s *HTTPServer) killTaskRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	state, err := s.readTaskState(req)
	if err != nil {
		return nil, err
	}

	state.IsNeedKill = true
	if err := s.store.UpdateTaskState(req.Context(), state.TaskID, state); err != nil {
		return nil, err
	}
	return nil, nil
}

// acceptTaskRequest marks the result as received; the scheduler then
// garbage-collects the task.
func (s *HTTPServer) acceptTaskRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	state, err := s.readTaskState(req)
	if err != nil {
		return nil, err
	}
	if err := s.checkFinished(state); err != nil {
		return nil, err
	}

	state.IsAccepted = true
	if err := s.store.UpdateTaskState(req.Context(), state.TaskID, state); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *HTTPServer) taskLogRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	state, err := s.readTaskState(req)
	if err != nil {
		return nil, err
	}
	text, err := s.store.GetLog(req.Context(), state.TaskID)
	if err != nil {
		return nil, err
	}
	return text, nil
}

func (s *HTTPServer) taskResultRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	state, err := s.readTaskState(req)
	if err != nil {
		return nil, err
	}
	if err := s.checkFinished(state); err != nil {
		return nil, err
	}

	data, err := s.files.GetBinaryData(state.OutputArgsFilename)
	if err != nil {
		return nil, err
	}
	resp.Header().Set("Content-Type", "application/octet-stream")
	resp.Write(data)
	return nil, nil
}

func (s *HTTPServer) pingRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	return "Service is alive", nil
}
