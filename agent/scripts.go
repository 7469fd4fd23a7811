// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"strings"

	"github.com/gstream/gstream/structs"
)

const taskIDPlaceholder = "[task-id]"

// delaysLauncherTemplate is the launcher materialized at load-args time
// for delays tasks. The scheduler spawns it verbatim; it execs the worker
// for its task id.
const delaysLauncherTemplate = `#!/bin/sh
exec gstream worker -task-id [task-id]
`

var launcherTemplates = map[structs.TaskType]string{
	structs.TaskTypeDelays: delaysLauncherTemplate,
}

// LauncherScript renders the launcher script for a task, or false when
// the type has no template. Tasks of such types never become runnable.
func LauncherScript(taskType structs.TaskType, taskID string) (string, bool) {
	template, ok := launcherTemplates[taskType]
	if !ok {
		return "", false
	}
	return strings.ReplaceAll(template, taskIDPlaceholder, taskID), true
}
