package core

import "time"

// TaskStatus is the scheduling state of a task. TaskReady is never stored: a
// task is ready when it is pending and every dependency is completed.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskReady      TaskStatus = "ready"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is a schedulable work unit with dependencies on other tasks.
type Task struct {
	ID            string     `json:"id"`
	Dependencies  []string   `json:"dependencies,omitempty"`
	Status        TaskStatus `json:"status"`
	AssignedAgent string     `json:"assigned_agent,omitempty"`
	RetryCount    int        `json:"retry_count"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ClaimedAt     time.Time  `json:"claimed_at"`
	HeartbeatAt   time.Time  `json:"heartbeat_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TaskState keeps tasks in creation order.
type TaskState struct {
	Items []Task `json:"items,omitempty"`
}

// Index returns the position of the task with the given id, or -1.
func (t TaskState) Index(id string) int {
	for i := range t.Items {
		if t.Items[i].ID == id {
			return i
		}
	}
	return -1
}

func (t TaskState) clone() TaskState {
	if len(t.Items) == 0 {
		return TaskState{}
	}
	out := TaskState{Items: make([]Task, len(t.Items))}
	for i, task := range t.Items {
		task.Dependencies = append([]string(nil), task.Dependencies...)
		out.Items[i] = task
	}
	return out
}
