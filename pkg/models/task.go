package models

// Default status / priority for new tasks
const (
	DefaultTaskStatusID   = 1
	DefaultTaskPriorityID = 2
	DoneTaskStatusID      = 4
)

// Task is a typed view over a tasks record
type Task struct {
	Record
}

// AsTask wraps a record
func AsTask(r Record) Task { return Task{Record: r} }

func (t Task) CreatedBy() int64 {
	id, _ := t.Int("created_by")
	return id
}

// AssignedTo returns the assignee; ok is false when unassigned
func (t Task) AssignedTo() (int64, bool) {
	id, ok := t.Int("assigned_to")
	return id, ok && id > 0
}

func (t Task) StatusID() int64 {
	id, _ := t.Int("status_id")
	return id
}

func (t Task) Done() bool { return t.StatusID() == DoneTaskStatusID }

func (t Task) TeamID() int64 {
	id, _ := t.Int("team_id")
	return id
}

// InvolvesUser reports whether the user created or is assigned to the task
func (t Task) InvolvesUser(userID int64) bool {
	if t.CreatedBy() == userID {
		return true
	}
	assignee, ok := t.AssignedTo()
	return ok && assignee == userID
}

// TaskStatusSeed is the initial content of task_statuses
var TaskStatusSeed = []Record{
	{"id": 0, "name": "No status", "color": "#8E8E93", "description": "Status not assigned"},
	{"id": 1, "name": "Pending", "color": "#FF9500", "description": "Task is waiting to be started"},
	{"id": 2, "name": "In progress", "color": "#007AFF", "description": "Task is being worked on"},
	{"id": 3, "name": "In review", "color": "#5856D6", "description": "Task is under review"},
	{"id": 4, "name": "Done", "color": "#34C759", "description": "Task is completed"},
	{"id": 5, "name": "Cancelled", "color": "#FF3B30", "description": "Task was cancelled"},
}

// TaskPrioritySeed is the initial content of task_priorities
var TaskPrioritySeed = []Record{
	{"id": 0, "name": "No priority", "color": "#8E8E93", "level": 0, "description": "Priority not assigned"},
	{"id": 1, "name": "Low", "color": "#34C759", "level": 1, "description": "Can be done in spare time"},
	{"id": 2, "name": "Medium", "color": "#FF9500", "level": 2, "description": "Regular order of work"},
	{"id": 3, "name": "High", "color": "#FF3B30", "level": 3, "description": "Needs attention first"},
}
