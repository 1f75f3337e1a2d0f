// Package board holds the Kanban board model shared by the server and the
// client adapter.
package board

import "container/list"

// Status is the workflow state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// ColumnKey names a board column.
type ColumnKey string

const (
	ColumnBacklog    ColumnKey = "backlog"
	ColumnInProgress ColumnKey = "in_progress"
	ColumnReview     ColumnKey = "review"
	ColumnDone       ColumnKey = "done"
)

// ColumnKeys lists the columns in display order.
var ColumnKeys = []ColumnKey{ColumnBacklog, ColumnInProgress, ColumnReview, ColumnDone}

var statusColumns = map[Status]ColumnKey{
	StatusPending:    ColumnBacklog,
	StatusInProgress: ColumnInProgress,
	StatusReview:     ColumnReview,
	StatusDone:       ColumnDone,
}

var columnStatuses = map[ColumnKey]Status{
	ColumnBacklog:    StatusPending,
	ColumnInProgress: StatusInProgress,
	ColumnReview:     StatusReview,
	ColumnDone:       StatusDone,
}

// Task is the board view of a task.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Status      Status `json:"status"`
}

// Columns is the wire shape of a board: every column key mapped to its tasks.
type Columns map[ColumnKey][]Task

// ColumnFor maps a status to its column. Unknown statuses map to the backlog
// and ok is false so the caller can report them.
func ColumnFor(s Status) (key ColumnKey, ok bool) {
	key, ok = statusColumns[s]
	if !ok {
		return ColumnBacklog, false
	}
	return key, true
}

// StatusFor is the inverse of ColumnFor.
func StatusFor(key ColumnKey) (Status, bool) {
	s, ok := columnStatuses[key]
	return s, ok
}

// ValidStatus reports whether s is one of the known statuses.
func ValidStatus(s Status) bool {
	_, ok := statusColumns[s]
	return ok
}

// EmptyColumns returns a Columns value with every key present and no tasks.
func EmptyColumns() Columns {
	cols := make(Columns, len(ColumnKeys))
	for _, key := range ColumnKeys {
		cols[key] = []Task{}
	}
	return cols
}

type entry struct {
	task   Task
	column ColumnKey
}

// Board is an indexed board. Moving a task touches only the two columns
// involved. Board is not safe for concurrent use.
type Board struct {
	index   map[string]*list.Element
	columns map[ColumnKey]*list.List
}

// New returns an empty board.
func New() *Board {
	b := &Board{
		index:   make(map[string]*list.Element),
		columns: make(map[ColumnKey]*list.List, len(ColumnKeys)),
	}
	for _, key := range ColumnKeys {
		b.columns[key] = list.New()
	}
	return b
}

// FromColumns builds a board from its wire shape.
func FromColumns(cols Columns) *Board {
	b := New()
	b.Replace(cols)
	return b
}

// Apply places task in the column for its status, removing it from wherever it
// was. A task that stays in its column keeps its position. known is false when
// the status was not recognised and the task went to the backlog.
func (b *Board) Apply(task Task) (column ColumnKey, known bool) {
	column, known = ColumnFor(task.Status)

	if el, ok := b.index[task.ID]; ok {
		e := el.Value.(*entry)
		if e.column == column {
			e.task = task
			return column, known
		}
		b.columns[e.column].Remove(el)
	}

	b.index[task.ID] = b.columns[column].PushBack(&entry{task: task, column: column})
	return column, known
}

// Remove deletes a task. It reports whether the task was present.
func (b *Board) Remove(id string) bool {
	el, ok := b.index[id]
	if !ok {
		return false
	}
	b.columns[el.Value.(*entry).column].Remove(el)
	delete(b.index, id)
	return true
}

// Get returns a task by id.
func (b *Board) Get(id string) (Task, bool) {
	el, ok := b.index[id]
	if !ok {
		return Task{}, false
	}
	return el.Value.(*entry).task, true
}

// Replace discards the current content and loads cols. Tasks take the status of
// the column they are listed in; unknown columns are ignored and a task listed
// twice keeps its first position.
func (b *Board) Replace(cols Columns) {
	b.index = make(map[string]*list.Element)
	for _, key := range ColumnKeys {
		b.columns[key].Init()
	}

	for _, key := range ColumnKeys {
		status, _ := StatusFor(key)
		for _, t := range cols[key] {
			if _, dup := b.index[t.ID]; dup {
				continue
			}
			t.Status = status
			b.index[t.ID] = b.columns[key].PushBack(&entry{task: t, column: key})
		}
	}
}

// Columns returns a snapshot of the board in its wire shape.
func (b *Board) Columns() Columns {
	cols := make(Columns, len(ColumnKeys))
	for _, key := range ColumnKeys {
		l := b.columns[key]
		tasks := make([]Task, 0, l.Len())
		for el := l.Front(); el != nil; el = el.Next() {
			tasks = append(tasks, el.Value.(*entry).task)
		}
		cols[key] = tasks
	}
	return cols
}

// Len returns the number of tasks on the board.
func (b *Board) Len() int {
	return len(b.index)
}
