package database

import (
	"context"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/database/query"
	"github.com/victorgomez09/suivi/internal/version"
	work "github.com/victorgomez09/suivi/internal/work/models"
)

const taskColumns = `
    t.id, t.title, t.description, t.assignee_id, t.created_by, t.branch_id,
    t.status, t.priority, t.due_date, t.created_at, t.updated_at, t.version`

var taskSearch = query.NewBuilder(map[string]query.Column{
	"id":          {Name: "t.id", Int: true},
	"title":       {Name: "t.title"},
	"description": {Name: "t.description"},
	"assignee_id": {Name: "t.assignee_id", Int: true},
	"created_by":  {Name: "t.created_by", Int: true},
	"branch_id":   {Name: "t.branch_id", Int: true},
	"status":      {Name: "t.status"},
	"priority":    {Name: "t.priority"},
	"due_date":    {Name: "t.due_date"},
	"created_at":  {Name: "t.created_at", Int: true},
	"updated_at":  {Name: "t.updated_at", Int: true},
}, "-updated_at")

func scanTask(row scanner) (*work.Task, error) {
	var (
		t                    work.Task
		createdAt, updatedAt int64
		counter              int64
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.AssigneeID, &t.CreatedBy, &t.BranchID,
		&t.Status, &t.Priority, &t.DueDate, &createdAt, &updatedAt, &counter)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	t.Version = version.FromCounter(uint64(counter))
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, t *work.Task) (*work.Task, error) {
	now := millis(s.now())
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO tasks (
            title, description, assignee_id, created_by, branch_id, status, priority,
            due_date, created_at, updated_at, version
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, t.Title, t.Description, t.AssigneeID, t.CreatedBy, t.BranchID, string(t.Status), string(t.Priority),
		t.DueDate, now, now, int64(version.Initial))
	if err != nil {
		return nil, mapErr(err, "task")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apierr.Store(err)
	}
	return s.TaskByID(ctx, id)
}

func (s *Store) TaskByID(ctx context.Context, id int64) (*work.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks t WHERE t.id = ?", id))
	if err != nil {
		return nil, mapErr(err, "task")
	}
	return t, nil
}

// TaskFields are the editable attributes of a task.
type TaskFields struct {
	Title       string
	Description string
	AssigneeID  int64
	BranchID    int64
	Priority    work.Priority
	DueDate     string
}

func (s *Store) UpdateTask(ctx context.Context, id int64, expected version.Token, f TaskFields) (version.Token, error) {
	return s.updateVersioned(ctx, s.db, tableTasks, id, expected,
		set("title", f.Title),
		set("description", f.Description),
		set("assignee_id", f.AssigneeID),
		set("branch_id", f.BranchID),
		set("priority", string(f.Priority)),
		set("due_date", f.DueDate),
	)
}

func (s *Store) SetTaskStatus(ctx context.Context, id int64, expected version.Token, status work.TaskStatus) (version.Token, error) {
	return s.updateVersioned(ctx, s.db, tableTasks, id, expected, set("status", string(status)))
}

func (s *Store) SearchTasks(ctx context.Context, search query.Search, scope ...query.Condition) ([]*work.Task, error) {
	clause, err := taskSearch.Build(search, scope...)
	if err != nil {
		return nil, err
	}
	tail, args := clause.SQL()

	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks t"+tail, args...)
	if err != nil {
		return nil, apierr.Store(err)
	}
	defer rows.Close()

	var out []*work.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apierr.Store(err)
		}
		out = append(out, t)
	}
	return out, apierr.Store(rows.Err())
}
