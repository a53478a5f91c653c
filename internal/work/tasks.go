package work

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/database"
	"github.com/victorgomez09/suivi/internal/database/query"
	"github.com/victorgomez09/suivi/internal/version"
	work "github.com/victorgomez09/suivi/internal/work/models"
)

const dateLayout = "2006-01-02"

// TaskInput carries the editable attributes of a task.
type TaskInput struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	AssigneeID  int64         `json:"assignee_id"`
	Priority    work.Priority `json:"priority"`
	DueDate     string        `json:"due_date"`
}

func (in *TaskInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return apierr.Validation("title is required")
	}
	if len(in.Title) > 200 {
		return apierr.Validation("title must be at most 200 characters")
	}
	if in.Priority == "" {
		in.Priority = work.PriorityNormal
	}
	if !in.Priority.Valid() {
		return apierr.Validation("unknown priority %q", in.Priority)
	}
	if in.DueDate != "" {
		if _, err := time.Parse(dateLayout, in.DueDate); err != nil {
			return apierr.Validation("due_date must be YYYY-MM-DD")
		}
	}
	return nil
}

// canAssign reports whether actor may give work to assigneeID.
func (s *Service) canAssign(ctx context.Context, actor *models.Session, assigneeID int64) (bool, error) {
	if actor.IsAdmin() || assigneeID == actor.IdentityID {
		return true, nil
	}
	return s.supervises(ctx, actor, assigneeID)
}

func (s *Service) CreateTask(ctx context.Context, actor *models.Session, in TaskInput) (*work.Task, error) {
	if actor == nil {
		return nil, apierr.ErrUnauthenticated
	}
	if in.AssigneeID == 0 {
		in.AssigneeID = actor.IdentityID
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	ok, err := s.canAssign(ctx, actor, in.AssigneeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.New(apierr.KindForbidden, "you cannot assign work to this person")
	}

	assignee, err := s.assignee(ctx, in.AssigneeID)
	if err != nil {
		return nil, err
	}

	task, err := s.store.CreateTask(ctx, &work.Task{
		Title:       in.Title,
		Description: in.Description,
		AssigneeID:  in.AssigneeID,
		CreatedBy:   actor.IdentityID,
		BranchID:    assignee.BranchID,
		Status:      work.TaskTodo,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Task created",
		zap.Int64("task_id", task.ID),
		zap.Int64("assignee_id", task.AssigneeID),
		zap.Int64("created_by", task.CreatedBy))
	if task.AssigneeID != actor.IdentityID {
		s.notify(ctx, task.AssigneeID, work.NotifyTaskAssigned,
			"New task: "+task.Title,
			fmt.Sprintf("%s assigned you a task.", actor.DisplayName))
	}
	return task, nil
}

// assignee loads the identity work is assigned to. Missing and inactive identities cannot
// receive work.
func (s *Service) assignee(ctx context.Context, identityID int64) (*models.Identity, error) {
	a, err := s.store.IdentityByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			return nil, apierr.Validation("assignee does not exist")
		}
		return nil, err
	}
	if !a.IsActive() {
		return nil, apierr.Validation("assignee is inactive")
	}
	return a, nil
}

// visibleTask loads a task and checks that actor may see it.
func (s *Service) visibleTask(ctx context.Context, actor *models.Session, id int64) (*work.Task, error) {
	if actor == nil {
		return nil, apierr.ErrUnauthenticated
	}
	t, err := s.store.TaskByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() || t.AssigneeID == actor.IdentityID || t.CreatedBy == actor.IdentityID {
		return t, nil
	}
	ok, err := s.supervises(ctx, actor, t.AssigneeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "task not found")
	}
	return t, nil
}

func (s *Service) GetTask(ctx context.Context, actor *models.Session, id int64) (*work.Task, error) {
	return s.visibleTask(ctx, actor, id)
}

// UpdateTask edits a task. Only its creator, the assignee's supervisor or an administrator may
// edit; the assignee alone may only change the status.
func (s *Service) UpdateTask(ctx context.Context, actor *models.Session, id int64, expected version.Token, in TaskInput) (version.Token, error) {
	t, err := s.visibleTask(ctx, actor, id)
	if err != nil {
		return version.Token{}, err
	}
	if in.AssigneeID == 0 {
		in.AssigneeID = t.AssigneeID
	}
	if err := in.normalize(); err != nil {
		return version.Token{}, err
	}

	allowed := actor.IsAdmin() || t.CreatedBy == actor.IdentityID
	if !allowed {
		if allowed, err = s.supervises(ctx, actor, t.AssigneeID); err != nil {
			return version.Token{}, err
		}
	}
	if !allowed {
		return version.Token{}, apierr.New(apierr.KindForbidden, "only the creator or a supervisor can edit this task")
	}

	branchID := t.BranchID
	if in.AssigneeID != t.AssigneeID {
		ok, err := s.canAssign(ctx, actor, in.AssigneeID)
		if err != nil {
			return version.Token{}, err
		}
		if !ok {
			return version.Token{}, apierr.New(apierr.KindForbidden, "you cannot assign work to this person")
		}
		a, err := s.assignee(ctx, in.AssigneeID)
		if err != nil {
			return version.Token{}, err
		}
		branchID = a.BranchID
	}

	next, err := s.store.UpdateTask(ctx, id, expected, database.TaskFields{
		Title:       in.Title,
		Description: in.Description,
		AssigneeID:  in.AssigneeID,
		BranchID:    branchID,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
	})
	if err != nil {
		s.logConflict(err, "task", id)
		return version.Token{}, err
	}

	if in.AssigneeID != t.AssigneeID && in.AssigneeID != actor.IdentityID {
		s.notify(ctx, in.AssigneeID, work.NotifyTaskAssigned,
			"New task: "+in.Title,
			fmt.Sprintf("%s assigned you a task.", actor.DisplayName))
	}
	return next, nil
}

// ChangeTaskStatus moves a task to status. The assignee, the creator, the assignee's supervisor
// and administrators may do so.
func (s *Service) ChangeTaskStatus(ctx context.Context, actor *models.Session, id int64, expected version.Token, status work.TaskStatus) (version.Token, error) {
	if !status.Valid() {
		return version.Token{}, apierr.Validation("unknown task status %q", status)
	}
	if _, err := s.visibleTask(ctx, actor, id); err != nil {
		return version.Token{}, err
	}
	next, err := s.store.SetTaskStatus(ctx, id, expected, status)
	if err != nil {
		s.logConflict(err, "task", id)
		return version.Token{}, err
	}
	s.logger.Debug("Task status changed", zap.Int64("task_id", id), zap.String("status", string(status)))
	return next, nil
}

// SearchTasks lists the tasks visible to actor matching search.
func (s *Service) SearchTasks(ctx context.Context, actor *models.Session, search query.Search) ([]*work.Task, error) {
	if actor == nil {
		return nil, apierr.ErrUnauthenticated
	}
	var scope []query.Condition
	switch {
	case actor.IsAdmin():
	case actor.CanSupervise():
		scope = append(scope, query.Condition{
			SQL:  "(t.assignee_id = ? OR t.created_by = ? OR t.assignee_id IN (SELECT id FROM identities WHERE supervisor_id = ?))",
			Args: []any{actor.IdentityID, actor.IdentityID, actor.IdentityID},
		})
	default:
		scope = append(scope, query.Condition{
			SQL:  "(t.assignee_id = ? OR t.created_by = ?)",
			Args: []any{actor.IdentityID, actor.IdentityID},
		})
	}
	out, err := s.store.SearchTasks(ctx, search, scope...)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*work.Task{}
	}
	return out, nil
}

func isConflict(err error) bool {
	return errors.Is(err, apierr.ErrConflict)
}
