package models

import (
	"time"

	"github.com/victorgomez09/suivi/internal/version"
)

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone, TaskCancelled:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

type Task struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	AssigneeID  int64         `json:"assignee_id"`
	CreatedBy   int64         `json:"created_by"`
	BranchID    int64         `json:"branch_id"`
	Status      TaskStatus    `json:"status"`
	Priority    Priority      `json:"priority"`
	DueDate     string        `json:"due_date,omitempty"` // YYYY-MM-DD
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Version     version.Token `json:"version"`
}

type ReportStatus string

const (
	ReportDraft     ReportStatus = "draft"
	ReportSubmitted ReportStatus = "submitted"
	ReportApproved  ReportStatus = "approved"
	ReportRejected  ReportStatus = "rejected"
)

// Editable reports whether the author may still change the report.
func (s ReportStatus) Editable() bool {
	return s == ReportDraft || s == ReportRejected
}

// Report is a daily work report ("formulaire") reviewed by the author's supervisor.
type Report struct {
	ID            int64         `json:"id"`
	AuthorID      int64         `json:"author_id"`
	SupervisorID  *int64        `json:"supervisor_id,omitempty"`
	ReportDate    string        `json:"report_date"` // YYYY-MM-DD
	Summary       string        `json:"summary"`
	Content       string        `json:"content"`
	HoursWorked   float64       `json:"hours_worked"`
	Status        ReportStatus  `json:"status"`
	ReviewComment string        `json:"review_comment,omitempty"`
	ReviewedBy    *int64        `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time    `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Version       version.Token `json:"version"`
}

type NotificationKind string

const (
	NotifyTaskAssigned   NotificationKind = "task_assigned"
	NotifyReportSubmit   NotificationKind = "report_submitted"
	NotifyReportReviewed NotificationKind = "report_reviewed"
	NotifyAccountLocked  NotificationKind = "account_locked"
)

type Notification struct {
	ID         int64            `json:"id"`
	IdentityID int64            `json:"identity_id"`
	Kind       NotificationKind `json:"kind"`
	Title      string           `json:"title"`
	Body       string           `json:"body"`
	ReadAt     *time.Time       `json:"read_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
