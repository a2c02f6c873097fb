package models

import (
	"strconv"
	"time"
)

// Field names of an issue as they appear on the wire.
const (
	FieldID         = "_id"
	FieldTitle      = "issue_title"
	FieldText       = "issue_text"
	FieldCreatedBy  = "created_by"
	FieldAssignedTo = "assigned_to"
	FieldStatusText = "status_text"
	FieldCreatedOn  = "created_on"
	FieldUpdatedOn  = "updated_on"
	FieldOpen       = "open"
)

// Issue represents a tracked issue within a project.
type Issue struct {
	ID         string    `json:"_id"`
	Title      string    `json:"issue_title"`
	Text       string    `json:"issue_text"`
	CreatedBy  string    `json:"created_by"`
	AssignedTo string    `json:"assigned_to"`
	StatusText string    `json:"status_text"`
	CreatedOn  time.Time `json:"created_on"`
	UpdatedOn  time.Time `json:"updated_on"`
	Open       bool      `json:"open"`
}

// Field returns the wire string form of the named field.
// The second result is false for names that are not issue fields.
func (i *Issue) Field(name string) (string, bool) {
	switch name {
	case FieldID:
		return i.ID, true
	case FieldTitle:
		return i.Title, true
	case FieldText:
		return i.Text, true
	case FieldCreatedBy:
		return i.CreatedBy, true
	case FieldAssignedTo:
		return i.AssignedTo, true
	case FieldStatusText:
		return i.StatusText, true
	case FieldCreatedOn:
		return FormatTime(i.CreatedOn), true
	case FieldUpdatedOn:
		return FormatTime(i.UpdatedOn), true
	case FieldOpen:
		return strconv.FormatBool(i.Open), true
	default:
		return "", false
	}
}

// FormatTime renders a timestamp the way encoding/json does for time.Time.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// IssuePatch carries the fields an update may overwrite. Nil means unchanged;
// _id, created_on and updated_on are never patchable.
type IssuePatch struct {
	Title      *string
	Text       *string
	CreatedBy  *string
	AssignedTo *string
	StatusText *string
	Open       *bool
}

// Empty reports whether the patch changes nothing.
func (p IssuePatch) Empty() bool {
	return p.Title == nil && p.Text == nil && p.CreatedBy == nil &&
		p.AssignedTo == nil && p.StatusText == nil && p.Open == nil
}

// Apply merges the patch into the issue.
func (p IssuePatch) Apply(i *Issue) {
	if p.Title != nil {
		i.Title = *p.Title
	}
	if p.Text != nil {
		i.Text = *p.Text
	}
	if p.CreatedBy != nil {
		i.CreatedBy = *p.CreatedBy
	}
	if p.AssignedTo != nil {
		i.AssignedTo = *p.AssignedTo
	}
	if p.StatusText != nil {
		i.StatusText = *p.StatusText
	}
	if p.Open != nil {
		i.Open = *p.Open
	}
}
