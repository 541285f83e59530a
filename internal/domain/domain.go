package domain

// StateType classifies a state inside a template's workflow graph.
type StateType string

const (
	StateInitial      StateType = "initial"
	StateIntermediate StateType = "intermediate"
	StateFinal        StateType = "final"
)

// ResponsibleMode controls what happens to an issue's responsible user when
// the issue enters a state.
type ResponsibleMode string

const (
	ResponsibleKeep   ResponsibleMode = "keep"
	ResponsibleAssign ResponsibleMode = "assign"
	ResponsibleRemove ResponsibleMode = "remove"
)

// FieldType is the closed set of nine value types a field can carry.
type FieldType string

const (
	FieldCheckbox FieldType = "checkbox"
	FieldDate     FieldType = "date"
	FieldDecimal  FieldType = "decimal"
	FieldDuration FieldType = "duration"
	FieldIssue    FieldType = "issue"
	FieldList     FieldType = "list"
	FieldNumber   FieldType = "number"
	FieldString   FieldType = "string"
	FieldText     FieldType = "text"
)

// FieldTypes lists every member of the closed type set.
var FieldTypes = []FieldType{
	FieldCheckbox, FieldDate, FieldDecimal, FieldDuration, FieldIssue,
	FieldList, FieldNumber, FieldString, FieldText,
}

// Valid reports whether t is one of the nine known field types.
func (t FieldType) Valid() bool {
	for _, known := range FieldTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SystemRole is an issue-relative role used by role-based grants and
// role-gated transitions.
type SystemRole string

const (
	RoleAnyone      SystemRole = "anyone"
	RoleAuthor      SystemRole = "author"
	RoleResponsible SystemRole = "responsible"
)

// PermissionLevel is the effective access an actor has on a target.
// Levels are ordered: None < ReadOnly < ReadWrite.
type PermissionLevel int

const (
	PermissionNone PermissionLevel = iota
	PermissionReadOnly
	PermissionReadWrite
)

func (l PermissionLevel) String() string {
	switch l {
	case PermissionReadOnly:
		return "ro"
	case PermissionReadWrite:
		return "rw"
	default:
		return "none"
	}
}

// ParseLevel maps the stored grant value back to a level.
func ParseLevel(s string) PermissionLevel {
	switch s {
	case "rw":
		return PermissionReadWrite
	case "ro":
		return PermissionReadOnly
	default:
		return PermissionNone
	}
}

// TargetKind selects which entity a permission grant attaches to.
type TargetKind string

const (
	TargetTemplate TargetKind = "template"
	TargetState    TargetKind = "state"
	TargetField    TargetKind = "field"
)

type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Locked      bool   `json:"locked"`
	CriticalAge *int   `json:"critical_age,omitempty"`
	FrozenTime  *int   `json:"frozen_time,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type State struct {
	ID                 string          `json:"id"`
	TemplateID         string          `json:"template_id"`
	Name               string          `json:"name"`
	Type               StateType       `json:"type" enum:"initial,intermediate,final"`
	ResponsibleMode    ResponsibleMode `json:"responsible_mode" enum:"keep,assign,remove"`
	DefaultNextStateID *string         `json:"default_next_state_id,omitempty"`
}

// EffectiveResponsibleMode is the mode transitions actually apply. Final
// states always remove responsibility regardless of the stored mode.
func (s State) EffectiveResponsibleMode() ResponsibleMode {
	if s.Type == StateFinal {
		return ResponsibleRemove
	}
	return s.ResponsibleMode
}

type Field struct {
	ID           string    `json:"id"`
	StateID      string    `json:"state_id"`
	Name         string    `json:"name"`
	Type         FieldType `json:"type"`
	Position     int       `json:"position"`
	Required     bool      `json:"required"`
	RemovedAt    *string   `json:"removed_at,omitempty" format:"date-time"`
	MinValue     *string   `json:"min_value,omitempty"`
	MaxValue     *string   `json:"max_value,omitempty"`
	DefaultValue *string   `json:"default_value,omitempty"`
	MaxLength    *int      `json:"max_length,omitempty"`
	PCRECheck    *string   `json:"pcre_check,omitempty"`
	PCRESearch   *string   `json:"pcre_search,omitempty"`
	PCREReplace  *string   `json:"pcre_replace,omitempty"`
}

// Removed reports whether the field has been soft-deleted.
func (f Field) Removed() bool {
	return f.RemovedAt != nil
}

type ListItem struct {
	FieldID string `json:"field_id"`
	Value   int64  `json:"value"`
	Text    string `json:"text"`
}

type Issue struct {
	ID            string  `json:"id"`
	RowID         int64   `json:"row_id"`
	TemplateID    string  `json:"template_id"`
	StateID       string  `json:"state_id"`
	Subject       string  `json:"subject"`
	AuthorID      string  `json:"author_id"`
	ResponsibleID *string `json:"responsible_id,omitempty"`
	ProjectID     *string `json:"project_id,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type FieldValue struct {
	IssueID   string `json:"issue_id"`
	FieldID   string `json:"field_id"`
	RawValue  *int64 `json:"raw_value,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID        int64  `json:"id"`
	IssueID   string `json:"issue_id"`
	Type      string `json:"type"`
	ActorID   string `json:"actor_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Change records one field-value mutation. FieldID == nil denotes the
// issue's subject pseudo-field.
type Change struct {
	ID       int64   `json:"id"`
	EventID  int64   `json:"event_id"`
	FieldID  *string `json:"field_id,omitempty"`
	OldValue *int64  `json:"old_value,omitempty"`
	NewValue *int64  `json:"new_value,omitempty"`
}

type Group struct {
	ID        string  `json:"id"`
	ProjectID *string `json:"project_id,omitempty"`
	Name      string  `json:"name"`
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
}

type RoleGrant struct {
	TargetKind TargetKind      `json:"target_kind"`
	TargetID   string          `json:"target_id"`
	Role       SystemRole      `json:"role"`
	Level      PermissionLevel `json:"level"`
}

type GroupGrant struct {
	TargetKind TargetKind      `json:"target_kind"`
	TargetID   string          `json:"target_id"`
	GroupID    string          `json:"group_id"`
	Level      PermissionLevel `json:"level"`
}
