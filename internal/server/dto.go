package server

import (
	"tracker/internal/domain"
	"tracker/internal/engine"
)

// Request payloads

type CreateTemplateRequest struct {
	Name        string `json:"name"`
	CriticalAge *int   `json:"critical_age,omitempty"`
	FrozenTime  *int   `json:"frozen_time,omitempty"`
}

type UpdateTemplateRequest struct {
	Name   *string `json:"name,omitempty"`
	Locked *bool   `json:"locked,omitempty"`
}

type CreateStateRequest struct {
	Name            string `json:"name"`
	Type            string `json:"type,omitempty" enum:"initial,intermediate,final"`
	ResponsibleMode string `json:"responsible_mode,omitempty" enum:"keep,assign,remove"`
}

type UpdateStateRequest struct {
	Name            *string `json:"name,omitempty"`
	Initial         *bool   `json:"initial,omitempty"`
	ResponsibleMode *string `json:"responsible_mode,omitempty" enum:"keep,assign,remove"`
	DefaultNextID   *string `json:"default_next_state_id,omitempty"`
	ClearNext       bool    `json:"clear_default_next,omitempty"`
}

type SetTransitionsRequest struct {
	Roles  []string `json:"roles,omitempty" enum:"anyone,author,responsible"`
	Groups []string `json:"groups,omitempty"`
}

type CreateFieldRequest struct {
	Name         string  `json:"name"`
	Type         string  `json:"type" enum:"checkbox,date,decimal,duration,issue,list,number,string,text"`
	Required     bool    `json:"required,omitempty"`
	Position     int     `json:"position,omitempty"`
	MinValue     *string `json:"min_value,omitempty"`
	MaxValue     *string `json:"max_value,omitempty"`
	DefaultValue *string `json:"default_value,omitempty"`
	MaxLength    *int    `json:"max_length,omitempty"`
	PCRECheck    *string `json:"pcre_check,omitempty"`
	PCRESearch   *string `json:"pcre_search,omitempty"`
	PCREReplace  *string `json:"pcre_replace,omitempty"`
}

type UpdateFieldRequest struct {
	Name         string  `json:"name"`
	Required     bool    `json:"required,omitempty"`
	Position     int     `json:"position,omitempty"`
	MinValue     *string `json:"min_value,omitempty"`
	MaxValue     *string `json:"max_value,omitempty"`
	DefaultValue *string `json:"default_value,omitempty"`
	MaxLength    *int    `json:"max_length,omitempty"`
	PCRECheck    *string `json:"pcre_check,omitempty"`
	PCRESearch   *string `json:"pcre_search,omitempty"`
	PCREReplace  *string `json:"pcre_replace,omitempty"`
}

type AddListItemRequest struct {
	Value int64  `json:"value"`
	Text  string `json:"text"`
}

type CreateGroupRequest struct {
	Name      string  `json:"name"`
	ProjectID *string `json:"project_id,omitempty"`
}

type SetRoleGrantRequest struct {
	TargetKind string `json:"target_kind" enum:"template,state,field"`
	TargetID   string `json:"target_id"`
	Role       string `json:"role" enum:"anyone,author,responsible"`
	Level      string `json:"level" enum:"none,ro,rw"`
}

type SetGroupGrantRequest struct {
	TargetKind string `json:"target_kind" enum:"template,state,field"`
	TargetID   string `json:"target_id"`
	GroupID    string `json:"group_id"`
	Level      string `json:"level" enum:"none,ro,rw"`
}

type CreateIssueRequest struct {
	TemplateID    string  `json:"template_id"`
	Subject       string  `json:"subject"`
	ProjectID     *string `json:"project_id,omitempty"`
	ResponsibleID *string `json:"responsible_id,omitempty"`
}

type TransitionRequest struct {
	StateID       string  `json:"state_id"`
	ResponsibleID *string `json:"responsible_id,omitempty"`
}

type SetFieldValueRequest struct {
	Value string `json:"value"`
}

type EnsureUserRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type SetUserAdminRequest struct {
	Admin bool `json:"admin"`
}

// Response payloads

type FieldValueResponse struct {
	FieldID   string `json:"field_id"`
	FieldName string `json:"field_name"`
	FieldType string `json:"field_type"`
	Raw       *int64 `json:"raw,omitempty"`
	Value     string `json:"value"`
	Display   string `json:"display"`
}

func fieldValueResponse(v engine.FieldValueView) FieldValueResponse {
	return FieldValueResponse{
		FieldID:   v.Field.ID,
		FieldName: v.Field.Name,
		FieldType: string(v.Field.Type),
		Raw:       v.Raw,
		Value:     v.Value,
		Display:   v.Display,
	}
}

func mapFieldValues(views []engine.FieldValueView) []FieldValueResponse {
	res := make([]FieldValueResponse, 0, len(views))
	for _, v := range views {
		res = append(res, fieldValueResponse(v))
	}
	return res
}

type HistoryEntryResponse struct {
	EventType string  `json:"event_type"`
	ActorID   string  `json:"actor_id"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	FieldID   *string `json:"field_id,omitempty"`
	FieldName *string `json:"field_name,omitempty"`
	OldValue  *string `json:"old_value,omitempty"`
	NewValue  *string `json:"new_value,omitempty"`
}

func historyResponse(entries []engine.HistoryEntry) []HistoryEntryResponse {
	res := make([]HistoryEntryResponse, 0, len(entries))
	for _, entry := range entries {
		he := HistoryEntryResponse{
			EventType: entry.EventType,
			ActorID:   entry.ActorID,
			CreatedAt: entry.CreatedAt,
			FieldID:   entry.Change.FieldID,
			OldValue:  entry.OldValue,
			NewValue:  entry.NewValue,
		}
		if entry.Field != nil {
			name := entry.Field.Name
			he.FieldName = &name
		}
		res = append(res, he)
	}
	return res
}

func mapTemplates(items []domain.Template) []domain.Template {
	if items == nil {
		return []domain.Template{}
	}
	return items
}
