// Package server exposes the tracker engine over HTTP. Handlers stay thin:
// they translate payloads and map the engine's error taxonomy onto the API
// error envelope.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"tracker/internal/apperr"
	"tracker/internal/domain"
	"tracker/internal/engine"
	"tracker/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"actor u1 has no access to field Severity"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the tracker API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Tracker API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTemplates(group, cfg.Engine)
	registerStates(group, cfg.Engine)
	registerFields(group, cfg.Engine)
	registerGroups(group, cfg.Engine)
	registerGrants(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerIssues(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the engine's error taxonomy onto HTTP statuses.
// Configuration and validation failures both come back as 422 but with
// distinct codes; the client must be able to tell a broken field definition
// from a bad value.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe apperr.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"target": fe.Target})
	}
	var ve apperr.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	var cfe apperr.ConfigurationError
	if errors.As(err, &cfe) {
		return newAPIError(http.StatusUnprocessableEntity, "configuration_error", err.Error(), map[string]any{"field": cfe.Field})
	}
	var ce apperr.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "final"),
		strings.Contains(lowered, "different template"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "required") || strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Create template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest `json:"body"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		t, err := e.CreateTemplate(ctx, engine.TemplateCreateOptions{
			Name:        input.Body.Name,
			CriticalAge: input.Body.CriticalAge,
			FrozenTime:  input.Body.FrozenTime,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Template `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTemplates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Template `json:"body"`
		}{Body: mapTemplates(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-template",
		Method:      http.MethodPatch,
		Path:        "/templates/{id}",
		Summary:     "Rename or lock template",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateTemplateRequest `json:"body"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Name != nil {
			if _, err := e.RenameTemplate(ctx, input.ID, *input.Body.Name); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Locked != nil {
			if err := e.SetTemplateLocked(ctx, input.ID, *input.Body.Locked); err != nil {
				return nil, handleError(err)
			}
		}
		t, err := e.Repo.GetTemplate(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-template",
		Method:      http.MethodDelete,
		Path:        "/templates/{id}",
		Summary:     "Delete template",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTemplate(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerStates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-state",
		Method:        http.MethodPost,
		Path:          "/templates/{template_id}/states",
		Summary:       "Create state",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TemplateID string             `path:"template_id"`
		Body       CreateStateRequest `json:"body"`
	}) (*struct {
		Body domain.State `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateState(ctx, engine.StateCreateOptions{
			TemplateID:      input.TemplateID,
			Name:            input.Body.Name,
			Type:            domain.StateType(input.Body.Type),
			ResponsibleMode: domain.ResponsibleMode(input.Body.ResponsibleMode),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.State `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-states",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}/states",
		Summary:     "List states",
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body []domain.State `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListStates(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.State{}
		}
		return &struct {
			Body []domain.State `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-state",
		Method:      http.MethodPatch,
		Path:        "/states/{id}",
		Summary:     "Update state",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateStateRequest `json:"body"`
	}) (*struct {
		Body domain.State `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Name != nil {
			if err := e.RenameState(ctx, input.ID, *input.Body.Name); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Initial != nil && *input.Body.Initial {
			if err := e.SetInitial(ctx, input.ID); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.ResponsibleMode != nil {
			if err := e.SetResponsibleMode(ctx, input.ID, domain.ResponsibleMode(*input.Body.ResponsibleMode)); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.DefaultNextID != nil || input.Body.ClearNext {
			if err := e.SetDefaultNext(ctx, input.ID, input.Body.DefaultNextID); err != nil {
				return nil, handleError(err)
			}
		}
		s, err := e.Repo.GetState(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.State `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-state",
		Method:      http.MethodDelete,
		Path:        "/states/{id}",
		Summary:     "Delete state",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteState(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-transitions",
		Method:      http.MethodPut,
		Path:        "/states/{from_id}/transitions/{to_id}",
		Summary:     "Set transition grantees",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		FromID string                `path:"from_id"`
		ToID   string                `path:"to_id"`
		Body   SetTransitionsRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		roles := make([]domain.SystemRole, 0, len(input.Body.Roles))
		for _, role := range input.Body.Roles {
			roles = append(roles, domain.SystemRole(role))
		}
		if err := e.SetRoleTransitions(ctx, input.FromID, input.ToID, roles); err != nil {
			return nil, handleError(err)
		}
		if err := e.SetGroupTransitions(ctx, input.FromID, input.ToID, input.Body.Groups); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerFields(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-field",
		Method:        http.MethodPost,
		Path:          "/states/{state_id}/fields",
		Summary:       "Create field",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		StateID string             `path:"state_id"`
		Body    CreateFieldRequest `json:"body"`
	}) (*struct {
		Body domain.Field `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		f, err := e.CreateField(ctx, engine.FieldCreateOptions{
			StateID:      input.StateID,
			Name:         input.Body.Name,
			Type:         domain.FieldType(input.Body.Type),
			Required:     input.Body.Required,
			Position:     input.Body.Position,
			MinValue:     input.Body.MinValue,
			MaxValue:     input.Body.MaxValue,
			DefaultValue: input.Body.DefaultValue,
			MaxLength:    input.Body.MaxLength,
			PCRECheck:    input.Body.PCRECheck,
			PCRESearch:   input.Body.PCRESearch,
			PCREReplace:  input.Body.PCREReplace,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Field `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-fields",
		Method:      http.MethodGet,
		Path:        "/states/{state_id}/fields",
		Summary:     "List fields",
	}, func(ctx context.Context, input *struct {
		StateID        string `path:"state_id"`
		IncludeRemoved bool   `query:"include_removed"`
	}) (*struct {
		Body []domain.Field `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListFields(ctx, input.StateID, input.IncludeRemoved)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Field{}
		}
		return &struct {
			Body []domain.Field `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-field",
		Method:      http.MethodPatch,
		Path:        "/fields/{id}",
		Summary:     "Update field",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateFieldRequest `json:"body"`
	}) (*struct {
		Body domain.Field `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		f, err := e.UpdateField(ctx, engine.FieldUpdateOptions{
			FieldID:      input.ID,
			Name:         input.Body.Name,
			Required:     input.Body.Required,
			Position:     input.Body.Position,
			MinValue:     input.Body.MinValue,
			MaxValue:     input.Body.MaxValue,
			DefaultValue: input.Body.DefaultValue,
			MaxLength:    input.Body.MaxLength,
			PCRECheck:    input.Body.PCRECheck,
			PCRESearch:   input.Body.PCRESearch,
			PCREReplace:  input.Body.PCREReplace,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Field `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-field",
		Method:      http.MethodDelete,
		Path:        "/fields/{id}",
		Summary:     "Remove field",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveField(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-list-item",
		Method:        http.MethodPost,
		Path:          "/fields/{id}/items",
		Summary:       "Add list item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body AddListItemRequest `json:"body"`
	}) (*struct {
		Body domain.ListItem `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		item, err := e.AddListItem(ctx, input.ID, input.Body.Value, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ListItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-list-item",
		Method:      http.MethodDelete,
		Path:        "/fields/{id}/items/{value}",
		Summary:     "Delete list item",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Value int64  `path:"value"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteListItem(ctx, input.ID, input.Value); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerGroups(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-group",
		Method:        http.MethodPost,
		Path:          "/groups",
		Summary:       "Create group",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateGroupRequest `json:"body"`
	}) (*struct {
		Body domain.Group `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		g, err := e.CreateGroup(ctx, input.Body.Name, input.Body.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Group `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-group-member",
		Method:      http.MethodPut,
		Path:        "/groups/{id}/members/{user_id}",
		Summary:     "Add group member",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		UserID string `path:"user_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.AddGroupMember(ctx, input.ID, input.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-group-member",
		Method:      http.MethodDelete,
		Path:        "/groups/{id}/members/{user_id}",
		Summary:     "Remove group member",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		UserID string `path:"user_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveGroupMember(ctx, input.ID, input.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerGrants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-role-grant",
		Method:      http.MethodPut,
		Path:        "/grants/roles",
		Summary:     "Set role grant",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body SetRoleGrantRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		err := e.SetRoleGrant(ctx,
			domain.TargetKind(input.Body.TargetKind), input.Body.TargetID,
			domain.SystemRole(input.Body.Role), domain.ParseLevel(input.Body.Level))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-group-grant",
		Method:      http.MethodPut,
		Path:        "/grants/groups",
		Summary:     "Set group grant",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body SetGroupGrantRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		err := e.SetGroupGrant(ctx,
			domain.TargetKind(input.Body.TargetKind), input.Body.TargetID,
			input.Body.GroupID, domain.ParseLevel(input.Body.Level))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "ensure-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Ensure user exists",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body EnsureUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		u, err := e.EnsureUser(ctx, input.Body.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-admin",
		Method:      http.MethodPatch,
		Path:        "/users/{id}",
		Summary:     "Set admin flag",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body SetUserAdminRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.SetUserAdmin(ctx, input.ID, input.Body.Admin); err != nil {
			return nil, handleError(err)
		}
		u, err := e.Repo.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Create issue",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.CreateIssue(ctx, engine.IssueCreateOptions{
			TemplateID:    input.Body.TemplateID,
			Subject:       input.Body.Subject,
			ActorID:       actorID,
			ProjectID:     input.Body.ProjectID,
			ResponsibleID: input.Body.ResponsibleID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{id}",
		Summary:     "Get issue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		issue, err := e.Repo.GetIssue(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/transition",
		Summary:     "Transition issue",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.Transition(ctx, engine.TransitionOptions{
			IssueID:       input.ID,
			ToStateID:     input.Body.StateID,
			ActorID:       actorID,
			ResponsibleID: input.Body.ResponsibleID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-field-value",
		Method:      http.MethodPut,
		Path:        "/issues/{id}/fields/{field_id}",
		Summary:     "Set field value",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID      string               `path:"id"`
		FieldID string               `path:"field_id"`
		Body    SetFieldValueRequest `json:"body"`
	}) (*struct {
		Body FieldValueResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		err := e.SetFieldValue(ctx, engine.SetFieldValueOptions{
			IssueID: input.ID,
			FieldID: input.FieldID,
			ActorID: actorID,
			Value:   input.Body.Value,
			TZ:      viewerZone(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		view, err := e.ReadFieldValue(ctx, input.ID, input.FieldID, actorID, viewerZone(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FieldValueResponse `json:"body"`
		}{Body: fieldValueResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-field-value",
		Method:      http.MethodGet,
		Path:        "/issues/{id}/fields/{field_id}",
		Summary:     "Get field value",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		FieldID string `path:"field_id"`
	}) (*struct {
		Body FieldValueResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := e.ReadFieldValue(ctx, input.ID, input.FieldID, actorID, viewerZone(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FieldValueResponse `json:"body"`
		}{Body: fieldValueResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-field-values",
		Method:      http.MethodGet,
		Path:        "/issues/{id}/fields",
		Summary:     "List field values",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []FieldValueResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		views, err := e.ReadFieldValues(ctx, input.ID, actorID, viewerZone(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []FieldValueResponse `json:"body"`
		}{Body: mapFieldValues(views)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "issue-history",
		Method:      http.MethodGet,
		Path:        "/issues/{id}/history",
		Summary:     "Issue change history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []HistoryEntryResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.History(ctx, input.ID, actorID, viewerZone(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []HistoryEntryResponse `json:"body"`
		}{Body: historyResponse(entries)}, nil
	})
}
