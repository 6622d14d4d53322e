package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taxline/internal/domain"
	"taxline/internal/engine"
	"taxline/internal/notify"
	"taxline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Dispatcher delivers reminders for the sweep endpoint. Defaults to
	// notify.ForConfig on the engine config.
	Dispatcher notify.Dispatcher
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"blocked_transition"`
	Message string         `json:"message" example:"transition COLLECTING_DOCS -> READY_FOR_PREP blocked"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"reasons\":[\"Engagement letter not signed\"]}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the taxline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = notify.ForConfig(cfg.Engine.Config, cfg.Engine.Logger)
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Taxline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerEngagements(group, cfg.Engine)
	registerLifecycle(group, cfg.Engine)
	registerFlags(group, cfg.Engine)
	registerChecklist(group, cfg.Engine)
	registerReminders(group, cfg.Engine, dispatcher)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if blocked, ok := engine.IsBlocked(err); ok {
		return newAPIError(http.StatusUnprocessableEntity, "blocked_transition", err.Error(), map[string]any{
			"from":    blocked.From,
			"to":      blocked.To,
			"reasons": blocked.Reasons,
		})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Taxline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
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

type engagementPath struct {
	EngagementID string `path:"engagement_id"`
}

type engagementBody struct {
	Body domain.EngagementYear `json:"body"`
}

func registerEngagements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "engagements-ensure",
		Method:      http.MethodPost,
		Path:        "/engagements",
		Summary:     "Create the engagement for a client, entity and tax year, or return the existing one",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body EnsureEngagementRequest `json:"body"`
	}) (*struct {
		Status int
		Body   EnsureEngagementResponse `json:"body"`
	}, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		eng, created, err := e.EnsureEngagement(ctx, engine.EnsureOptions{
			ClientID: input.Body.ClientID,
			EntityID: input.Body.EntityID,
			TaxYear:  input.Body.TaxYear,
			Actor:    domain.Human(actorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return &struct {
			Status int
			Body   EnsureEngagementResponse `json:"body"`
		}{Status: status, Body: EnsureEngagementResponse{Engagement: eng, Created: created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "engagements-list",
		Method:      http.MethodGet,
		Path:        "/engagements",
		Summary:     "List engagements",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status"`
		TaxYear int    `query:"tax_year"`
		Client  string `query:"client_id"`
		Limit   int    `query:"limit"`
	}) (*struct {
		Body EngagementList `json:"body"`
	}, error) {
		var status domain.Status
		if input.Status != "" {
			parsed, err := domain.ParseStatus(input.Status)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			status = parsed
		}
		items, err := e.ListEngagements(ctx, repo.EngagementFilter{
			Status:  status,
			TaxYear: input.TaxYear,
			Client:  input.Client,
			Limit:   normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EngagementList `json:"body"`
		}{Body: EngagementList{Items: nonNilEngagements(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "engagements-get",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}",
		Summary:     "Get engagement",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *engagementPath) (*engagementBody, error) {
		eng, err := e.GetEngagement(ctx, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		return &engagementBody{Body: eng}, nil
	})
}

func registerLifecycle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "engagements-transition",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/transition",
		Summary:     "Move an engagement to another status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		EngagementID string            `path:"engagement_id"`
		Body         TransitionRequest `json:"body"`
	}) (*struct {
		Body engine.TransitionResult `json:"body"`
	}, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		res, err := e.Transition(ctx, engine.TransitionOptions{
			EngagementID:      input.EngagementID,
			Target:            input.Body.Target,
			Actor:             domain.Human(actorID),
			Reason:            input.Body.Reason,
			AllowSoftWarnings: input.Body.AllowSoftWarnings,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TransitionResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "engagements-readiness",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}/readiness",
		Summary:     "Readiness for preparation with blocking reasons",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *engagementPath) (*struct {
		Body ReadinessResponse `json:"body"`
	}, error) {
		res, err := e.Readiness(ctx, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		reasons := res.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		return &struct {
			Body ReadinessResponse `json:"body"`
		}{Body: ReadinessResponse{EngagementID: input.EngagementID, Ready: res.Ready, Reasons: reasons}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "engagements-history",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}/history",
		Summary:     "Status history, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EngagementID string `path:"engagement_id"`
		Limit        int    `query:"limit"`
	}) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		items, err := e.GetStatusHistory(ctx, input.EngagementID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "extension-request",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/extension/request",
		Summary:     "Mark an extension as requested and pause reminders",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		EngagementID string                  `path:"engagement_id"`
		Body         RequestExtensionRequest `json:"body"`
	}) (*engagementBody, error) {
		eng, err := e.RequestExtension(ctx, input.EngagementID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &engagementBody{Body: eng}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "extension-file",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/extension/file",
		Summary:     "Record a filed extension and resume reminders against its due date",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		EngagementID string               `path:"engagement_id"`
		Body         FileExtensionRequest `json:"body"`
	}) (*engagementBody, error) {
		due, err := time.Parse(time.DateOnly, strings.TrimSpace(input.Body.ExtendedDueDate))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "extended_due_date must be YYYY-MM-DD", nil)
		}
		eng, err := e.FileExtension(ctx, input.EngagementID, due)
		if err != nil {
			return nil, handleError(err)
		}
		return &engagementBody{Body: eng}, nil
	})
}

func registerFlags(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "engagements-flag",
		Method:      http.MethodPut,
		Path:        "/engagements/{engagement_id}/flags/{flag}",
		Summary:     "Set a readiness flag",
		Description: "Flags: " + strings.Join(engine.Flags, ", ") + ".",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		EngagementID string         `path:"engagement_id"`
		Flag         string         `path:"flag"`
		Body         SetFlagRequest `json:"body"`
	}) (*engagementBody, error) {
		eng, err := e.SetFlag(ctx, input.EngagementID, input.Flag, input.Body.Value, input.Body.ExpiresAt)
		if err != nil {
			return nil, handleError(err)
		}
		return &engagementBody{Body: eng}, nil
	})
}

func registerChecklist(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "checklist-list",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}/checklist",
		Summary:     "List checklist items with completion",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *engagementPath) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		items, err := e.ListChecklistItems(ctx, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		completion, err := e.ComputeChecklistCompletion(ctx, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ChecklistItem{}
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: ChecklistResponse{Items: items, Completion: completion}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "checklist-completion",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}/checklist/completion",
		Summary:     "Checklist completion over required items",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *engagementPath) (*struct {
		Body domain.ChecklistCompletion `json:"body"`
	}, error) {
		completion, err := e.ComputeChecklistCompletion(ctx, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistCompletion `json:"body"`
		}{Body: completion}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "checklist-add",
		Method:        http.MethodPost,
		Path:          "/engagements/{engagement_id}/checklist",
		Summary:       "Add a checklist item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		EngagementID string                  `path:"engagement_id"`
		Body         AddChecklistItemRequest `json:"body"`
	}) (*struct {
		Body engine.ChecklistUpdate `json:"body"`
	}, error) {
		required := true
		if input.Body.Required != nil {
			required = *input.Body.Required
		}
		upd, err := e.AddChecklistItem(ctx, engine.ChecklistItemInput{
			EngagementID: input.EngagementID,
			Key:          input.Body.Key,
			Label:        input.Body.Label,
			Required:     required,
			Status:       input.Body.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ChecklistUpdate `json:"body"`
		}{Body: upd}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "checklist-set-status",
		Method:      http.MethodPatch,
		Path:        "/checklist-items/{item_id}",
		Summary:     "Set a checklist item status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ItemID string                    `path:"item_id"`
		Body   SetChecklistStatusRequest `json:"body"`
	}) (*struct {
		Body engine.ChecklistUpdate `json:"body"`
	}, error) {
		upd, err := e.SetChecklistItemStatus(ctx, input.ItemID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ChecklistUpdate `json:"body"`
		}{Body: upd}, nil
	})
}

func registerReminders(api huma.API, e engine.Engine, dispatcher notify.Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID: "reminders-list",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}/reminders",
		Summary:     "Reminder state per stream",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *engagementPath) (*struct {
		Body ReminderList `json:"body"`
	}, error) {
		if _, err := e.GetEngagement(ctx, input.EngagementID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Scheduler().List(ctx, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReminderList `json:"body"`
		}{Body: ReminderList{Items: nonNilReminders(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reminders-due",
		Method:      http.MethodGet,
		Path:        "/reminders/due",
		Summary:     "Unpaused reminders whose due time has passed",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Stream string `query:"stream" enum:"DOCUMENTS,QUESTIONNAIRE,ID"`
	}) (*struct {
		Body ReminderList `json:"body"`
	}, error) {
		items, err := e.Scheduler().DueNow(ctx, domain.Stream(input.Stream))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReminderList `json:"body"`
		}{Body: ReminderList{Items: nonNilReminders(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reminders-sweep",
		Method:      http.MethodPost,
		Path:        "/reminders/sweep",
		Summary:     "Dispatch every due reminder once",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Stream string `query:"stream" enum:"DOCUMENTS,QUESTIONNAIRE,ID"`
	}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		sweeper := notify.Sweeper{
			Scheduler:  e.Scheduler(),
			Dispatcher: dispatcher,
			Metrics:    e.Metrics,
			Logger:     e.Logger,
		}
		report, err := sweeper.Sweep(ctx, domain.Stream(input.Stream))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: report}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
