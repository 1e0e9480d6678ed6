package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dealflow/internal/analytics"
	"dealflow/internal/domain"
	"dealflow/internal/engine"
	"dealflow/internal/engine/auth"
	"dealflow/internal/metrics"
	"dealflow/internal/proposal"
	"dealflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine      engine.Engine
	Events      *repo.Repo
	BasePath    string
	Auth        AuthConfig
	CORSOrigins []string
	Logger      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"proposal not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"permission\":\"proposal.resolve\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the dealflow API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine.Store == nil || cfg.Engine.Proposals == nil {
		return nil, errors.New("server: engine store and proposals are required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
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
	router.Use(metrics.Middleware)
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", operatorHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Dealflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerDeals(group, cfg.Engine)
	registerActions(group, cfg.Engine)
	registerProposals(group, cfg.Engine)
	registerNotifications(group, cfg.Engine, cfg.Events)
	registerStream(router, basePath, cfg.Engine, logger)
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, proposal.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrUnknownAction):
		return newAPIError(http.StatusNotFound, "unknown_action", err.Error(), nil)
	case errors.Is(err, proposal.ErrResolved):
		return newAPIError(http.StatusConflict, "already_resolved", err.Error(), nil)
	case errors.Is(err, proposal.ErrNotReady):
		return newAPIError(http.StatusConflict, "not_ready", err.Error(), nil)
	case errors.Is(err, proposal.ErrExpired):
		return newAPIError(http.StatusGone, "expired", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, "wait_timeout", "operator did not decide in time", nil)
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
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
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
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
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Dealflow API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; when the server runs with a JWT secret.
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

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body Principal `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p.Roles = nonNil(p.Roles)
		p.Permissions = nonNil(p.Permissions)
		return &struct {
			Body Principal `json:"body"`
		}{Body: p}, nil
	})
}

func registerDeals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-deals",
		Method:      http.MethodGet,
		Path:        "/deals",
		Summary:     "List deals in board order",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Stage string `query:"stage" enum:"lead,qualified,proposal,negotiation,closed_won,closed_lost"`
	}) (*struct {
		Body DealListResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermDealsRead); err != nil {
			return nil, handleError(err)
		}
		snap := e.Store.Snapshot()
		items := snap.Deals
		if input.Stage != "" {
			items = nil
			for _, d := range snap.Deals {
				if string(d.Stage) == input.Stage {
					items = append(items, d)
				}
			}
		}
		return &struct {
			Body DealListResponse `json:"body"`
		}{Body: DealListResponse{Items: nonNilDeals(items), Version: snap.Version}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-deal",
		Method:      http.MethodGet,
		Path:        "/deals/{deal_id}",
		Summary:     "Get deal",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DealID string `path:"deal_id"`
	}) (*struct {
		Body domain.Deal `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermDealsRead); err != nil {
			return nil, handleError(err)
		}
		for _, d := range e.Store.All() {
			if d.ID == input.DealID {
				return &struct {
					Body domain.Deal `json:"body"`
				}{Body: d}, nil
			}
		}
		return nil, newAPIError(http.StatusNotFound, "not_found", "deal not found", map[string]any{"deal_id": input.DealID})
	})

	huma.Register(api, huma.Operation{
		OperationID: "pipeline-summary",
		Method:      http.MethodGet,
		Path:        "/summary",
		Summary:     "Pipeline analytics",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermDealsRead); err != nil {
			return nil, handleError(err)
		}
		deals := e.Store.All()
		s := analytics.Summarize(deals)
		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: SummaryResponse{Message: engine.SummaryText(s), Summary: s, Stages: analytics.Breakdown(deals)}}, nil
	})
}

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "Action catalogue",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ActionListResponse `json:"body"`
	}, error) {
		return &struct {
			Body ActionListResponse `json:"body"`
		}{Body: ActionListResponse{Items: e.Actions()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "invoke-action",
		Method:      http.MethodPost,
		Path:        "/actions/{name}",
		Summary:     "Invoke an action",
		Description: "Rejections are reported in the body with status 200. With wait=true a confirmed action holds the request open until the operator decides.",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *struct {
		Name    string `path:"name" doc:"create_deal, move_deal, get_pipeline_summary, close_deal or delete_deal"`
		Wait    bool   `query:"wait"`
		RawBody []byte
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermActionsInvoke); err != nil {
			return nil, handleError(err)
		}
		if input.Wait {
			res, err := e.Call(ctx, input.Name, input.RawBody)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ActionResponse `json:"body"`
			}{Body: callResponse(input.Name, res)}, nil
		}
		reply, err := e.Invoke(ctx, input.Name, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: actionResponse(reply)}, nil
	})
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/proposals",
		Summary:     "List proposals",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		State string `query:"state" enum:"pending,resolved,all" default:"pending"`
	}) (*struct {
		Body ProposalListResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermProposalsRead); err != nil {
			return nil, handleError(err)
		}
		var items []domain.Proposal
		switch input.State {
		case "resolved":
			items = e.Proposals.History()
		case "all":
			items = append(e.Proposals.Pending(), e.Proposals.History()...)
		default:
			items = e.Proposals.Pending()
		}
		return &struct {
			Body ProposalListResponse `json:"body"`
		}{Body: ProposalListResponse{Items: nonNilProposals(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-proposal",
		Method:      http.MethodGet,
		Path:        "/proposals/{proposal_id}",
		Summary:     "Get proposal",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
	}) (*struct {
		Body domain.Proposal `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermProposalsRead); err != nil {
			return nil, handleError(err)
		}
		p, ok := e.Proposals.Get(input.ProposalID)
		if !ok {
			return nil, handleError(proposal.ErrNotFound)
		}
		return &struct {
			Body domain.Proposal `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "amend-proposal",
		Method:      http.MethodPatch,
		Path:        "/proposals/{proposal_id}",
		Summary:     "Supply remaining arguments to a draft proposal",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProposalID string               `path:"proposal_id"`
		Body       AmendProposalRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermActionsInvoke); err != nil {
			return nil, handleError(err)
		}
		if len(input.Body.Params) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "params are required", nil)
		}
		if _, ok := e.Proposals.Get(input.ProposalID); !ok {
			return nil, handleError(proposal.ErrNotFound)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: actionResponse(e.AmendProposal(ctx, input.ProposalID, input.Body.Params))}, nil
	})

	resolve := func(confirmed bool) func(context.Context, *struct {
		ProposalID string `path:"proposal_id"`
	}) (*struct {
		Body domain.Proposal `json:"body"`
	}, error) {
		return func(ctx context.Context, input *struct {
			ProposalID string `path:"proposal_id"`
		}) (*struct {
			Body domain.Proposal `json:"body"`
		}, error) {
			principal, err := requirePermission(ctx, auth.PermProposalsResolve)
			if err != nil {
				return nil, handleError(err)
			}
			p, err := e.Proposals.Resolve(ctx, input.ProposalID, confirmed, principal.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Proposal `json:"body"`
			}{Body: p}, nil
		}
	}
	resolveErrors := []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusGone}

	huma.Register(api, huma.Operation{
		OperationID: "confirm-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/confirm",
		Summary:     "Confirm a proposal and apply it",
		Errors:      resolveErrors,
	}, resolve(true))

	huma.Register(api, huma.Operation{
		OperationID: "cancel-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/cancel",
		Summary:     "Cancel a proposal without changes",
		Errors:      resolveErrors,
	}, resolve(false))
}

func registerNotifications(api huma.API, e engine.Engine, events *repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Notification history, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Kind   string `query:"kind"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedNotifications `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermDealsRead); err != nil {
			return nil, handleError(err)
		}
		if events == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "log_unavailable", "notification log is not configured", nil)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := events.LatestEvents(ctx, limit+1, cursorID, input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedNotifications{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].Seq, 10)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedNotifications `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications/active",
		Summary:     "Notifications still inside their display window",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ActiveNotificationsResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermDealsRead); err != nil {
			return nil, handleError(err)
		}
		resp := ActiveNotificationsResponse{Items: []domain.Notification{}}
		if e.Sink != nil {
			resp.Items = append(resp.Items, e.Sink.Active()...)
			resp.DisplaySeconds = e.Sink.Display().Seconds()
		}
		return &struct {
			Body ActiveNotificationsResponse `json:"body"`
		}{Body: resp}, nil
	})
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
