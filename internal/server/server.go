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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bountyline/internal/engine"
	"bountyline/internal/repo"
	"bountyline/internal/vault"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"open_bounty_not_assignable"`
	Message string         `json:"message" example:"open bounty does not take assignment"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"issue_number\":7}"`
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

// New returns an HTTP handler exposing the Bountyline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
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
			buf, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(buf))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, buf)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Bountyline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRepos(group, cfg.Engine)
	registerBounties(group, cfg.Engine)
	registerApplications(group, cfg.Engine)
	registerSubmissions(group, cfg.Engine)
	registerSettings(group, cfg.Engine)
	registerCurations(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyExists):
		return newAPIError(http.StatusConflict, "already_exists", err.Error(), nil)
	case errors.Is(err, engine.ErrLengthMismatch):
		return newAPIError(http.StatusBadRequest, "length_mismatch", err.Error(), nil)
	case errors.Is(err, engine.ErrLengthExceeded):
		return newAPIError(http.StatusBadRequest, "length_exceeded", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidTokenConfig):
		return newAPIError(http.StatusBadRequest, "invalid_token_config", err.Error(), nil)
	case errors.Is(err, engine.ErrValueMismatch):
		return newAPIError(http.StatusBadRequest, "value_mismatch", err.Error(), nil)
	case errors.Is(err, engine.ErrDuplicateApplication):
		return newAPIError(http.StatusConflict, "duplicate_application", err.Error(), nil)
	case errors.Is(err, engine.ErrOpenBountyNotAssignable):
		return newAPIError(http.StatusUnprocessableEntity, "open_bounty_not_assignable", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyFulfilled):
		return newAPIError(http.StatusConflict, "already_fulfilled", err.Error(), nil)
	case errors.Is(err, engine.ErrBountyRemoved):
		return newAPIError(http.StatusConflict, "bounty_removed", err.Error(), nil)
	case errors.Is(err, engine.ErrBountyFulfilled):
		return newAPIError(http.StatusConflict, "bounty_fulfilled", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidAllocator):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_allocator", err.Error(), nil)
	case errors.Is(err, vault.ErrInsufficientFunds):
		return newAPIError(http.StatusUnprocessableEntity, "insufficient_funds", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
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
    <title>Bountyline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerRepos(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-repo",
		Method:        http.MethodPost,
		Path:          "/repos",
		Summary:       "Register repository",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body AddRepoRequest `json:"body"`
	}) (*struct {
		Body RepoResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.AddRepo(ctx, input.Body.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RepoResponse `json:"body"`
		}{Body: repoResponse(r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-repos",
		Method:      http.MethodGet,
		Path:        "/repos",
		Summary:     "List registered repositories",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body repoList `json:"body"`
	}, error) {
		items, err := e.Repo.ListRepos(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := repoList{Items: []RepoResponse{}}
		for _, r := range items {
			resp.Items = append(resp.Items, repoResponse(r))
		}
		resp.Count = len(resp.Items)
		return &struct {
			Body repoList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-repo",
		Method:      http.MethodGet,
		Path:        "/repos/{repo_id}",
		Summary:     "Get repository",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RepoID string `path:"repo_id"`
	}) (*struct {
		Body RepoResponse `json:"body"`
	}, error) {
		r, err := e.Repo.GetRepo(ctx, input.RepoID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RepoResponse `json:"body"`
		}{Body: repoResponse(r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-repo",
		Method:      http.MethodDelete,
		Path:        "/repos/{repo_id}",
		Summary:     "Remove repository",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RepoID string `path:"repo_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveRepo(ctx, input.RepoID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-repo-issues",
		Method:      http.MethodGet,
		Path:        "/repos/{repo_id}/issues",
		Summary:     "List issue records for a repository",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RepoID string `path:"repo_id"`
	}) (*struct {
		Body issueList `json:"body"`
	}, error) {
		registered, err := e.IsRegistered(ctx, input.RepoID)
		if err != nil {
			return nil, handleError(err)
		}
		if !registered {
			return nil, newAPIError(http.StatusNotFound, "not_found", "repo not registered", nil)
		}
		items, err := e.Repo.ListIssues(ctx, input.RepoID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := issueList{Items: []IssueResponse{}}
		for _, is := range items {
			resp.Items = append(resp.Items, issueResponse(is))
		}
		return &struct {
			Body issueList `json:"body"`
		}{Body: resp}, nil
	})
}

func registerBounties(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "fund-bounties",
		Method:        http.MethodPost,
		Path:          "/bounties",
		Summary:       "Fund a batch of bounties",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body FundBountiesRequest `json:"body"`
	}) (*struct {
		Body fundedBounties `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.FundOptions{
			RepoIDs:      input.Body.RepoIDs,
			IssueNumbers: input.Body.IssueNumbers,
			Sizes:        input.Body.Sizes,
			Deadlines:    input.Body.Deadlines,
			TokenTypes:   input.Body.TokenTypes,
			TokenAddrs:   input.Body.TokenAddrs,
			Attached:     input.Body.Attached,
			DataBlob:     input.Body.Data,
			Description:  input.Body.Description,
			ActorID:      actorID,
		}
		if opts.Deadlines == nil {
			opts.Deadlines = defaultDeadlines(ctx, e, len(opts.RepoIDs))
		}
		fund := e.AddBounties
		if input.Body.Open {
			fund = e.AddOpenBounties
		}
		items, err := fund(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body fundedBounties `json:"body"`
		}{Body: fundedBounties{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/repos/{repo_id}/issues/{issue_number}",
		Summary:     "Get issue bounty state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RepoID      string `path:"repo_id"`
		IssueNumber int64  `path:"issue_number"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		is, err := e.GetIssue(ctx, input.RepoID, input.IssueNumber)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(is)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-bounty",
		Method:      http.MethodPatch,
		Path:        "/repos/{repo_id}/issues/{issue_number}",
		Summary:     "Update bounty metadata",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		RepoID      string              `path:"repo_id"`
		IssueNumber int64               `path:"issue_number"`
		Body        UpdateBountyRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.UpdateBounty(ctx, input.RepoID, input.IssueNumber, input.Body.Data,
			input.Body.Deadline, input.Body.Description, actorID); err != nil {
			return nil, handleError(err)
		}
		is, err := e.GetIssue(ctx, input.RepoID, input.IssueNumber)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(is)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "kill-bounties",
		Method:      http.MethodPost,
		Path:        "/bounties/kill",
		Summary:     "Kill a batch of bounties",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body KillBountiesRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		err := e.RemoveBounties(ctx, engine.KillOptions{
			RepoIDs:      input.Body.RepoIDs,
			IssueNumbers: input.Body.IssueNumbers,
			Reason:       input.Body.Reason,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-assignment",
		Method:        http.MethodPost,
		Path:          "/repos/{repo_id}/issues/{issue_number}/applications",
		Summary:       "Apply to work on a bounty",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		RepoID      string       `path:"repo_id"`
		IssueNumber int64        `path:"issue_number"`
		Body        ApplyRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RequestAssignment(ctx, input.RepoID, input.IssueNumber, actorID, input.Body.Metadata); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applicants",
		Method:      http.MethodGet,
		Path:        "/repos/{repo_id}/issues/{issue_number}/applications",
		Summary:     "List applicants",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RepoID      string `path:"repo_id"`
		IssueNumber int64  `path:"issue_number"`
	}) (*struct {
		Body applicantList `json:"body"`
	}, error) {
		registered, err := e.IsRegistered(ctx, input.RepoID)
		if err != nil {
			return nil, handleError(err)
		}
		if !registered {
			return nil, newAPIError(http.StatusNotFound, "not_found", "repo not registered", nil)
		}
		items, err := e.Repo.ListApplicants(ctx, input.RepoID, input.IssueNumber)
		if err != nil {
			return nil, handleError(err)
		}
		resp := applicantList{Items: []ApplicationResponse{}}
		for _, a := range items {
			resp.Items = append(resp.Items, applicationResponse(a))
		}
		resp.Count = len(resp.Items)
		return &struct {
			Body applicantList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-application",
		Method:      http.MethodPost,
		Path:        "/repos/{repo_id}/issues/{issue_number}/applications/review",
		Summary:     "Accept or reject an applicant",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		RepoID      string                   `path:"repo_id"`
		IssueNumber int64                    `path:"issue_number"`
		Body        ReviewApplicationRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Applicant == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "applicant is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ReviewApplication(ctx, input.RepoID, input.IssueNumber,
			input.Body.Applicant, input.Body.Comment, input.Body.Accept, actorID); err != nil {
			return nil, handleError(err)
		}
		is, err := e.GetIssue(ctx, input.RepoID, input.IssueNumber)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(is)}, nil
	})
}

func registerSubmissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-work",
		Method:        http.MethodPost,
		Path:          "/repos/{repo_id}/issues/{issue_number}/submissions",
		Summary:       "Submit work against a bounty",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		RepoID      string            `path:"repo_id"`
		IssueNumber int64             `path:"issue_number"`
		Body        SubmitWorkRequest `json:"body"`
	}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if len(input.Body.Fulfillers) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "fulfillers is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		index, err := e.SubmitWork(ctx, input.RepoID, input.IssueNumber, input.Body.Fulfillers, input.Body.Evidence, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"submission_index": index}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-submission",
		Method:      http.MethodPost,
		Path:        "/repos/{repo_id}/issues/{issue_number}/submissions/review",
		Summary:     "Accept or reject a submission",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		RepoID      string                  `path:"repo_id"`
		IssueNumber int64                   `path:"issue_number"`
		Body        ReviewSubmissionRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ReviewSubmission(ctx, input.RepoID, input.IssueNumber,
			input.Body.SubmissionIndex, input.Body.Accept, input.Body.Comment, input.Body.Split, actorID); err != nil {
			return nil, handleError(err)
		}
		is, err := e.GetIssue(ctx, input.RepoID, input.IssueNumber)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(is)}, nil
	})
}

func registerSettings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-settings",
		Method:      http.MethodGet,
		Path:        "/settings",
		Summary:     "Get bounty settings",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SettingsResponse `json:"body"`
	}, error) {
		s, err := e.GetSettings(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SettingsResponse `json:"body"`
		}{Body: settingsResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-settings",
		Method:      http.MethodPut,
		Path:        "/settings",
		Summary:     "Replace bounty settings",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body ChangeSettingsRequest `json:"body"`
	}) (*struct {
		Body SettingsResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		err := e.ChangeBountySettings(ctx, engine.SettingsOptions{
			XPMultipliers:    input.Body.XPMultipliers,
			ExperienceLevels: input.Body.ExperienceLevels,
			BaseRate:         input.Body.BaseRate,
			BountyDeadline:   input.Body.BountyDeadline,
			BountyCurrency:   input.Body.BountyCurrency,
			BountyAllocator:  input.Body.BountyAllocator,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.GetSettings(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SettingsResponse `json:"body"`
		}{Body: settingsResponse(s)}, nil
	})
}

func registerCurations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "curate-issues",
		Method:        http.MethodPost,
		Path:          "/curations",
		Summary:       "Record an issue curation batch",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
		},
	}, func(ctx context.Context, input *struct {
		Body CurateIssuesRequest `json:"body"`
	}) (*struct {
		Body CurationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		curationID := input.Body.CurationID
		if curationID == "" {
			curationID = uuid.NewString()
		}
		c, err := e.CurateIssues(ctx, engine.CurateOptions{
			Priorities:         input.Body.Priorities,
			DescriptionIndices: input.Body.DescriptionIndices,
			Description:        input.Body.Description,
			RepoIDs:            input.Body.RepoIDs,
			IssueNumbers:       input.Body.IssueNumbers,
			CurationID:         curationID,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CurationResponse `json:"body"`
		}{Body: curationResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-curation",
		Method:      http.MethodGet,
		Path:        "/curations/{id}",
		Summary:     "Get a curation batch",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body CurationResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetCuration(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CurationResponse `json:"body"`
		}{Body: curationResponse(c)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RepoID string `query:"repo_id"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		items, err := e.Repo.ListEvents(ctx, input.RepoID, limit)
		if err != nil {
			return nil, handleError(err)
		}
		resp := eventList{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: resp}, nil
	})
}

// defaultDeadlines fills a funding batch with the settings deadline offset
// when the caller omits deadlines.
func defaultDeadlines(ctx context.Context, e engine.Engine, n int) []int64 {
	out := make([]int64, n)
	s, err := e.GetSettings(ctx)
	if err != nil {
		return out
	}
	for i := range out {
		out[i] = s.BountyDeadline
	}
	return out
}
