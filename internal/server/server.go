package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"diario/internal/domain"
	"diario/internal/repo"
)

const (
	msgNotFound  = "Planejamento não encontrado"
	msgDuplicate = "Já existe um registro para esta data/turno/equipe"
)

// Config for the HTTP API handler.
type Config struct {
	Service  *Service
	BasePath string
	Logger   *zap.Logger
}

// apiError renders the {"error": "..."} envelope the wizard expects.
type apiError struct {
	status  int
	Message string `json:"error" example:"Campo obrigatório: equipe"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// New returns an HTTP handler exposing the daily log API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Service == nil {
		return nil, errors.New("server: service is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimRight(basePath, "/")

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, withDetail(msg, errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// malformed path or query values
			status = http.StatusBadRequest
		}
		return newAPIError(status, withDetail(msg, errs))
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))

	hcfg := huma.DefaultConfig("Diário de Bordo API", "1.0.0")
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = basePath + "/docs"
	hcfg.SchemasPath = basePath + "/schemas"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerPlanning(group, cfg.Service)
	registerSteps(group, cfg.Service)
	registerReports(group, cfg.Service)
	registerDashboard(group, cfg.Service)
	registerEvents(group, cfg.Service)

	return router, nil
}

func newAPIError(status int, message string) huma.StatusError {
	return &apiError{status: status, Message: message}
}

func withDetail(msg string, errs []error) string {
	if len(errs) == 0 || errs[0] == nil {
		return msg
	}
	return msg + ": " + errs[0].Error()
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case isBadRequest(err):
		return newAPIError(http.StatusBadRequest, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, msgNotFound)
	case errors.Is(err, repo.ErrDuplicate):
		return newAPIError(http.StatusConflict, msgDuplicate)
	case errors.Is(err, context.Canceled):
		return newAPIError(499, "request canceled")
	}
	return newAPIError(http.StatusInternalServerError, err.Error())
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

type idPath struct {
	ID int64 `path:"id" minimum:"1"`
}

type rawBodyInput struct {
	ID      int64 `path:"id" minimum:"1"`
	RawBody []byte
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

func registerPlanning(api huma.API, s *Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-planning",
		Method:        http.MethodPost,
		Path:          "/planejamento",
		Summary:       "Create the planning of a daily log entry",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		RawBody []byte
	}) (*struct {
		Body PlanningCreatedResponse `json:"body"`
	}, error) {
		var req PlanningRequest
		if err := decodeBody(input.RawBody, &req); err != nil {
			return nil, handleError(err)
		}
		p, err := s.CreatePlanning(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanningCreatedResponse `json:"body"`
		}{Body: PlanningCreatedResponse{Message: "Planejamento criado com sucesso", ID: p.ID, Data: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-planning",
		Method:      http.MethodGet,
		Path:        "/planejamento/{id}",
		Summary:     "Get a planning",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Planning `json:"body"`
	}, error) {
		p, err := s.GetPlanning(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Planning `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plannings",
		Method:      http.MethodGet,
		Path:        "/planejamentos",
		Summary:     "List plannings, most recent date first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		From  string `query:"data_inicio"`
		To    string `query:"data_fim"`
		Team  string `query:"equipe"`
		Shift string `query:"turno"`
	}) (*struct {
		Body PlanningListResponse `json:"body"`
	}, error) {
		items, err := s.ListPlannings(ctx, domain.PlanningFilter{From: input.From, To: input.To, Team: input.Team, Shift: input.Shift})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanningListResponse `json:"body"`
		}{Body: PlanningListResponse{Items: items, Total: len(items)}}, nil
	})
}

// stepRoute describes one PUT step update.
type stepRoute struct {
	id      string
	path    string
	summary string
	message string
	apply   func(ctx context.Context, id int64, raw []byte) (domain.Planning, error)
}

func registerSteps(api huma.API, s *Service) {
	routes := []stepRoute{
		{"update-triage", "/triagem/{id}", "Store triage counters", "Triagem atualizada com sucesso",
			func(ctx context.Context, id int64, raw []byte) (domain.Planning, error) {
				var req TriageRequest
				if err := decodeBody(raw, &req); err != nil {
					return domain.Planning{}, err
				}
				return s.UpdateTriage(ctx, id, req)
			}},
		{"update-execution", "/execucao/{id}", "Store execution counters", "Execução atualizada com sucesso",
			func(ctx context.Context, id int64, raw []byte) (domain.Planning, error) {
				var req ExecutionRequest
				if err := decodeBody(raw, &req); err != nil {
					return domain.Planning{}, err
				}
				return s.UpdateExecution(ctx, id, req)
			}},
		{"update-supervision", "/supervisao/{id}", "Store the supervisor review", "Supervisão atualizada com sucesso",
			func(ctx context.Context, id int64, raw []byte) (domain.Planning, error) {
				var req SupervisionRequest
				if err := decodeBody(raw, &req); err != nil {
					return domain.Planning{}, err
				}
				return s.UpdateSupervision(ctx, id, req)
			}},
	}
	for _, rt := range routes {
		rt := rt
		huma.Register(api, huma.Operation{
			OperationID: rt.id,
			Method:      http.MethodPut,
			Path:        rt.path,
			Summary:     rt.summary,
			Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
		}, func(ctx context.Context, input *rawBodyInput) (*struct {
			Body PlanningUpdatedResponse `json:"body"`
		}, error) {
			p, err := rt.apply(ctx, input.ID, input.RawBody)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body PlanningUpdatedResponse `json:"body"`
			}{Body: PlanningUpdatedResponse{Message: rt.message, Data: p}}, nil
		})
	}
}

func registerReports(api huma.API, s *Service) {
	huma.Register(api, huma.Operation{
		OperationID: "finalize-planning",
		Method:      http.MethodPost,
		Path:        "/relatorio/{id}",
		Summary:     "Consolidate and store the final report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body FinalizeResponse `json:"body"`
	}, error) {
		report, err := s.Finalize(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FinalizeResponse `json:"body"`
		}{Body: FinalizeResponse{Message: "Relatório gerado com sucesso", Report: report}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/relatorios",
		Summary:     "List stored reports, most recent date first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		From string `query:"data_inicio"`
		To   string `query:"data_fim"`
		Team string `query:"equipe"`
	}) (*struct {
		Body ReportListResponse `json:"body"`
	}, error) {
		items, err := s.ListReports(ctx, domain.PlanningFilter{From: input.From, To: input.To, Team: input.Team})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportListResponse `json:"body"`
		}{Body: ReportListResponse{Items: items, Total: len(items)}}, nil
	})
}

func registerDashboard(api huma.API, s *Service) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Aggregate statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DashboardResponse `json:"body"`
	}, error) {
		resp, err := s.Dashboard(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DashboardResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, s *Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		items, err := s.Events(ctx, input.Limit, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Items: items}}, nil
	})
}
