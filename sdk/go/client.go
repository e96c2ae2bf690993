package diariosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is where the daily log API listens by default.
const DefaultBaseURL = "http://127.0.0.1:5000/api"

// Client is a minimal daily log HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// ID is a backend identifier. The API may encode it as a JSON number or string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// PlanningCreated is the response to CreatePlanning.
type PlanningCreated struct {
	ID      ID             `json:"id"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// Updated is the response to the step update calls.
type Updated struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// FinalReport is the response to Finalize.
type FinalReport struct {
	Message string         `json:"message"`
	Report  map[string]any `json:"relatorio"`
}

// Planning represents the stored planning row (partial).
type Planning struct {
	ID             ID      `json:"id"`
	Date           string  `json:"data"`
	Shift          string  `json:"turno"`
	Team           string  `json:"equipe"`
	Collaborator1  string  `json:"colaborador1"`
	Collaborator2  *string `json:"colaborador2"`
	Total          *int    `json:"total_protocolos"`
	Handled        *int    `json:"atendido"`
	Impossible     *int    `json:"impossibilidade"`
	Efficiency     *int    `json:"eficiencia"`
	Classification *string `json:"classificacao"`
	TriageStatus   *string `json:"status_triagem"`
	FinalStatus    *string `json:"status_final"`
	CreatedAt      string  `json:"created_at"`
}

// Report represents a stored consolidated report.
type Report struct {
	ID         ID             `json:"id"`
	PlanningID ID             `json:"planejamento_id"`
	Date       string         `json:"data"`
	Shift      string         `json:"turno"`
	Team       string         `json:"equipe"`
	Report     map[string]any `json:"relatorio"`
	CreatedAt  string         `json:"created_at"`
}

// Dashboard aggregates stored plannings.
type Dashboard struct {
	Stats struct {
		TotalPlannings     int            `json:"total_planejamentos"`
		FinalizedPlannings int            `json:"planejamentos_finalizados"`
		AverageEfficiency  float64        `json:"eficiencia_media"`
		StatusCounts       map[string]int `json:"status_counts"`
		NotSentOnTime      int            `json:"total_protocolos_nao_enviados"`
		DueToday           int            `json:"total_protocolos_vencem_hoje"`
	} `json:"estatisticas"`
	Recent []Planning `json:"planejamentos_recentes"`
}

// Event represents a log entry of the development backend.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Payload    string `json:"payload_json"`
}

// Filter narrows planning and report listings.
type Filter struct {
	From  string
	To    string
	Team  string
	Shift string
}

func (f Filter) query() string {
	q := url.Values{}
	if f.From != "" {
		q.Set("data_inicio", f.From)
	}
	if f.To != "" {
		q.Set("data_fim", f.To)
	}
	if f.Team != "" {
		q.Set("equipe", f.Team)
	}
	if f.Shift != "" {
		q.Set("turno", f.Shift)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// MsgMissingID is the message of the APIError returned when a create
// response carries no planning id.
const MsgMissingID = "Resposta do servidor sem ID do planejamento"

// APIError wraps non-2xx responses and create responses without an id. Message holds the "error" field of the
// body when the backend sent one.
type APIError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// CreatePlanning creates a workflow instance from the planning fields.
func (c *Client) CreatePlanning(ctx context.Context, body any) (PlanningCreated, error) {
	var resp PlanningCreated
	status, err := c.send(ctx, http.MethodPost, "planejamento", body, &resp)
	if err == nil && resp.ID == "" {
		err = &APIError{StatusCode: status, Message: MsgMissingID}
	}
	return resp, err
}

// UpdateTriage stores the triage fields of planning id.
func (c *Client) UpdateTriage(ctx context.Context, id string, body any) (Updated, error) {
	return c.update(ctx, "triagem", id, body)
}

// UpdateExecution stores the execution fields of planning id.
func (c *Client) UpdateExecution(ctx context.Context, id string, body any) (Updated, error) {
	return c.update(ctx, "execucao", id, body)
}

// UpdateSupervision stores the supervision fields of planning id.
func (c *Client) UpdateSupervision(ctx context.Context, id string, body any) (Updated, error) {
	return c.update(ctx, "supervisao", id, body)
}

func (c *Client) update(ctx context.Context, resource, id string, body any) (Updated, error) {
	var resp Updated
	endpoint := fmt.Sprintf("%s/%s", resource, url.PathEscape(id))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// Finalize builds and stores the consolidated report of planning id.
func (c *Client) Finalize(ctx context.Context, id string) (FinalReport, error) {
	var resp FinalReport
	endpoint := fmt.Sprintf("relatorio/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// GetPlanning fetches a planning by id.
func (c *Client) GetPlanning(ctx context.Context, id string) (map[string]any, error) {
	var resp map[string]any
	endpoint := fmt.Sprintf("planejamento/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListPlannings returns plannings, newest date first.
func (c *Client) ListPlannings(ctx context.Context, f Filter) ([]Planning, error) {
	var resp struct {
		Items []Planning `json:"planejamentos"`
		Total int        `json:"total"`
	}
	err := c.do(ctx, http.MethodGet, "planejamentos"+f.query(), nil, &resp)
	return resp.Items, err
}

// ListReports returns stored reports, newest date first. Shift is ignored.
func (c *Client) ListReports(ctx context.Context, f Filter) ([]Report, error) {
	f.Shift = ""
	var resp struct {
		Items []Report `json:"relatorios"`
		Total int      `json:"total"`
	}
	err := c.do(ctx, http.MethodGet, "relatorios"+f.query(), nil, &resp)
	return resp.Items, err
}

// Dashboard returns aggregate statistics.
func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, "dashboard", nil, &resp)
	return resp, err
}

// Health pings the API.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// Events returns recent events of the development backend.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	_, err := c.send(ctx, method, endpoint, body, out)
	return err
}

// send performs the request and returns the response status.
func (c *Client) send(ctx context.Context, method, endpoint string, body any, out any) (int, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Message = envelope.Error
		}
		return resp.StatusCode, apiErr
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) base() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}
