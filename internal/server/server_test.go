package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"diario/internal/collect"
	"diario/internal/db"
	"diario/internal/domain"
	"diario/internal/engine"
	"diario/internal/migrate"
	diariosdk "diario/sdk/go"
)

type testServer struct {
	URL     string
	Service *Service
	client  *http.Client
	close   func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc := NewService(conn, nil)
	svc.Now = func() time.Time { return time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Service: svc})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:     "http://" + ln.Addr().String(),
		Service: svc,
		client:  &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorMessage(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope %s: %v", string(data), err)
	}
	return env.Error
}

var planningBody = map[string]any{
	"data":                          "2024-05-01",
	"turno":                         "M1",
	"equipe":                        "Equipe 7",
	"colaborador1":                  "Ana",
	"colaborador2":                  "Bruno",
	"veiculo":                       "ABC-1234",
	"regiao":                        "Norte",
	"protocolos_nao_enviados_prazo": "2",
	"protocolos_vencem_no_turno":    5,
}

func createPlanning(t *testing.T, srv *testServer) int64 {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/planejamento", planningBody)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create planning status %d: %s", res.StatusCode, string(data))
	}
	var created PlanningCreatedResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal created: %v", err)
	}
	if created.ID == 0 || created.Message != "Planejamento criado com sucesso" {
		t.Fatalf("unexpected response %+v", created)
	}
	return created.ID
}

func TestPlanningLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	id := createPlanning(t, srv)
	base := srv.URL + "/api"
	path := func(resource string) string { return base + "/" + resource + "/" + jsonID(id) }

	res, data := doJSON(t, client, http.MethodPut, path("triagem"), map[string]any{
		"protocolos_prazo": "12", "protocolos_vencidos": 3, "comentario_triagem": "fila",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("triage status %d: %s", res.StatusCode, string(data))
	}
	var triage PlanningUpdatedResponse
	if err := json.Unmarshal(data, &triage); err != nil {
		t.Fatalf("unmarshal triage: %v", err)
	}
	if triage.Message != "Triagem atualizada com sucesso" || deref(triage.Data.Total) != 15 {
		t.Fatalf("unexpected triage %+v", triage)
	}
	if triage.Data.TriageStatus == nil || *triage.Data.TriageStatus != "atencao" {
		t.Fatalf("triage status = %v", triage.Data.TriageStatus)
	}

	res, data = doJSON(t, client, http.MethodPut, path("execucao"), map[string]any{
		"atendido": 12, "impossibilidade": 2, "nao_executado": 1, "comentario_execucao": "",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("execution status %d: %s", res.StatusCode, string(data))
	}
	var exec PlanningUpdatedResponse
	_ = json.Unmarshal(data, &exec)
	if deref(exec.Data.Efficiency) != 80 || exec.Data.Classification == nil || *exec.Data.Classification != "regular" {
		t.Fatalf("unexpected execution %+v", exec.Data)
	}

	res, data = doJSON(t, client, http.MethodPut, path("supervisao"), map[string]any{"comentario_supervisor": "ok"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("supervision status %d: %s", res.StatusCode, string(data))
	}
	var sup PlanningUpdatedResponse
	_ = json.Unmarshal(data, &sup)
	if sup.Data.SupervisorFeedback == nil || *sup.Data.SupervisorFeedback != "neutro" {
		t.Fatalf("default sentiment not applied: %+v", sup.Data)
	}

	res, data = doJSON(t, client, http.MethodPost, path("relatorio"), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finalize status %d: %s", res.StatusCode, string(data))
	}
	var final FinalizeResponse
	if err := json.Unmarshal(data, &final); err != nil {
		t.Fatalf("unmarshal final: %v", err)
	}
	metrics, _ := final.Report["metricas"].(map[string]any)
	if final.Message != "Relatório gerado com sucesso" || metrics["eficiencia"] != float64(80) {
		t.Fatalf("unexpected report %+v", final)
	}

	res, data = doJSON(t, client, http.MethodGet, path("planejamento"), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var stored domain.Planning
	_ = json.Unmarshal(data, &stored)
	if stored.FinalStatus == nil || *stored.FinalStatus != "finalizado" {
		t.Fatalf("planning not finalized: %+v", stored)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/relatorios?equipe=Equipe", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reports status %d: %s", res.StatusCode, string(data))
	}
	var reports ReportListResponse
	_ = json.Unmarshal(data, &reports)
	if reports.Total != 1 || reports.Items[0].PlanningID != id {
		t.Fatalf("unexpected reports %+v", reports)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/dashboard", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status %d: %s", res.StatusCode, string(data))
	}
	var dash DashboardResponse
	_ = json.Unmarshal(data, &dash)
	if dash.Stats.TotalPlannings != 1 || dash.Stats.FinalizedPlannings != 1 || dash.Stats.AverageEfficiency != 80 {
		t.Fatalf("unexpected dashboard %+v", dash.Stats)
	}
	if dash.Stats.NotSentOnTime != 2 || dash.Stats.DueToday != 5 || dash.Stats.StatusCounts["finalizado"] != 1 {
		t.Fatalf("unexpected dashboard counters %+v", dash.Stats)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/events?limit=10", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts EventListResponse
	_ = json.Unmarshal(data, &evts)
	if len(evts.Items) != 5 || evts.Items[0].Type != "planning.finalized" {
		t.Fatalf("unexpected events %+v", evts.Items)
	}
}

func TestCreatePlanningRejectsBadInput(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	url := srv.URL + "/api/planejamento"

	missing := map[string]any{"data": "2024-05-01", "turno": "M1", "colaborador1": "Ana"}
	res, data := doJSON(t, srv.Client(), http.MethodPost, url, missing)
	if res.StatusCode != http.StatusBadRequest || errorMessage(t, data) != "Campo obrigatório: equipe" {
		t.Fatalf("missing field: status %d body %s", res.StatusCode, string(data))
	}

	badDate := map[string]any{"data": "01/05/2024", "turno": "M1", "equipe": "E", "colaborador1": "Ana"}
	res, data = doJSON(t, srv.Client(), http.MethodPost, url, badDate)
	if res.StatusCode != http.StatusBadRequest || errorMessage(t, data) != "Data inválida: 01/05/2024" {
		t.Fatalf("bad date: status %d body %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, url, `{"data":`)
	if res.StatusCode != http.StatusBadRequest || !strings.HasPrefix(errorMessage(t, data), "JSON inválido") {
		t.Fatalf("bad json: status %d body %s", res.StatusCode, string(data))
	}
}

func TestDuplicatePlanningConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createPlanning(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/planejamento", planningBody)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if msg := errorMessage(t, data); msg != msgDuplicate {
		t.Fatalf("message = %q", msg)
	}
}

func TestUnknownPlanningNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	cases := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/api/planejamento/99", nil},
		{http.MethodPut, "/api/triagem/99", map[string]any{"protocolos_prazo": 1}},
		{http.MethodPut, "/api/execucao/99", map[string]any{"atendido": 1}},
		{http.MethodPut, "/api/supervisao/99", map[string]any{}},
		{http.MethodPost, "/api/relatorio/99", nil},
	}
	for _, tc := range cases {
		res, data := doJSON(t, srv.Client(), tc.method, srv.URL+tc.path, tc.body)
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d: %s", tc.method, tc.path, res.StatusCode, string(data))
		}
		if msg := errorMessage(t, data); msg != msgNotFound {
			t.Fatalf("%s %s: message %q", tc.method, tc.path, msg)
		}
	}
}

func TestListPlanningsFilters(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createPlanning(t, srv)
	other := map[string]any{"data": "2024-04-30", "turno": "T1", "equipe": "Equipe 9", "colaborador1": "Caio"}
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/planejamento", other); res.StatusCode != http.StatusCreated {
		t.Fatalf("create second: %d %s", res.StatusCode, string(data))
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"2024-05-01", "2024-04-30"}},
		{"?data_inicio=2024-05-01", []string{"2024-05-01"}},
		{"?equipe=9", []string{"2024-04-30"}},
		{"?turno=M1&data_fim=2024-04-30", nil},
	}
	for _, tt := range tests {
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/planejamentos"+tt.query, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list %q: %d %s", tt.query, res.StatusCode, string(data))
		}
		var list PlanningListResponse
		if err := json.Unmarshal(data, &list); err != nil {
			t.Fatalf("unmarshal list: %v", err)
		}
		var got []string
		for _, p := range list.Items {
			got = append(got, p.Date)
		}
		if strings.Join(got, ",") != strings.Join(tt.want, ",") || list.Total != len(tt.want) {
			t.Fatalf("list %q = %v (total %d), want %v", tt.query, got, list.Total, tt.want)
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/planejamentos?data_inicio=ontem", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad range: %d %s", res.StatusCode, string(data))
	}
}

func TestEngineAgainstServer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	client := diariosdk.New(srv.URL + "/api")
	eng := engine.New(engine.Options{
		Backend:   client,
		ExportDir: t.TempDir(),
		AfterFunc: func(time.Duration, func()) engine.Timer { return time.NewTimer(time.Hour) },
	})
	defer eng.Close()

	form := collect.FormSnapshot{
		domain.FieldDate: "2024-05-01", domain.FieldShift: "M1", domain.FieldTeam: "Equipe 7",
		domain.FieldCollaborator1: "Ana", domain.FieldNotSentOnTime: "2",
	}
	if err := eng.SubmitPlanning(ctx, form); err != nil {
		t.Fatalf("planning: %v", err)
	}
	if err := eng.SubmitTriage(ctx, collect.TriageData{OnTime: 12, Overdue: 3, Total: 15}); err != nil {
		t.Fatalf("triage: %v", err)
	}
	if err := eng.SubmitExecution(ctx, collect.ExecutionData{Handled: 12, Impossible: 2, NotExecuted: 1}); err != nil {
		t.Fatalf("execution: %v", err)
	}
	if err := eng.SubmitSupervision(ctx, collect.SupervisionData{Comment: "ok", Sentiment: "positivo"}); err != nil {
		t.Fatalf("supervision: %v", err)
	}
	if err := eng.Finalize(ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	st := eng.Snapshot()
	if !st.Finalized || st.Record.PlanningID == nil || st.Indicators == nil || st.Indicators.Efficiency != 80 {
		t.Fatalf("unexpected state %+v", st)
	}

	plannings, err := client.ListPlannings(ctx, diariosdk.Filter{})
	if err != nil {
		t.Fatalf("list plannings: %v", err)
	}
	if len(plannings) != 1 {
		t.Fatalf("expected one planning, got %d", len(plannings))
	}
	id, err := strconv.ParseInt(plannings[0].ID.String(), 10, 64)
	if err != nil {
		t.Fatalf("planning id %q: %v", plannings[0].ID, err)
	}
	stored, err := srv.Service.GetPlanning(ctx, id)
	if err != nil {
		t.Fatalf("get planning: %v", err)
	}
	if stored.SupervisorFeedback == nil || *stored.SupervisorFeedback != "positivo" || stored.FinalStatus == nil || *stored.FinalStatus != "finalizado" {
		t.Fatalf("unexpected stored planning %+v", stored)
	}

	// a second entry for the same date, shift and team is rejected by the backend
	eng.Reset()
	err = eng.SubmitPlanning(ctx, form)
	var rej *engine.ServerRejection
	if err == nil || !errors.As(err, &rej) || rej.Message != msgDuplicate {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func jsonID(id int64) string {
	return strconv.FormatInt(id, 10)
}
