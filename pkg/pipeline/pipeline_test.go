package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"

	"github.com/trendfire/trendfire/pkg/config"
	"github.com/trendfire/trendfire/pkg/earthengine"
	"github.com/trendfire/trendfire/pkg/export"
	"github.com/trendfire/trendfire/pkg/stores"
	"github.com/trendfire/trendfire/pkg/trend"
)

const testProject = "test-project"

const goaGeoJSON = `{
	"type": "FeatureCollection",
	"features": [{
		"type": "Feature",
		"properties": {"name": "Goa"},
		"geometry": {
			"type": "Polygon",
			"coordinates": [[[73.68, 14.89], [73.68, 15.80], [74.34, 15.80], [74.34, 14.89], [73.68, 14.89]]]
		}
	}]
}`

// stubService is an in-memory Earth Engine REST endpoint.
type stubService struct {
	mu       sync.Mutex
	exports  []map[string]interface{}
	gets     []string
	failAt   int
	failCode int
	states   map[string]string
}

func (s *stubService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/projects/"+testProject+"/image:export":
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.exports = append(s.exports, body)
		if s.failAt > 0 && len(s.exports) == s.failAt {
			w.WriteHeader(s.failCode)
			fmt.Fprintf(w, `{"error": {"code": %d, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`, s.failCode)
			return
		}
		fmt.Fprintf(w, `{"name": "projects/%s/operations/OP%d", "metadata": {"state": "PENDING"}}`, testProject, len(s.exports))

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/projects/"+testProject+"/operations/"):
		name := strings.TrimPrefix(r.URL.Path, "/v1/")
		s.gets = append(s.gets, name)
		switch state := s.states[name]; state {
		case "":
			fmt.Fprintf(w, `{"name": %q, "metadata": {"state": "RUNNING"}}`, name)
		case earthengine.StateFailed:
			fmt.Fprintf(w, `{"name": %q, "done": true, "error": {"code": 3, "message": "band mismatch"}}`, name)
		default:
			fmt.Fprintf(w, `{"name": %q, "done": true, "metadata": {"state": %q}}`, name, state)
		}

	default:
		http.NotFound(w, r)
	}
}

func (s *stubService) exportCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.exports)
}

func newStubSession(t *testing.T, svc *stubService) *earthengine.Session {
	t.Helper()
	server := httptest.NewServer(svc)
	t.Cleanup(server.Close)

	session, err := earthengine.NewSession(context.Background(), earthengine.Options{
		Project:     testProject,
		BaseURL:     server.URL,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "token"}),
		HTTPClient:  server.Client(),
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return session
}

func testConfig(t *testing.T) *config.PipelineConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pa_boundary.geojson")
	if err := os.WriteFile(path, []byte(goaGeoJSON), 0o644); err != nil {
		t.Fatalf("write boundary: %v", err)
	}
	cfg := config.Default()
	cfg.Project = testProject
	cfg.Boundary.Path = path
	return cfg
}

func openStore(t *testing.T) stores.Store {
	t.Helper()
	store, err := stores.Open(context.Background(), stores.MemoryPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestPipeline(t *testing.T, cfg *config.PipelineConfig, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func assetName(id string) string {
	return "projects/" + testProject + "/assets/" + id
}

func exportTarget(body map[string]interface{}) string {
	if opts, ok := body["assetExportOptions"].(map[string]interface{}); ok {
		dest := opts["earthEngineDestination"].(map[string]interface{})
		return dest["name"].(string)
	}
	opts := body["fileExportOptions"].(map[string]interface{})
	dest := opts["driveDestination"].(map[string]interface{})
	return "drive:" + dest["folder"].(string) + "/" + dest["filenamePrefix"].(string)
}

func TestRunSubmitsOneAssetExportPerProduct(t *testing.T) {
	svc := &stubService{}
	store := openStore(t)
	cfg := testConfig(t)

	p := newTestPipeline(t, cfg, WithSession(newStubSession(t, svc)), WithStore(store), WithConfigPath("trendfire.cue"))
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var targets []string
	for _, body := range svc.exports {
		targets = append(targets, exportTarget(body))

		if body["maxPixels"] != "10000000000000" {
			t.Errorf("maxPixels = %v", body["maxPixels"])
		}
		encoded, _ := json.Marshal(body["expression"])
		if !strings.Contains(string(encoded), "Image.clipToBoundsAndScale") {
			t.Errorf("export of %s is not clipped to the region", exportTarget(body))
		}
		if !strings.Contains(string(encoded), "GeometryConstructors.Polygon") {
			t.Errorf("export of %s carries no region polygon", exportTarget(body))
		}
	}
	want := []string{
		assetName("Trend2023_landsat"),
		assetName("Trend2022_rain_new"),
		assetName("Trend2023_SM_new"),
		assetName("Trend2024_RH_new"),
		assetName("Trend2024_all_new"),
	}
	if diff := cmp.Diff(want, targets); diff != "" {
		t.Errorf("export targets mismatch (-want +got):\n%s", diff)
	}

	if len(res.Tasks) != 5 {
		t.Fatalf("tasks = %d, want 5", len(res.Tasks))
	}
	for i, task := range res.Tasks {
		if task.Scale != 30 || task.State != earthengine.StatePending {
			t.Errorf("task %d = %+v", i, task)
		}
		if task.Operation != fmt.Sprintf("projects/%s/operations/OP%d", testProject, i+1) {
			t.Errorf("task %d operation = %s", i, task.Operation)
		}
	}

	run, err := store.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != stores.RunStatusCompleted || run.Project != testProject || run.ConfigPath != "trendfire.cue" {
		t.Errorf("run = %+v", run)
	}
	tasks, err := store.ListTasks(context.Background(), stores.TaskFilter{RunID: res.RunID})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(tasks) != 5 || tasks[4].Product != "all" {
		t.Errorf("ledger tasks = %d", len(tasks))
	}
}

func TestRunWithDrive(t *testing.T) {
	svc := &stubService{}
	cfg := testConfig(t)
	cfg.Export.Drive = true
	cfg.Export.AssetRoot = "trendfire"
	cfg.Export.Targets = map[string]config.TargetConfig{
		"rain": {AssetID: "rain_2025", Description: "Rain_2025", FilePrefix: "rain_geotiff"},
	}

	res, err := newTestPipeline(t, cfg, WithSession(newStubSession(t, svc))).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var targets []string
	for _, body := range svc.exports {
		targets = append(targets, exportTarget(body))
	}
	want := []string{
		assetName("trendfire/Trend2023_landsat"), "drive:GEE_Exports/Trend2023_landsat",
		assetName("trendfire/rain_2025"), "drive:GEE_Exports/rain_geotiff",
		assetName("trendfire/Trend2023_SM_new"), "drive:GEE_Exports/Trend2023_SM_new",
		assetName("trendfire/Trend2024_RH_new"), "drive:GEE_Exports/Trend2024_RH_new",
		assetName("trendfire/Trend2024_all_new"), "drive:GEE_Exports/Trend2024_all_new",
	}
	if diff := cmp.Diff(want, targets); diff != "" {
		t.Errorf("export targets mismatch (-want +got):\n%s", diff)
	}
	if len(res.Tasks) != 10 {
		t.Errorf("tasks = %d, want 10", len(res.Tasks))
	}
}

func TestRunPolicyDenied(t *testing.T) {
	svc := &stubService{}
	store := openStore(t)
	cfg := testConfig(t)
	cfg.Export.AssetRoot = "trendfire"
	cfg.Export.Targets = map[string]config.TargetConfig{
		"all": {AssetID: "../elsewhere/all", Description: "All"},
	}

	res, err := newTestPipeline(t, cfg, WithSession(newStubSession(t, svc)), WithStore(store)).Run(context.Background())
	if err == nil {
		t.Fatal("Run() succeeded")
	}
	if !IsDenied(err) || !errors.Is(err, export.ErrPolicyDenied) {
		t.Errorf("error = %v, want a policy denial", err)
	}
	if n := svc.exportCount(); n != 0 {
		t.Errorf("%d exports sent before the denial", n)
	}

	run, err := store.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != stores.RunStatusFailed || run.Error == nil {
		t.Errorf("run = %+v", run)
	}
}

func TestRunPolicyDisabled(t *testing.T) {
	svc := &stubService{}
	cfg := testConfig(t)
	cfg.Policy.Enabled = false
	cfg.Export.MaxPixels = 1e14

	if _, err := newTestPipeline(t, cfg, WithSession(newStubSession(t, svc))).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := svc.exportCount(); n != 5 {
		t.Errorf("exports = %d, want 5", n)
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(cfg *config.PipelineConfig)
		session   bool
		wantStage string
		wantClass ErrorClass
		check     func(t *testing.T, err error)
	}{
		{
			name:      "session",
			modify:    func(cfg *config.PipelineConfig) { cfg.CredentialsFile = filepath.Join(t.TempDir(), "missing.json") },
			wantStage: "session",
			wantClass: ErrorClassPermanent,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, earthengine.ErrNotInitialized) {
					t.Errorf("error = %v, want ErrNotInitialized", err)
				}
			},
		},
		{
			name:      "missing boundary",
			modify:    func(cfg *config.PipelineConfig) { cfg.Boundary.Path = filepath.Join(t.TempDir(), "nope.shp") },
			session:   true,
			wantStage: "boundary",
			wantClass: ErrorClassPermanent,
			check: func(t *testing.T, err error) {
				if !IsNoBoundary(err) || !errors.Is(err, ErrNoBoundary) {
					t.Errorf("error = %v, want ErrNoBoundary", err)
				}
			},
		},
		{
			name: "custom index shadows builtin",
			modify: func(cfg *config.PipelineConfig) {
				cfg.Landsat.CustomIndices = []config.CustomIndex{{Name: "ndvi", Script: `index = band("SR_B4")`}}
			},
			session:   true,
			wantStage: "build",
			wantClass: ErrorClassPermanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{}
			cfg := testConfig(t)
			tt.modify(cfg)

			var opts []Option
			if tt.session {
				opts = append(opts, WithSession(newStubSession(t, svc)))
			}
			_, err := newTestPipeline(t, cfg, opts...).Run(context.Background())
			if err == nil {
				t.Fatal("Run() succeeded")
			}

			var pe *PipelineError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %T %v, want *PipelineError", err, err)
			}
			if pe.Stage != tt.wantStage || pe.Class != tt.wantClass {
				t.Errorf("stage/class = %s/%s, want %s/%s", pe.Stage, pe.Class, tt.wantStage, tt.wantClass)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
			if n := svc.exportCount(); n != 0 {
				t.Errorf("%d exports sent", n)
			}
		})
	}
}

func TestRunStopsAtFirstRejectedExport(t *testing.T) {
	svc := &stubService{failAt: 3, failCode: http.StatusTooManyRequests}
	store := openStore(t)

	res, err := newTestPipeline(t, testConfig(t), WithSession(newStubSession(t, svc)), WithStore(store)).Run(context.Background())
	if err == nil {
		t.Fatal("Run() succeeded")
	}
	if !IsThrottled(err) {
		t.Errorf("error = %v, want throttled", err)
	}
	var pe *PipelineError
	if errors.As(err, &pe) && pe.Product != "sm" {
		t.Errorf("failed product = %q, want sm", pe.Product)
	}
	var apiErr *earthengine.APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatus != http.StatusTooManyRequests {
		t.Errorf("acknowledgment error not surfaced: %v", err)
	}

	if n := svc.exportCount(); n != 3 {
		t.Errorf("exports = %d, want 3", n)
	}
	if len(res.Tasks) != 2 {
		t.Errorf("tasks = %d, want 2", len(res.Tasks))
	}
	tasks, _ := store.ListTasks(context.Background(), stores.TaskFilter{RunID: res.RunID})
	if len(tasks) != 2 {
		t.Errorf("ledger tasks = %d, want 2", len(tasks))
	}
	run, _ := store.GetRun(context.Background(), res.RunID)
	if run == nil || run.Status != stores.RunStatusFailed {
		t.Errorf("run = %+v", run)
	}
}

func TestPlan(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.Drive = true

	plan, err := newTestPipeline(t, cfg).Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	var products []export.Product
	for _, pp := range plan.Products {
		products = append(products, pp.Product)
		if len(pp.Requests) != 2 {
			t.Errorf("%s requests = %d, want 2", pp.Product, len(pp.Requests))
		}
	}
	if diff := cmp.Diff(export.Products(), products); diff != "" {
		t.Errorf("products mismatch (-want +got):\n%s", diff)
	}
	if got := len(plan.Requests()); got != 10 {
		t.Errorf("Requests() = %d, want 10", got)
	}

	all := plan.Products[len(plan.Products)-1]
	wantBands := 0
	for _, pp := range plan.Products[:len(plan.Products)-1] {
		wantBands += len(pp.Bands)
	}
	if len(all.Bands) != wantBands {
		t.Errorf("all bands = %d, want %d", len(all.Bands), wantBands)
	}
	if plan.Region == nil || plan.Project != testProject {
		t.Errorf("plan = %+v", plan)
	}
}

func TestPlanCustomIndex(t *testing.T) {
	cfg := testConfig(t)
	cfg.Landsat.CustomIndices = []config.CustomIndex{{Name: "gndvi", Script: `index = nd("SR_B5", "SR_B3")`}}
	cfg.Landsat.Variables = []trend.Variable{{Band: "ndvi"}, {Band: "gndvi"}}

	plan, err := newTestPipeline(t, cfg).Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	want := []string{"ndvi_Slope", "ndvi_Intercept", "gndvi_Slope", "gndvi_Intercept"}
	if diff := cmp.Diff(want, plan.Products[0].Bands); diff != "" {
		t.Errorf("landsat bands mismatch (-want +got):\n%s", diff)
	}
}

func TestRefreshTasks(t *testing.T) {
	svc := &stubService{}
	store := openStore(t)
	p := newTestPipeline(t, testConfig(t), WithSession(newStubSession(t, svc)), WithStore(store))

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	svc.states = map[string]string{
		res.Tasks[0].Operation: earthengine.StateSucceeded,
		res.Tasks[1].Operation: earthengine.StateFailed,
	}
	tasks, err := p.RefreshTasks(context.Background(), stores.TaskFilter{RunID: res.RunID})
	if err != nil {
		t.Fatalf("RefreshTasks() error = %v", err)
	}
	if len(svc.gets) != 5 {
		t.Errorf("operations.get calls = %d, want 5", len(svc.gets))
	}

	wantStates := []string{
		earthengine.StateSucceeded, earthengine.StateFailed,
		earthengine.StateRunning, earthengine.StateRunning, earthengine.StateRunning,
	}
	var got []string
	for _, task := range tasks {
		got = append(got, task.State)
	}
	if diff := cmp.Diff(wantStates, got); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}

	stored, err := store.GetTask(context.Background(), res.Tasks[1].RequestID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if stored.State != earthengine.StateFailed || stored.Error == nil || *stored.Error != "band mismatch" {
		t.Errorf("stored task = %+v", stored)
	}

	// Finished tasks are not fetched again.
	svc.gets = nil
	if _, err := p.RefreshTasks(context.Background(), stores.TaskFilter{RunID: res.RunID}); err != nil {
		t.Fatalf("second RefreshTasks() error = %v", err)
	}
	if len(svc.gets) != 3 {
		t.Errorf("second refresh operations.get calls = %d, want 3", len(svc.gets))
	}
}

func TestTasksWithoutStore(t *testing.T) {
	p := newTestPipeline(t, testConfig(t))
	if _, err := p.Tasks(context.Background(), stores.TaskFilter{}); !errors.Is(err, ErrNoStore) {
		t.Errorf("Tasks() error = %v, want ErrNoStore", err)
	}
}
