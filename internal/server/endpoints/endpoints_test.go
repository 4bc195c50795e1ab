package endpoints

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
	"testing"

	"github.com/jackzampolin/castwright/internal/config"
	"github.com/jackzampolin/castwright/internal/home"
	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/svcctx"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &pipeline.ValidationError{Field: "chapters", Reason: "must be positive"}, http.StatusBadRequest},
		{"not_found", fmt.Errorf("load: %w", pipeline.ErrTopicNotFound), http.StatusNotFound},
		{"not_found_in_consistency", &pipeline.ConsistencyError{TopicID: "t", Err: pipeline.ErrTopicNotFound}, http.StatusNotFound},
		{"failed", pipeline.ErrTopicFailed, http.StatusConflict},
		{"illegal_transition", pipeline.ErrIllegalTransition, http.StatusConflict},
		{"consistency", &pipeline.ConsistencyError{TopicID: "t", Reason: "no jobs"}, http.StatusConflict},
		{"canceled", context.Canceled, http.StatusServiceUnavailable},
		{"deadline", fmt.Errorf("poll: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		key  string
		in   any
		want any
	}{
		{"providers.openai.api_key", "sk-live-123", "********"},
		{"providers.openai.api_key", "${OPENAI_API_KEY}", "${OPENAI_API_KEY}"},
		{"providers.openai.api_key", "", ""},
		{"providers.openai.voice", "onyx", "onyx"},
		{"pipeline.chunk_size", 2000, 2000},
	}
	for _, tt := range tests {
		if got := redact(tt.key, tt.in); got != tt.want {
			t.Errorf("redact(%q, %v) = %v, want %v", tt.key, tt.in, got, tt.want)
		}
	}
}

func newSettingsServer(t *testing.T, yaml string) *httptest.Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svcs := &svcctx.Services{ConfigMgr: mgr, Home: h}

	mux := http.NewServeMux()
	for _, ep := range []interface {
		Route() (string, string, http.HandlerFunc)
	}{&ListSettingsEndpoint{}, &GetSettingEndpoint{}} {
		method, route, h := ep.Route()
		mux.HandleFunc(method+" "+route, h)
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), svcs)))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestSettingsEndpoints(t *testing.T) {
	ts := newSettingsServer(t, `
providers:
  openai:
    api_key: sk-secret
pipeline:
  chunk_size: 900
`)

	t.Run("list_with_prefix", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/settings?prefix=pipeline.")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out SettingsResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		if len(out.Settings) == 0 {
			t.Fatal("expected pipeline settings")
		}
		if out.Home == "" {
			t.Error("home path should be reported")
		}
		for i, s := range out.Settings {
			if !strings.HasPrefix(s.Key, "pipeline.") {
				t.Errorf("unexpected key %s", s.Key)
			}
			if i > 0 && out.Settings[i-1].Key > s.Key {
				t.Error("settings should be sorted by key")
			}
		}
	})

	t.Run("get_overridden", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/settings/pipeline.chunk_size")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var s Setting
		if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(s.Value) != "900" {
			t.Errorf("value = %v, want 900", s.Value)
		}
		if fmt.Sprint(s.Default) == "900" {
			t.Error("default should differ from the override")
		}
	})

	t.Run("api_key_redacted", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/settings/providers.openai.api_key")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var s Setting
		json.NewDecoder(resp.Body).Decode(&s)
		if s.Value != "********" {
			t.Errorf("api key leaked: %v", s.Value)
		}
	})

	t.Run("unknown_key", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/settings/pipeline.nope")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 404 or 400", resp.StatusCode)
		}
	})
}

func TestTopicStatusResponse_Table(t *testing.T) {
	t.Run("summary_before_dispatch", func(t *testing.T) {
		resp := TopicStatusResponse{
			Status: &pipeline.Status{
				TopicID:          "t1",
				Stage:            pipeline.ChapterStage(2),
				IntroComplete:    true,
				ChaptersComplete: map[int]bool{1: true},
			},
			Topic: &pipeline.Topic{ID: "t1", Chapters: 3},
		}
		header, rows := resp.Table()
		if len(header) != 5 || len(rows) != 1 {
			t.Fatalf("unexpected table %v %v", header, rows)
		}
		if rows[0][3] != "1/3" {
			t.Errorf("chapters cell = %q, want 1/3", rows[0][3])
		}
	})

	t.Run("jobs_after_dispatch", func(t *testing.T) {
		resp := TopicStatusResponse{Status: &pipeline.Status{
			TopicID: "t1",
			SynthesisJobs: []pipeline.SynthesisJob{
				{JobID: "j1", UnitKey: "intro", ChunkIndex: 0, Status: pipeline.JobCompleted},
				{JobID: "j2", UnitKey: "intro", ChunkIndex: 1, Status: pipeline.JobInProgress},
			},
		}}
		header, rows := resp.Table()
		if header[0] != "UNIT" || len(rows) != 2 {
			t.Fatalf("unexpected table %v %v", header, rows)
		}
		if rows[1][1] != "1" || rows[1][3] != string(pipeline.JobInProgress) {
			t.Errorf("row = %v", rows[1])
		}
	})

	t.Run("nil_status", func(t *testing.T) {
		header, rows := TopicStatusResponse{}.Table()
		if header != nil || rows != nil {
			t.Error("nil status should render nothing")
		}
	})
}

func TestTopicPath(t *testing.T) {
	if got := topicPath("a/b", "units", "intro", "dispatch"); got != "/api/topics/a%2Fb/units/intro/dispatch" {
		t.Errorf("topicPath = %q", got)
	}
}

func TestMetricsEndpoint_Unconfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	_, _, h := (&MetricsEndpoint{}).Route()
	h(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestAll_UniqueRoutes(t *testing.T) {
	seen := make(map[string]bool)
	for _, ep := range All(Config{}) {
		method, path, _ := ep.Route()
		key := method + " " + path
		if seen[key] {
			t.Errorf("duplicate route %s", key)
		}
		seen[key] = true
	}
	for _, want := range []string{
		"GET /health", "GET /ready", "GET /metrics", "GET /swagger.json",
		"POST /api/topics", "GET /api/topics/{topic_id}",
		"POST /api/topics/{topic_id}/content", "GET /api/topics/{topic_id}/units",
		"POST /api/topics/{topic_id}/units/{unit_key}/dispatch",
		"POST /api/topics/{topic_id}/poll",
		"POST /api/topics/{topic_id}/units/{unit_key}/stitch",
		"POST /api/topics/{topic_id}/run",
	} {
		if !seen[want] {
			t.Errorf("route %s not registered", want)
		}
	}
}
