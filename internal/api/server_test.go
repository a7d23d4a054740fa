package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/story-engine/internal/cache"
	"github.com/talgya/story-engine/internal/campaign"
	"github.com/talgya/story-engine/internal/engine"
	"github.com/talgya/story-engine/internal/persistence"
	"github.com/talgya/story-engine/internal/storygraph"
)

func newTestServer(t *testing.T, adminKey string) *httptest.Server {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "story.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c, err := campaign.LoadFile("../campaign/testdata/valdoria.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SeedCampaigns(context.Background(), []*campaign.Campaign{c}); err != nil {
		t.Fatal(err)
	}
	repo, err := campaign.NewRepository(db, 4, storygraph.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	s := &Server{
		Director:     engine.New(db, cache.New(cache.DefaultConfig()), repo, nil, engine.DefaultOptions()),
		DB:           db,
		Repo:         repo,
		AdminKey:     adminKey,
		NarrateLimit: 1,
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body, token string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var b strings.Builder
	if _, err := io.Copy(&b, resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, b.String()
}

func expectStatus(t *testing.T, method, url, body string, want int) string {
	t.Helper()
	resp, text := do(t, method, url, body, "")
	if resp.StatusCode != want {
		t.Fatalf("%s %s = %d, want %d: %s", method, url, resp.StatusCode, want, text)
	}
	return text
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "")
	body := expectStatus(t, "GET", srv.URL+"/api/v1/health", "", http.StatusOK)

	var status map[string]any
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatal(err)
	}
	if status["status"] != "ok" || status["narration"] != false {
		t.Fatalf("health = %v", status)
	}
}

func TestStoryFlow(t *testing.T) {
	srv := newTestServer(t, "")
	api := srv.URL + "/api/v1"

	expectStatus(t, "POST", api+"/initialize-progress", `{"room_id": 7, "campaign_id": "valdoria"}`, http.StatusOK)
	expectStatus(t, "POST", api+"/initialize-progress", `{"room_id": 7, "campaign_id": "valdoria"}`, http.StatusConflict)
	expectStatus(t, "POST", api+"/initialize-progress", `{"room_id": 8, "campaign_id": "nada"}`, http.StatusNotFound)

	body := expectStatus(t, "GET", api+"/story-state/7", "", http.StatusOK)
	var st struct {
		Scene     int    `json:"current_scene"`
		SceneType string `json:"scene_type"`
		Tension   string `json:"tension_level"`
	}
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatal(err)
	}
	if st.Scene != 1 || st.SceneType != "combat" || st.Tension != "high" {
		t.Fatalf("state = %+v", st)
	}
	expectStatus(t, "GET", api+"/story-state/99", "", http.StatusNotFound)
	expectStatus(t, "GET", api+"/story-state/abc", "", http.StatusBadRequest)

	expectStatus(t, "POST", api+"/turn", `{"room_id": 7}`, http.StatusBadRequest)
	expectStatus(t, "POST", api+"/turn", `{"room_id": 7,`, http.StatusBadRequest)
	expectStatus(t, "GET", api+"/turn", "", http.StatusMethodNotAllowed)
	body = expectStatus(t, "POST", api+"/turn", `{"room_id": 7, "message": "Miro alrededor"}`, http.StatusOK)
	if !strings.Contains(body, `"analysis"`) || !strings.Contains(body, `"foreshadowing"`) {
		t.Fatalf("turn = %s", body)
	}

	body = expectStatus(t, "GET", api+"/pending-decision/7", "", http.StatusOK)
	if !strings.Contains(body, `"has_pending": false`) {
		t.Fatalf("pending = %s", body)
	}
	expectStatus(t, "POST", api+"/pending-decision", `{"room_id": 7, "decision_code": "confiar_varen"}`, http.StatusOK)
	body = expectStatus(t, "GET", api+"/pending-decision/7", "", http.StatusOK)
	if !strings.Contains(body, `"turns_remaining": 3`) {
		t.Fatalf("pending = %s", body)
	}

	decision := `{"room_id": 7, "decision_code": "confiar_varen", "chosen_option": "dudar"}`
	expectStatus(t, "POST", api+"/process-decision", `{"room_id": 7, "decision_code": "confiar_varen", "chosen_option": "huir"}`, http.StatusBadRequest)
	expectStatus(t, "POST", api+"/process-decision", decision, http.StatusOK)
	expectStatus(t, "POST", api+"/process-decision", decision, http.StatusConflict)
	expectStatus(t, "POST", api+"/process-decision", `{"room_id": 7, "decision_code": "nada", "chosen_option": "x"}`, http.StatusNotFound)

	body = expectStatus(t, "GET", api+"/calculate-ending/7", "", http.StatusOK)
	if !strings.Contains(body, `"most_likely_ending": "reino_caido"`) {
		t.Fatalf("ending = %s", body)
	}

	expectStatus(t, "POST", api+"/check-trigger", `{"room_id": 7, "trigger_type": "eclipse"}`, http.StatusBadRequest)
	body = expectStatus(t, "POST", api+"/check-trigger", `{"room_id": 7, "trigger_type": "decision", "trigger_data": {"decision_code": "juicio"}}`, http.StatusOK)
	if !strings.Contains(body, `"triggered": true`) {
		t.Fatalf("trigger = %s", body)
	}

	body = expectStatus(t, "GET", api+"/events/7?type=decision_made", "", http.StatusOK)
	if !strings.Contains(body, "decision_made") {
		t.Fatalf("events = %s", body)
	}
	body = expectStatus(t, "GET", api+"/relationships/7", "", http.StatusOK)
	if !strings.Contains(body, `"npc_code": "varen"`) {
		t.Fatalf("relationships = %s", body)
	}
}

func TestNarrationEndpoints(t *testing.T) {
	srv := newTestServer(t, "")
	api := srv.URL + "/api/v1"
	expectStatus(t, "POST", api+"/initialize-progress", `{"room_id": 3, "campaign_id": "valdoria"}`, http.StatusOK)

	body := expectStatus(t, "GET", api+"/ai-context/3", "", http.StatusOK)
	if !strings.Contains(body, "TONO NARRATIVO") {
		t.Fatalf("ai context = %s", body)
	}
	body = expectStatus(t, "POST", api+"/get-context", `{"room_id": 3, "message": "Ataco a Varen"}`, http.StatusOK)
	if !strings.Contains(body, `"action_analysis"`) {
		t.Fatalf("context = %s", body)
	}

	// No narrator is configured; the second call hits the hourly limit.
	expectStatus(t, "POST", api+"/narrate", `{"room_id": 3, "message": "Hola"}`, http.StatusServiceUnavailable)
	resp, _ := do(t, "POST", api+"/narrate", `{"room_id": 3, "message": "Hola"}`, "")
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("second narrate = %d", resp.StatusCode)
	}

	payload, _ := json.Marshal(map[string]any{
		"room_id":     3,
		"ai_response": "La lluvia arrecia.\nMARCADORES: {\"karma\": -5, \"clues_revealed\": [\"anillo\"]}",
	})
	body = expectStatus(t, "POST", api+"/process-response", string(payload), http.StatusOK)
	var res struct {
		Narrative string   `json:"narrative"`
		Applied   []string `json:"applied"`
	}
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		t.Fatal(err)
	}
	if res.Narrative != "La lluvia arrecia." || len(res.Applied) != 2 || res.Applied[0] != "karma: -5" {
		t.Fatalf("process response = %+v", res)
	}
}

func TestCampaignAdmin(t *testing.T) {
	srv := newTestServer(t, "secret")
	api := srv.URL + "/api/v1"

	body := expectStatus(t, "GET", api+"/campaigns", "", http.StatusOK)
	if !strings.Contains(body, `"valdoria"`) {
		t.Fatalf("campaigns = %s", body)
	}
	body = expectStatus(t, "GET", api+"/campaigns/valdoria", "", http.StatusOK)
	if !strings.Contains(body, `"graph"`) || !strings.Contains(body, "ending_rey_salvado") {
		t.Fatalf("campaign = %s", body)
	}
	expectStatus(t, "GET", api+"/campaigns/nada", "", http.StatusNotFound)

	doc, err := os.ReadFile("../campaign/testdata/valdoria.json")
	if err != nil {
		t.Fatal(err)
	}
	renamed := strings.Replace(string(doc), `"id": "valdoria"`, `"id": "valdoria2"`, 1)
	expectStatus(t, "POST", api+"/campaigns", renamed, http.StatusUnauthorized)
	if resp, text := do(t, "POST", api+"/campaigns", renamed, "wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d: %s", resp.StatusCode, text)
	}
	if resp, text := do(t, "POST", api+"/campaigns", renamed, "secret"); resp.StatusCode != http.StatusOK {
		t.Fatalf("store campaign = %d: %s", resp.StatusCode, text)
	}
	if resp, text := do(t, "POST", api+"/campaigns", `{"id": ""}`, "secret"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid campaign = %d: %s", resp.StatusCode, text)
	}
	body = expectStatus(t, "GET", api+"/campaigns", "", http.StatusOK)
	if !strings.Contains(body, `"valdoria2"`) {
		t.Fatalf("campaigns = %s", body)
	}

	resp, text := do(t, "DELETE", api+"/campaigns/valdoria2/cache", "", "secret")
	if resp.StatusCode != http.StatusOK || !strings.Contains(text, `"invalidated": true`) {
		t.Fatalf("invalidate = %d: %s", resp.StatusCode, text)
	}
	expectStatus(t, "DELETE", api+"/session/3", "", http.StatusUnauthorized)
	if resp, _ := do(t, "DELETE", api+"/session/3", "", "secret"); resp.StatusCode != http.StatusOK {
		t.Fatalf("end session = %d", resp.StatusCode)
	}
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	srv := newTestServer(t, "")
	expectStatus(t, "POST", srv.URL+"/api/v1/campaigns", `{}`, http.StatusForbidden)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests refused")
	}
	if rl.Allow("a") {
		t.Fatal("third request allowed")
	}
	if !rl.Allow("b") {
		t.Fatal("other client refused")
	}
	if after := rl.RetryAfter("a"); after < 1 || after > 60 {
		t.Fatalf("retry after = %d", after)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := clientAddr(r); got != "10.0.0.1" {
		t.Fatalf("client = %q", got)
	}
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := clientAddr(r); got != "1.2.3.4" {
		t.Fatalf("forwarded client = %q", got)
	}
}
