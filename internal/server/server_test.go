package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/MrWong99/npcmind/internal/brain"
	"github.com/MrWong99/npcmind/internal/dialogue"
	"github.com/MrWong99/npcmind/internal/director"
	"github.com/MrWong99/npcmind/internal/feedback"
	"github.com/MrWong99/npcmind/internal/health"
	"github.com/MrWong99/npcmind/internal/hooks"
	"github.com/MrWong99/npcmind/internal/server"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func newServer(t *testing.T, opts ...server.Option) (*server.Server, *director.Director) {
	t.Helper()
	b := brain.New()
	for pat, tmpl := range map[string]string{
		"HELLO":      "Well met.",
		"WHERE AM I": `You are in <get name="location"/>.`,
		"HOW DO YOU FEEL": `<condition name="emotion_fear">` +
			`<li value="*">Fear grips me.</li><li>All is well.</li></condition>`,
	} {
		if err := b.AddCategory(pat, "", "", tmpl, 0, "test"); err != nil {
			t.Fatalf("AddCategory(%q): %v", pat, err)
		}
	}
	cfg := dialogue.DefaultConfig()
	cfg.EnablePersonality = false
	d := director.New(dialogue.New(dialogue.WithBrain(b), dialogue.WithConfig(cfg)))
	d.RegisterNPC("gerald", dialogue.NPCContext{
		Name:       "Gerald",
		Occupation: "merchant",
		Mood:       "happy",
		Location:   "Market Square",
	})
	return server.New(d, opts...), d
}

// do sends a request to the server's handler and decodes a JSON response
// into out when out is non-nil.
func do(t *testing.T, s *server.Server, method, path, body string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

type conversation struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Source         string `json:"source"`
	Consistent     bool   `json:"consistent"`
}

// ── conversations ────────────────────────────────────────────────────────────

func TestConversationLifecycle(t *testing.T) {
	t.Parallel()
	s, d := newServer(t)
	base := "/v1/npcs/gerald/conversations/p1"

	var start conversation
	if code := do(t, s, http.MethodPost, base, "", &start); code != http.StatusOK {
		t.Fatalf("start status = %d, want 200", code)
	}
	if start.Text != "*smiling warmly* Greetings, traveler! I am Gerald. What a fine day!" {
		t.Errorf("greeting = %q", start.Text)
	}
	if start.ConversationID == "" {
		t.Error("start returned no conversation_id")
	}

	var msg conversation
	if code := do(t, s, http.MethodPost, base+"/messages", `{"text":"Hello!"}`, &msg); code != http.StatusOK {
		t.Fatalf("message status = %d, want 200", code)
	}
	if msg.Text != "Well met." || msg.Source != string(dialogue.SourcePattern) || !msg.Consistent {
		t.Errorf("message = %+v, want pattern reply Well met.", msg)
	}
	if msg.ConversationID != start.ConversationID {
		t.Errorf("conversation_id changed from %q to %q", start.ConversationID, msg.ConversationID)
	}

	var hist struct {
		Turns     int `json:"turns"`
		Location  string
		Exchanges []dialogue.Exchange `json:"exchanges"`
	}
	if code := do(t, s, http.MethodGet, base+"/history", "", &hist); code != http.StatusOK {
		t.Fatalf("history status = %d, want 200", code)
	}
	if len(hist.Exchanges) != 1 || hist.Exchanges[0].Player != "Hello!" || hist.Exchanges[0].NPC != "Well met." {
		t.Errorf("history = %+v", hist.Exchanges)
	}
	if hist.Location != "Market Square" {
		t.Errorf("history location = %q, want Market Square", hist.Location)
	}

	var end conversation
	if code := do(t, s, http.MethodDelete, base, "", &end); code != http.StatusOK {
		t.Fatalf("end status = %d, want 200", code)
	}
	if end.Text != "*waving cheerfully* Farewell, friend! May fortune smile upon you!" {
		t.Errorf("farewell = %q", end.Text)
	}
	if d.IsInConversation("gerald") {
		t.Error("gerald still in conversation after DELETE")
	}
}

func TestConversation_Busy(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t)
	if code := do(t, s, http.MethodPost, "/v1/npcs/gerald/conversations/p1", "", nil); code != http.StatusOK {
		t.Fatalf("start p1 status = %d", code)
	}
	for _, tc := range []struct {
		method, path, body string
	}{
		{http.MethodPost, "/v1/npcs/gerald/conversations/p2", ""},
		{http.MethodPost, "/v1/npcs/gerald/conversations/p2/messages", `{"text":"hello"}`},
	} {
		var got conversation
		if code := do(t, s, tc.method, tc.path, tc.body, &got); code != http.StatusConflict {
			t.Errorf("%s %s status = %d, want 409", tc.method, tc.path, code)
		}
		if got.Text != director.BusyReply {
			t.Errorf("%s %s text = %q, want %q", tc.method, tc.path, got.Text, director.BusyReply)
		}
	}
}

func TestUnknownNPC(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t)
	for _, tc := range []struct {
		method, path, body string
	}{
		{http.MethodGet, "/v1/npcs/nobody", ""},
		{http.MethodPost, "/v1/npcs/nobody/conversations/p1", ""},
		{http.MethodPost, "/v1/npcs/nobody/conversations/p1/messages", `{"text":"hi"}`},
		{http.MethodDelete, "/v1/npcs/nobody/conversations/p1", ""},
		{http.MethodGet, "/v1/npcs/nobody/conversations/p1/history", ""},
		{http.MethodGet, "/v1/npcs/nobody/knowledge", ""},
		{http.MethodPut, "/v1/npcs/nobody/mood", `{"mood":"sad"}`},
		{http.MethodPost, "/v1/npcs/nobody/quests/q", `{"lines":[{"trigger":"X","response":"Y"}]}`},
		{http.MethodGet, "/v1/npcs/gerald/conversations/stranger/history", ""},
	} {
		if code := do(t, s, tc.method, tc.path, tc.body, nil); code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tc.method, tc.path, code)
		}
	}
}

func TestBadRequests(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t)
	for _, tc := range []struct {
		name, method, path, body string
	}{
		{"empty text", http.MethodPost, "/v1/npcs/gerald/conversations/p1/messages", `{"text":"  "}`},
		{"no body", http.MethodPost, "/v1/npcs/gerald/conversations/p1/messages", ""},
		{"invalid json", http.MethodPost, "/v1/npcs/gerald/conversations/p1/messages", `{"text":`},
		{"unknown field", http.MethodPost, "/v1/npcs/gerald/conversations/p1/messages", `{"txt":"hi"}`},
		{"empty mood", http.MethodPut, "/v1/npcs/gerald/mood", `{}`},
		{"fact without object", http.MethodPost, "/v1/npcs/gerald/facts", `{"predicate":"likes"}`},
		{"quest without lines", http.MethodPost, "/v1/npcs/gerald/quests/herbs", `{"lines":[]}`},
		{"quest line without trigger", http.MethodPost, "/v1/npcs/gerald/quests/herbs", `{"lines":[{"response":"x"}]}`},
		{"negative choice", http.MethodPost, "/v1/npcs/gerald/conversations/p1/choices/selected", `{"index":-1,"text":"a"}`},
		{"bad goal", http.MethodPost, "/v1/reasoning/query", `{"goal":"occupation(gerald"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got struct {
				Error string `json:"error"`
			}
			if code := do(t, s, tc.method, tc.path, tc.body, &got); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
			if got.Error == "" {
				t.Error("error body is empty")
			}
		})
	}
}

// ── NPC state ────────────────────────────────────────────────────────────────

func TestListAndGetNPC(t *testing.T) {
	t.Parallel()
	s, d := newServer(t)
	d.RegisterNPC("mira", dialogue.NPCContext{Name: "Mira", Occupation: "blacksmith"})
	do(t, s, http.MethodPost, "/v1/npcs/mira/conversations/p9", "", nil)

	var list []struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		ActivePlayer   string `json:"active_player"`
		InConversation bool   `json:"in_conversation"`
	}
	if code := do(t, s, http.MethodGet, "/v1/npcs", "", &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(list) != 2 || list[0].ID != "gerald" || list[1].ID != "mira" {
		t.Fatalf("list = %+v, want gerald and mira", list)
	}
	if list[0].InConversation || !list[1].InConversation || list[1].ActivePlayer != "p9" {
		t.Errorf("conversation state = %+v", list)
	}

	var one struct {
		Occupation string `json:"occupation"`
	}
	if code := do(t, s, http.MethodGet, "/v1/npcs/mira", "", &one); code != http.StatusOK || one.Occupation != "blacksmith" {
		t.Errorf("GET mira = %d %+v", code, one)
	}
}

func TestSetMood(t *testing.T) {
	t.Parallel()
	s, d := newServer(t)
	base := "/v1/npcs/gerald/conversations/p1"
	do(t, s, http.MethodPost, base, "", nil)

	if code := do(t, s, http.MethodPut, "/v1/npcs/gerald/mood", `{"mood":"angry","emotion":"fear","intensity":0.8}`, nil); code != http.StatusOK {
		t.Fatalf("PUT mood status = %d", code)
	}
	if npc, _ := d.NPC("gerald"); npc.Mood != "angry" {
		t.Errorf("mood = %q, want angry", npc.Mood)
	}
	if got := s.Manager().Emotions("gerald")["fear"]; got != 0.8 {
		t.Errorf("fear = %v, want 0.8", got)
	}

	var msg conversation
	do(t, s, http.MethodPost, base+"/messages", `{"text":"how do you feel"}`, &msg)
	if msg.Text != "Fear grips me." {
		t.Errorf("reply after emotion = %q, want Fear grips me.", msg.Text)
	}
}

func TestFactsAndKnowledge(t *testing.T) {
	t.Parallel()
	s, d := newServer(t)

	var kn struct {
		Subject string `json:"subject"`
		Summary string `json:"summary"`
		Triples []struct {
			Predicate string `json:"predicate"`
			Object    string `json:"object"`
		} `json:"triples"`
		Facts []struct {
			Fact string `json:"fact"`
		} `json:"facts"`
	}
	body := `{"predicate":"likes","object":"Apples","remember":true}`
	if code := do(t, s, http.MethodPost, "/v1/npcs/gerald/facts", body, &kn); code != http.StatusOK {
		t.Fatalf("POST facts status = %d", code)
	}
	if kn.Subject != "gerald" {
		t.Errorf("subject = %q, want gerald", kn.Subject)
	}
	if len(kn.Triples) != 1 || kn.Triples[0].Predicate != "likes" || kn.Triples[0].Object != "Apples" {
		t.Errorf("triples = %+v", kn.Triples)
	}
	if !strings.Contains(kn.Summary, "likes: Apples") {
		t.Errorf("summary = %q", kn.Summary)
	}
	if v, ok := d.Engine().Reasoner().QueryFact("likes", []string{"gerald", "apples"}); !ok || v.Truth != 1 {
		t.Errorf("reasoner likes(gerald, apples) = %+v, %v", v, ok)
	}
	if npc, _ := d.NPC("gerald"); !slices.Contains(npc.KnownFacts, "likes Apples") {
		t.Errorf("KnownFacts = %q, want the remembered fact", npc.KnownFacts)
	}

	kn.Triples = nil
	if code := do(t, s, http.MethodGet, "/v1/npcs/gerald/knowledge", "", &kn); code != http.StatusOK {
		t.Fatalf("GET knowledge status = %d", code)
	}
	if len(kn.Triples) != 1 {
		t.Errorf("knowledge triples = %+v", kn.Triples)
	}
	found := false
	for _, f := range kn.Facts {
		found = found || strings.HasPrefix(f.Fact, "likes(")
	}
	if !found {
		t.Errorf("knowledge facts = %+v, want likes(...)", kn.Facts)
	}
}

func TestInjectQuest(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t)
	base := "/v1/npcs/gerald/conversations/p1"
	do(t, s, http.MethodPost, base, "", nil)

	body := `{"lines":[{"trigger":"WHAT ABOUT THE HERBS","response":"Bring me five moonpetals."}]}`
	if code := do(t, s, http.MethodPost, "/v1/npcs/gerald/quests/herbs", body, nil); code != http.StatusNoContent {
		t.Fatalf("inject status = %d, want 204", code)
	}
	var msg conversation
	do(t, s, http.MethodPost, base+"/messages", `{"text":"what about the herbs"}`, &msg)
	if msg.Text != "Bring me five moonpetals." {
		t.Errorf("quest reply = %q", msg.Text)
	}
	var hist struct {
		Quest string `json:"quest"`
	}
	do(t, s, http.MethodGet, base+"/history", "", &hist)
	if hist.Quest != "herbs" {
		t.Errorf("quest = %q, want herbs", hist.Quest)
	}
}

// ── hooks ────────────────────────────────────────────────────────────────────

func TestChoices(t *testing.T) {
	t.Parallel()
	s, d := newServer(t)
	base := "/v1/npcs/gerald/conversations/p1"
	d.Hooks().Register(hooks.PlayerChoicesShown, func(_ context.Context, ev hooks.Data) hooks.Result {
		return hooks.Result{Handled: true, ModifiedChoices: append(ev.Choices, "Goodbye.")}
	})
	var picked []int
	d.Hooks().Register(hooks.PlayerChoiceSelected, func(_ context.Context, ev hooks.Data) hooks.Result {
		picked = append(picked, ev.ChoiceIndex)
		if ev.Text == "Goodbye." {
			return hooks.Result{Handled: true, ModifiedText: "Off you go then."}
		}
		return hooks.Result{}
	})

	var shown struct {
		Choices []string `json:"choices"`
	}
	if code := do(t, s, http.MethodPost, base+"/choices", `{"choices":["Hello!"]}`, &shown); code != http.StatusOK {
		t.Fatalf("choices status = %d", code)
	}
	if !slices.Equal(shown.Choices, []string{"Hello!", "Goodbye."}) {
		t.Errorf("choices = %q", shown.Choices)
	}

	var msg conversation
	do(t, s, http.MethodPost, base+"/choices/selected", `{"index":0,"text":"Hello!"}`, &msg)
	if msg.Text != "Well met." {
		t.Errorf("selected Hello! = %q, want Well met.", msg.Text)
	}
	do(t, s, http.MethodPost, base+"/choices/selected", `{"index":1,"text":"Goodbye."}`, &msg)
	if msg.Text != "Off you go then." {
		t.Errorf("selected Goodbye. = %q, want the hook's text", msg.Text)
	}
	if !slices.Equal(picked, []int{0, 1}) {
		t.Errorf("hook saw indexes %v, want [0 1]", picked)
	}
}

func TestFeedback(t *testing.T) {
	t.Parallel()
	fs := feedback.NewFileStore(filepath.Join(t.TempDir(), "feedback.jsonl"))
	s, _ := newServer(t, server.WithFeedback(fs))
	base := "/v1/npcs/gerald/conversations/p1"

	var start conversation
	do(t, s, http.MethodPost, base, "", &start)
	do(t, s, http.MethodPost, base+"/messages", `{"text":"Hello!"}`, nil)

	if code := do(t, s, http.MethodPost, base+"/feedback", `{"rating":2,"comment":"too short"}`, nil); code != http.StatusNoContent {
		t.Fatalf("feedback status = %d, want 204", code)
	}
	if code := do(t, s, http.MethodPost, base+"/feedback", `{"rating":9}`, nil); code != http.StatusBadRequest {
		t.Errorf("rating 9 status = %d, want 400", code)
	}
	if code := do(t, s, http.MethodPost, "/v1/npcs/nobody/conversations/p1/feedback", `{"rating":3}`, nil); code != http.StatusNotFound {
		t.Errorf("unknown npc status = %d, want 404", code)
	}

	recs, _, err := fs.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Records = %d, want 1", len(recs))
	}
	got := recs[0]
	if got.ConversationID != start.ConversationID || got.PlayerInput != "Hello!" || got.Response != "Well met." || got.Comment != "too short" {
		t.Errorf("record = %+v", got)
	}
}

func TestFeedback_Disabled(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t)
	code := do(t, s, http.MethodPost, "/v1/npcs/gerald/conversations/p1/feedback", `{"rating":3}`, nil)
	if code == http.StatusNoContent {
		t.Errorf("feedback without a store status = %d, want an error", code)
	}
}

// ── reasoning ────────────────────────────────────────────────────────────────

func TestReasoningQuery(t *testing.T) {
	t.Parallel()
	s, d := newServer(t)
	d.Engine().Reasoner().AddFact("occupation", []string{"gerald", "merchant"}, 1)

	tests := []struct {
		name       string
		body       string
		wantProved bool
		wantTruth  float64
		wantLines  bool
	}{
		{"proved", `{"goal":"occupation(gerald, merchant)"}`, true, 1, false},
		{"explained", `{"goal":"occupation(gerald, merchant)","explain":true,"max_depth":2}`, true, 1, true},
		{"unknown", `{"goal":"likes(gerald, bread)"}`, false, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got struct {
				Proved      bool     `json:"proved"`
				Truth       float64  `json:"truth"`
				Explanation []string `json:"explanation"`
			}
			if code := do(t, s, http.MethodPost, "/v1/reasoning/query", tc.body, &got); code != http.StatusOK {
				t.Fatalf("status = %d, want 200", code)
			}
			if got.Proved != tc.wantProved {
				t.Errorf("proved = %v, want %v", got.Proved, tc.wantProved)
			}
			if tc.wantProved && got.Truth != tc.wantTruth {
				t.Errorf("truth = %v, want %v", got.Truth, tc.wantTruth)
			}
			if (len(got.Explanation) > 0) != tc.wantLines {
				t.Errorf("explanation = %q, want present=%v", got.Explanation, tc.wantLines)
			}
		})
	}
}

// ── probes and lifecycle ─────────────────────────────────────────────────────

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "npcmind_test_total", Help: "test"}))
	h := health.New(health.Checker{Name: "store", Check: func(context.Context) error { return nil }})
	s, _ := newServer(t, server.WithHealth(h), server.WithGatherer(reg))

	if code := do(t, s, http.MethodGet, "/healthz", "", nil); code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", code)
	}
	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if code := do(t, s, http.MethodGet, "/readyz", "", &ready); code != http.StatusOK || ready.Status != "ok" {
		t.Errorf("/readyz = %d %+v", code, ready)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("npcmind_test_total")) {
		t.Errorf("/metrics = %d, body lacks the registered counter", rec.Code)
	}
}

func TestServe(t *testing.T) {
	t.Parallel()
	s, _ := newServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		cancel()
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz over TCP = %d, want 200", resp.StatusCode)
	}
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
