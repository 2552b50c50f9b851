package server

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alfredhq/alfred/internal/config"
)

const testToken = "test-token"

// fakeEmbedEndpoint serves an OpenAI-compatible /v1/embeddings handler
// producing deterministic unit vectors from a hash of the input text, so
// identical texts embed identically and unrelated texts score near zero.
func fakeEmbedEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	const dims = 32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := make([]map[string]interface{}, 0, len(req.Input))
		for i, text := range req.Input {
			h := fnv.New64a()
			h.Write([]byte(text))
			seed := h.Sum64()

			vec := make([]float32, dims)
			var norm float64
			for d := range vec {
				seed = seed*6364136223846793005 + 1442695040888963407
				vec[d] = float32(int64(seed)) / float32(math.MaxInt64)
				norm += float64(vec[d]) * float64(vec[d])
			}
			norm = math.Sqrt(norm)
			for d := range vec {
				vec[d] = float32(float64(vec[d]) / norm)
			}

			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": vec,
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	embed := fakeEmbedEndpoint(t)

	cfg := &config.Config{
		Port:            "0",
		DatabasePath:    filepath.Join(t.TempDir(), "alfred.db"),
		AuthToken:       testToken,
		EmbedURL:        embed.URL,
		EmbedModel:      "nomic-embed-text",
		EmbedTimeout:    5 * time.Second,
		MemoryTopK:      5,
		DedupeThreshold: 0.9,
	}
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}
	t.Cleanup(func() { s.dbDriver.Close() })
	return s
}

// doJSON performs one request against the router and decodes the JSON
// response body into a generic map.
func doJSON(t *testing.T, s *Server, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec.Code, decoded
}

func TestBearerAuth(t *testing.T) {
	s := newTestServer(t, nil)

	code, body := doJSON(t, s, http.MethodPost, "/mem0/search", "", map[string]string{"userId": "alice"})
	if code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", code)
	}
	if body["detail"] != "Missing bearer token" {
		t.Errorf("no token: detail = %v", body["detail"])
	}

	code, body = doJSON(t, s, http.MethodPost, "/mem0/search", "wrong", map[string]string{"userId": "alice"})
	if code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", code)
	}
	if body["detail"] != "Invalid token" {
		t.Errorf("bad token: detail = %v", body["detail"])
	}

	code, _ = doJSON(t, s, http.MethodPost, "/mem0/search", testToken, map[string]string{"userId": "alice"})
	if code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", code)
	}

	// Health stays open.
	code, _ = doJSON(t, s, http.MethodGet, "/health", "", nil)
	if code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", code)
	}
}

func TestAuthDisabledWithEmptyToken(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.AuthToken = "" })

	code, _ := doJSON(t, s, http.MethodPost, "/mem0/search", "", map[string]string{"userId": "alice"})
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", code)
	}
}

func TestMemAddSearchRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)

	code, body := doJSON(t, s, http.MethodPost, "/mem0/add", testToken, map[string]interface{}{
		"userId": "alice",
		"text":   "I love jazz",
		"tags":   []string{"preference", "music"},
	})
	if code != http.StatusOK {
		t.Fatalf("add: status = %d, body = %v", code, body)
	}
	id, _ := body["id"].(string)
	if body["ok"] != true || id == "" {
		t.Fatalf("add: body = %v", body)
	}

	// Same text again dedupes.
	code, body = doJSON(t, s, http.MethodPost, "/mem0/add", testToken, map[string]interface{}{
		"userId": "alice",
		"text":   "I love jazz",
	})
	if code != http.StatusOK {
		t.Fatalf("duplicate add: status = %d", code)
	}
	if body["skipped"] != "duplicate" || body["dup_id"] != id {
		t.Errorf("duplicate add: body = %v, want skipped=duplicate dup_id=%s", body, id)
	}

	code, body = doJSON(t, s, http.MethodPost, "/mem0/search", testToken, map[string]interface{}{
		"userId": "alice",
		"query":  "I love jazz",
	})
	if code != http.StatusOK {
		t.Fatalf("search: status = %d", code)
	}
	items, _ := body["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("search: %d items, want 1", len(items))
	}
	top, _ := items[0].(map[string]interface{})
	if top["id"] != id {
		t.Errorf("search: top id = %v, want %s", top["id"], id)
	}
	if score, _ := top["score"].(float64); score < 0.999 {
		t.Errorf("search: score = %v, want ~1.0", top["score"])
	}
}

func TestMemSearchEmptyQueryBrowsesRecent(t *testing.T) {
	s := newTestServer(t, nil)

	for i, text := range []string{"I love jazz", "remind me about the dentist", "I drink tea every morning"} {
		ts := time.Date(2025, 3, 1, 9, i, 0, 0, time.UTC).Format(time.RFC3339)
		code, body := doJSON(t, s, http.MethodPost, "/mem0/add", testToken, map[string]interface{}{
			"userId": "alice",
			"text":   text,
			"ts":     ts,
		})
		if code != http.StatusOK || body["ok"] != true {
			t.Fatalf("add %q: status = %d, body = %v", text, code, body)
		}
	}

	code, body := doJSON(t, s, http.MethodPost, "/mem0/search", testToken, map[string]interface{}{
		"userId": "alice",
		"query":  "",
		"top_k":  2,
	})
	if code != http.StatusOK {
		t.Fatalf("search: status = %d", code)
	}
	items, _ := body["items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	first, _ := items[0].(map[string]interface{})
	if first["text"] != "I drink tea every morning" {
		t.Errorf("first item = %v, want most recent", first["text"])
	}
	if _, hasScore := first["score"]; hasScore && first["score"] != nil {
		t.Errorf("recency browse must not carry scores, got %v", first["score"])
	}
}

func TestMemDeleteAndClear(t *testing.T) {
	s := newTestServer(t, nil)

	code, body := doJSON(t, s, http.MethodPost, "/mem0/delete", testToken, map[string]string{
		"userId": "alice", "id": "no-such-id",
	})
	if code != http.StatusNotFound {
		t.Errorf("delete missing: status = %d, want 404", code)
	}

	_, body = doJSON(t, s, http.MethodPost, "/mem0/add", testToken, map[string]interface{}{
		"userId": "alice", "text": "I love jazz",
	})
	id, _ := body["id"].(string)

	code, body = doJSON(t, s, http.MethodPost, "/mem0/delete", testToken, map[string]string{
		"userId": "alice", "id": id,
	})
	if code != http.StatusOK || body["ok"] != true {
		t.Errorf("delete: status = %d, body = %v", code, body)
	}

	for _, text := range []string{"I love jazz", "remind me about the dentist"} {
		doJSON(t, s, http.MethodPost, "/mem0/add", testToken, map[string]interface{}{
			"userId": "alice", "text": text,
		})
	}
	code, body = doJSON(t, s, http.MethodPost, "/mem0/clear", testToken, map[string]string{"userId": "alice"})
	if code != http.StatusOK {
		t.Fatalf("clear: status = %d", code)
	}
	if body["cleared"] != true || body["removed"] != float64(2) {
		t.Errorf("clear: body = %v, want removed=2", body)
	}
}

func TestMemAutoCapture(t *testing.T) {
	s := newTestServer(t, nil)

	// Not memory-worthy.
	code, body := doJSON(t, s, http.MethodPost, "/mem0/auto", testToken, map[string]string{
		"userId": "alice", "utterance": "the weather looks fine",
	})
	if code != http.StatusOK {
		t.Fatalf("auto: status = %d", code)
	}
	if body["should_save"] != false || body["reason"] != "not memory-worthy" {
		t.Errorf("auto unworthy: body = %v", body)
	}

	// Worthy, with owner inferred from the utterance itself.
	code, body = doJSON(t, s, http.MethodPost, "/mem0/auto", testToken, map[string]string{
		"utterance": "my name is Sky, I love jazz",
	})
	if code != http.StatusOK {
		t.Fatalf("auto: status = %d", code)
	}
	if body["userId"] != "sky" || body["saved"] != true {
		t.Errorf("auto inferred: body = %v", body)
	}
}

func TestMemAutoHeaderOwner(t *testing.T) {
	s := newTestServer(t, nil)

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]string{"utterance": "I love jazz"})
	req := httptest.NewRequest(http.MethodPost, "/mem0/auto", &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("X-User-Id", "Bob")

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("auto: status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body["userId"] != "bob" {
		t.Errorf("owner = %v, want header-resolved bob", body["userId"])
	}
}

func TestEmbedFailureMapsTo503(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)

	s := newTestServer(t, func(cfg *config.Config) { cfg.EmbedURL = broken.URL })

	code, _ := doJSON(t, s, http.MethodPost, "/mem0/add", testToken, map[string]string{
		"userId": "alice", "text": "I love jazz",
	})
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestValidationErrorsMapTo400(t *testing.T) {
	s := newTestServer(t, nil)

	code, _ := doJSON(t, s, http.MethodPost, "/mem0/add", testToken, map[string]string{
		"userId": "alice", "text": "   ",
	})
	if code != http.StatusBadRequest {
		t.Errorf("blank text: status = %d, want 400", code)
	}

	code, _ = doJSON(t, s, http.MethodPost, "/mem0/add", testToken, map[string]string{
		"userId": "", "text": "I love jazz",
	})
	if code != http.StatusBadRequest {
		t.Errorf("blank owner: status = %d, want 400", code)
	}
}

func TestRegisterAndLoginEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	code, body := doJSON(t, s, http.MethodPost, "/register", "", map[string]string{
		"username": "Alice", "password": "s3cret",
	})
	if code != http.StatusOK || body["userId"] != "alice" {
		t.Fatalf("register: status = %d, body = %v", code, body)
	}

	code, _ = doJSON(t, s, http.MethodPost, "/register", "", map[string]string{
		"username": "alice", "password": "other",
	})
	if code != http.StatusConflict {
		t.Errorf("duplicate register: status = %d, want 409", code)
	}

	code, body = doJSON(t, s, http.MethodPost, "/login", "", map[string]string{
		"username": "alice", "password": "s3cret",
	})
	if code != http.StatusOK || body["userId"] != "alice" {
		t.Errorf("login: status = %d, body = %v", code, body)
	}

	code, _ = doJSON(t, s, http.MethodPost, "/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	if code != http.StatusUnauthorized {
		t.Errorf("bad login: status = %d, want 401", code)
	}

	code, _ = doJSON(t, s, http.MethodPost, "/register", "", map[string]string{"username": "bob"})
	if code != http.StatusBadRequest {
		t.Errorf("missing password: status = %d, want 400", code)
	}
}

func TestChatSaveAndHistory(t *testing.T) {
	s := newTestServer(t, nil)

	for i, m := range []struct{ role, text string }{
		{"user", "hello"},
		{"assistant", "hi there"},
	} {
		ts := time.Date(2025, 3, 1, 9, i, 0, 0, time.UTC).Format(time.RFC3339)
		code, body := doJSON(t, s, http.MethodPost, "/save", testToken, map[string]string{
			"userId": "alice", "role": m.role, "text": m.text, "ts": ts,
		})
		if code != http.StatusOK || body["ok"] != true {
			t.Fatalf("save: status = %d, body = %v", code, body)
		}
	}

	code, body := doJSON(t, s, http.MethodGet, "/history?userId=alice&limit=10", testToken, nil)
	if code != http.StatusOK {
		t.Fatalf("history: status = %d", code)
	}
	messages, _ := body["messages"].([]interface{})
	if len(messages) != 2 {
		t.Fatalf("history: %d messages, want 2", len(messages))
	}
	first, _ := messages[0].(map[string]interface{})
	if first["role"] != "user" || first["text"] != "hello" {
		t.Errorf("history not chronological: first = %v", first)
	}

	code, _ = doJSON(t, s, http.MethodGet, "/history", testToken, nil)
	if code != http.StatusBadRequest {
		t.Errorf("history without userId: status = %d, want 400", code)
	}

	code, _ = doJSON(t, s, http.MethodPost, "/save", testToken, map[string]string{
		"userId": "alice", "role": "robot", "text": "beep",
	})
	if code != http.StatusBadRequest {
		t.Errorf("bad role: status = %d, want 400", code)
	}
}

func TestChatSaveDisabled(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.DisableChatSave = true })

	code, body := doJSON(t, s, http.MethodPost, "/save", testToken, map[string]string{
		"userId": "alice", "role": "user", "text": "hello",
	})
	if code != http.StatusOK || body["skipped"] != "chat-saving disabled" {
		t.Errorf("save: status = %d, body = %v", code, body)
	}

	code, body = doJSON(t, s, http.MethodGet, "/history?userId=alice", testToken, nil)
	if code != http.StatusOK {
		t.Fatalf("history: status = %d", code)
	}
	if messages, _ := body["messages"].([]interface{}); len(messages) != 0 {
		t.Errorf("history after disabled save: %d messages, want 0", len(messages))
	}
}

func TestInvalidJSONBody(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/mem0/add", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestParseTS(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"", time.Time{}},
		{"2025-03-01T09:00:00Z", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"2025-03-01T09:00:00", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"2025-03-01 09:00:00", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"yesterday", time.Time{}},
	}
	for _, c := range cases {
		if got := parseTS(c.in); !got.Equal(c.want) {
			t.Errorf("parseTS(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
