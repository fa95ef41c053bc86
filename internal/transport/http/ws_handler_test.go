package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"sats-arena/internal/app"
	"sats-arena/internal/domain"
	"sats-arena/internal/infra/memory"
	"sats-arena/internal/world"
)

var centers = []domain.Vec3{{X: 3, Y: 0.1, Z: 5}, {X: -3, Y: 0.1, Z: 5}, {X: 3, Y: 0.1, Z: 10}, {X: -3, Y: 0.1, Z: 10}}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	catalog, err := app.NewCatalog([]domain.Quiz{sampleQuiz()}, nil)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	platforms := make([]domain.Platform, len(centers))
	for i, c := range centers {
		platforms[i] = domain.Platform{Center: c, OnRadius: 1.5, NearRadius: 2.5}
	}
	pm, err := app.NewPlatformMap(platforms, domain.Box{Min: domain.Vec3{X: -6, Y: -1, Z: 2}, Max: domain.Vec3{X: 6, Y: 5, Z: 13}})
	if err != nil {
		t.Fatalf("platforms: %v", err)
	}

	hub := world.NewHub(64, nil)
	positions := world.NewPositions()
	terrain := world.NewTerrain(func(areaID string, present []bool) {
		hub.Broadcast(world.Message{Type: world.MsgUI, Payload: domain.UIEvent{Type: app.UIPlatformsLayout, AreaID: areaID, Platforms: present}})
	})
	rules := app.DefaultRules()
	rules.QuestionDuration = 100 * time.Millisecond

	arena, err := app.NewArena(app.ArenaOptions{
		Rules:     rules,
		Catalog:   catalog,
		Areas:     []app.Area{{ID: "arena", Platforms: pm}},
		Sessions:  memory.NewSessionStore(),
		Positions: positions,
		Notifier:  hub,
		Terrain:   terrain,
	})
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	sched := app.NewScheduler(arena, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()

	profiles := app.NewProfiles(memory.NewProfileStore(), app.DefaultStartingBalance, time.Second, nil).WithHashCost(bcrypt.MinCost)
	service := app.NewService(sched, profiles, hub, nil).WithCatalogSource(app.CatalogSource{
		Repo: memory.NewQuizRepository(memory.NewStaticQuizLoader([]domain.Quiz{sampleQuiz()}), time.Minute),
	})
	ws := NewWSHandler(service, hub, positions, terrain, nil)

	server := httptest.NewServer(NewRouter(service, ws, nil))
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
	})
	return server
}

func TestWebSocketQuizFlow(t *testing.T) {
	server := newTestServer(t)

	u := "ws" + server.URL[len("http"):] + "/ws?playerId=p1&name=Alice"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readUntil(t, conn, func(typ string, p map[string]any) bool {
		return typ == "chat" && strings.Contains(p["text"].(string), "Welcome, Alice")
	})

	send(t, conn, "position", centers[2])
	send(t, conn, "chat", map[string]string{"text": "/q q1"})

	readUntil(t, conn, func(typ string, p map[string]any) bool {
		return typ == "ui" && p["type"] == app.UIQuiz && p["questionText"] != nil
	})
	readUntil(t, conn, func(typ string, p map[string]any) bool {
		return typ == "chat" && strings.Contains(p["text"].(string), "complete!")
	})

	send(t, conn, "chat", map[string]string{"text": "/sats"})
	readUntil(t, conn, func(typ string, p map[string]any) bool {
		return typ == "chat" && p["text"] == "Your balance: 14 sats."
	})
}

func TestWebSocketRequiresPlayerID(t *testing.T) {
	server := newTestServer(t)
	u := "ws" + server.URL[len("http"):] + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("unexpected healthz body %q", body)
	}

	resp, err = http.Get(server.URL + "/api/areas")
	if err != nil {
		t.Fatalf("areas: %v", err)
	}
	defer resp.Body.Close()
	var areas []app.AreaStatus
	if err := json.NewDecoder(resp.Body).Decode(&areas); err != nil {
		t.Fatalf("decode areas: %v", err)
	}
	if len(areas) != 1 || areas[0].ID != "arena" || areas[0].Session != nil {
		t.Fatalf("unexpected areas %+v", areas)
	}

	resp2, err := http.Get(server.URL + "/api/quizzes")
	if err != nil {
		t.Fatalf("quizzes: %v", err)
	}
	defer resp2.Body.Close()
	var quizzes []quizSummary
	if err := json.NewDecoder(resp2.Body).Decode(&quizzes); err != nil {
		t.Fatalf("decode quizzes: %v", err)
	}
	if len(quizzes) != 1 || quizzes[0].ShortID != "q1" || quizzes[0].Questions != 1 {
		t.Fatalf("unexpected quizzes %+v", quizzes)
	}
}

func TestCatalogReloadEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/catalog/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode reload: %v", err)
	}
	if out["quizzes"] != 1 {
		t.Fatalf("unexpected reload body %v", out)
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil reads frames until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(typ string, payload map[string]any) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json: %v", err)
		}
		if match(msg.Type, msg.Payload) {
			return
		}
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:      "quiz1",
		NPCName: "QuizMind",
		Topic:   "Money",
		Cost:    1,
		Reward:  10,
		Questions: []domain.Question{
			{
				Prompt:  "Which of these is NOT a function of money?",
				Answers: []string{"Store of Value", "Medium of Exchange", "Unit of Weight", "Unit of Account"},
				Correct: "Unit of Weight",
			},
		},
	}
}
