package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/copperline/chatvault/pkg/api"
	"github.com/copperline/chatvault/pkg/bridge"
	"github.com/copperline/chatvault/pkg/media"
	"github.com/copperline/chatvault/pkg/model"
	"github.com/copperline/chatvault/pkg/normalize"
	"github.com/copperline/chatvault/pkg/session"
	"github.com/copperline/chatvault/pkg/store"
)

// scriptedTransport feeds canned events into a session loop and
// records sends, standing in for a real network connection.
type scriptedTransport struct {
	platform string
	events   chan normalize.RawEvent

	mu    sync.Mutex
	sends []string
}

func newScriptedTransport(platform string) *scriptedTransport {
	return &scriptedTransport{
		platform: platform,
		events:   make(chan normalize.RawEvent, 16),
	}
}

func (t *scriptedTransport) Platform() string              { return t.platform }
func (t *scriptedTransport) Connect(context.Context) error { return nil }
func (t *scriptedTransport) Close() error                  { return nil }

func (t *scriptedTransport) Broadcast(_ context.Context, text string) error {
	return t.SendDirect(context.Background(), "*", text)
}

func (t *scriptedTransport) Receive(ctx context.Context) (normalize.RawEvent, error) {
	select {
	case <-ctx.Done():
		return normalize.RawEvent{}, ctx.Err()
	case ev := <-t.events:
		return ev, nil
	}
}

func (t *scriptedTransport) SendDirect(_ context.Context, targetID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sends = append(t.sends, targetID+":"+text)
	return nil
}

func (t *scriptedTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sends)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// TestPipeline_ReceiveStoreQuery drives a raw event through the
// session loop, the normalizer and the store, then reads it back over
// HTTP.
func TestPipeline_ReceiveStoreQuery(t *testing.T) {
	mem := store.NewMemoryStore()
	files := media.NewStore(t.TempDir())
	normalizer := normalize.New(mem, mem, files)

	sup := session.NewSupervisor(func(ctx context.Context, ev normalize.RawEvent) error {
		_, err := normalizer.Normalize(ctx, ev)
		return err
	})

	transport := newScriptedTransport("telegram")
	if _, err := sup.Register("telegram-bot", transport); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sup.StartAll(ctx)
	defer func() {
		cancel()
		sup.Wait()
	}()

	waitFor(t, func() bool {
		return sup.States()["telegram-bot"] == session.StateConnected
	})

	transport.events <- normalize.RawEvent{
		Platform:  "telegram",
		Role:      "telegram-bot",
		PeerKind:  model.SourceGroup,
		PeerID:    "g1",
		PeerTitle: "ops",
		Sender:    &normalize.ActorInfo{ID: "7", Name: "Ada", Handle: "ada"},
		Text:      "deploy done",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	srv := api.NewServer(mem, mem, bridge.New(sup, time.Second), files, sup.States)
	router := srv.Router()

	waitFor(t, func() bool {
		msgs, err := mem.BySource(context.Background(), model.SourceGroup, "g1", 0)
		return err == nil && len(msgs) == 1
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages?kind=group&source=g1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("messages query: %d", rec.Code)
	}
	var got struct {
		Messages []model.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "deploy done" {
		t.Fatalf("unexpected history: %+v", got.Messages)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/actors?platform=telegram", nil))
	var actors struct {
		Actors []model.Actor `json:"actors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &actors); err != nil {
		t.Fatal(err)
	}
	if len(actors.Actors) != 1 || actors.Actors[0].Name != "Ada" {
		t.Fatalf("unexpected actors: %+v", actors.Actors)
	}
}

// TestPipeline_SendThroughGateway exercises the HTTP send endpoint
// down to the transport via the bridge and session loop.
func TestPipeline_SendThroughGateway(t *testing.T) {
	mem := store.NewMemoryStore()
	files := media.NewStore(t.TempDir())

	sup := session.NewSupervisor(func(context.Context, normalize.RawEvent) error { return nil })
	transport := newScriptedTransport("telegram")
	if _, err := sup.Register("telegram-bot", transport); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sup.StartAll(ctx)
	defer func() {
		cancel()
		sup.Wait()
	}()

	waitFor(t, func() bool {
		return sup.States()["telegram-bot"] == session.StateConnected
	})

	srv := api.NewServer(mem, mem, bridge.New(sup, time.Second), files, sup.States)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/send",
		strings.NewReader(`{"role":"telegram-bot","to":"100","text":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("send: %d: %s", rec.Code, rec.Body.String())
	}
	waitFor(t, func() bool { return transport.sentCount() == 1 })

	// Unknown roles surface as 404 without touching the transport.
	req = httptest.NewRequest(http.MethodPost, "/api/send",
		strings.NewReader(`{"role":"nope","to":"100","text":"hi"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown role: %d", rec.Code)
	}
}
