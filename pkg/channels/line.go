package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/copperline/chatvault/pkg/logger"
	"github.com/copperline/chatvault/pkg/media"
	"github.com/copperline/chatvault/pkg/model"
	"github.com/copperline/chatvault/pkg/normalize"
	"github.com/copperline/chatvault/pkg/session"
)

const (
	lineAPIBase     = "https://api.line.me"
	lineDataAPIBase = "https://api-data.line.me"
)

// LINETransport receives messages through the Messaging API webhook
// and sends through the push/broadcast REST endpoints. Delivery is
// push based, so Connect starts a local HTTP server and Receive
// drains the events it parses.
type LINETransport struct {
	*BaseTransport
	channelSecret string
	accessToken   string
	webhookAddr   string
	webhookPath   string

	client *http.Client
	selfID string
	events chan normalize.RawEvent
	fatal  chan error
	srv    *http.Server
}

func NewLINETransport(role, channelSecret, accessToken, webhookHost string, webhookPort int, webhookPath string, allowFrom []string) *LINETransport {
	return &LINETransport{
		BaseTransport: NewBaseTransport("line", role, allowFrom),
		channelSecret: channelSecret,
		accessToken:   accessToken,
		webhookAddr:   net.JoinHostPort(webhookHost, strconv.Itoa(webhookPort)),
		webhookPath:   webhookPath,
		client:        &http.Client{Timeout: 2 * time.Minute},
	}
}

func (t *LINETransport) Connect(ctx context.Context) error {
	if t.accessToken == "" || t.channelSecret == "" {
		return fmt.Errorf("line %s: missing credentials: %w", t.Role(), session.ErrAuthentication)
	}

	info, err := t.botInfo(ctx)
	if err != nil {
		return err
	}
	t.selfID = info.UserID

	t.events = make(chan normalize.RawEvent, 64)
	t.fatal = make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(t.webhookPath, t.handleWebhook)
	t.srv = &http.Server{Addr: t.webhookAddr, Handler: mux}

	ln, err := net.Listen("tcp", t.webhookAddr)
	if err != nil {
		return fmt.Errorf("line webhook listen %s: %w", t.webhookAddr, err)
	}
	go func() {
		if err := t.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			select {
			case t.fatal <- fmt.Errorf("line webhook server: %w", err):
			default:
			}
		}
	}()

	t.SetRunning(true)
	return nil
}

func (t *LINETransport) Receive(ctx context.Context) (normalize.RawEvent, error) {
	select {
	case <-ctx.Done():
		return normalize.RawEvent{}, ctx.Err()
	case err := <-t.fatal:
		return normalize.RawEvent{}, err
	case ev := <-t.events:
		return ev, nil
	}
}

func (t *LINETransport) SendDirect(ctx context.Context, targetID, text string) error {
	body := map[string]any{
		"to": targetID,
		"messages": []map[string]string{
			{"type": "text", "text": text},
		},
	}
	return t.post(ctx, "/v2/bot/message/push", body)
}

func (t *LINETransport) Broadcast(ctx context.Context, text string) error {
	body := map[string]any{
		"messages": []map[string]string{
			{"type": "text", "text": text},
		},
	}
	return t.post(ctx, "/v2/bot/message/broadcast", body)
}

func (t *LINETransport) Close() error {
	t.SetRunning(false)
	if t.srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := t.srv.Shutdown(shutdownCtx)
	t.srv = nil
	return err
}

func (t *LINETransport) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !t.verifySignature(body, r.Header.Get("X-Line-Signature")) {
		logger.WarnC("line", "webhook signature mismatch, dropping request")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var payload struct {
		Events []lineEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WarnCF("line", "webhook body unparsable", map[string]any{"error": err.Error()})
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	for _, le := range payload.Events {
		ev, keep := t.mapEvent(r.Context(), le)
		if !keep {
			continue
		}
		select {
		case t.events <- ev:
		default:
			logger.WarnC("line", "event queue full, dropping webhook event")
		}
	}

	w.WriteHeader(http.StatusOK)
}

// verifySignature checks the base64 HMAC-SHA256 of the raw body
// against the channel secret.
func (t *LINETransport) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(t.channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type lineEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Source    struct {
		Type    string `json:"type"`
		UserID  string `json:"userId"`
		GroupID string `json:"groupId"`
		RoomID  string `json:"roomId"`
	} `json:"source"`
	Message struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Text     string `json:"text"`
		FileName string `json:"fileName"`
	} `json:"message"`
}

func (t *LINETransport) mapEvent(ctx context.Context, le lineEvent) (normalize.RawEvent, bool) {
	if le.Type != "message" {
		return normalize.RawEvent{}, false
	}

	ev := normalize.RawEvent{
		Platform:  t.Platform(),
		Role:      t.Role(),
		Timestamp: time.UnixMilli(le.Timestamp).UTC(),
	}

	switch le.Source.Type {
	case "user":
		ev.PeerKind = model.SourceDirect
		ev.PeerID = le.Source.UserID
	case "group":
		ev.PeerKind = model.SourceGroup
		ev.PeerID = le.Source.GroupID
		ev.PeerTitle = t.groupName(ctx, le.Source.GroupID)
	case "room":
		ev.PeerKind = model.SourceRoom
		ev.PeerID = le.Source.RoomID
	default:
		return normalize.RawEvent{}, false
	}

	if le.Source.UserID != "" {
		if !t.IsAllowed(le.Source.UserID) {
			return normalize.RawEvent{}, false
		}
		ev.Sender = &normalize.ActorInfo{
			ID:     le.Source.UserID,
			Name:   t.profileName(ctx, le.Source),
			IsSelf: le.Source.UserID == t.selfID,
		}
	}

	switch le.Message.Type {
	case "text":
		ev.Text = le.Message.Text
	case "image":
		ev.Media = t.mediaRef(le.Message.ID, "image/jpeg", model.ContentPhoto)
	case "video":
		ev.Media = t.mediaRef(le.Message.ID, "video/mp4", model.ContentVideo)
	case "audio":
		ev.Media = t.mediaRef(le.Message.ID, "audio/m4a", model.ContentAudio)
	case "file":
		ev.Text = le.Message.FileName
		ev.Media = t.mediaRef(le.Message.ID, "application/octet-stream", model.ContentDocument)
	default:
		return normalize.RawEvent{}, false
	}

	return ev, true
}

// mediaRef downloads message content from the data API endpoint.
func (t *LINETransport) mediaRef(messageID, mimeType string, kind model.ContentKind) *media.Ref {
	return &media.Ref{
		Kind: kind,
		MIME: mimeType,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			url := lineDataAPIBase + "/v2/bot/message/" + messageID + "/content"
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+t.accessToken)
			resp, err := t.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("line content download: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return nil, fmt.Errorf("line content download: status %d", resp.StatusCode)
			}
			return resp.Body, nil
		},
	}
}

type lineBotInfo struct {
	UserID      string `json:"userId"`
	BasicID     string `json:"basicId"`
	DisplayName string `json:"displayName"`
}

func (t *LINETransport) botInfo(ctx context.Context) (*lineBotInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lineAPIBase+"/v2/bot/info", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.accessToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("line bot info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("line bot info: status %d: %w", resp.StatusCode, session.ErrAuthentication)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("line bot info: status %d", resp.StatusCode)
	}

	var info lineBotInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("line bot info: %w", err)
	}
	return &info, nil
}

// profileName resolves a display name best effort; an empty name is
// fine, the store keeps whatever was recorded before.
func (t *LINETransport) profileName(ctx context.Context, src struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
	RoomID  string `json:"roomId"`
}) string {
	var path string
	switch src.Type {
	case "group":
		path = "/v2/bot/group/" + src.GroupID + "/member/" + src.UserID
	case "room":
		path = "/v2/bot/room/" + src.RoomID + "/member/" + src.UserID
	default:
		path = "/v2/bot/profile/" + src.UserID
	}

	var profile struct {
		DisplayName string `json:"displayName"`
	}
	if err := t.getJSON(ctx, path, &profile); err != nil {
		return ""
	}
	return profile.DisplayName
}

func (t *LINETransport) groupName(ctx context.Context, groupID string) string {
	var summary struct {
		GroupName string `json:"groupName"`
	}
	if err := t.getJSON(ctx, "/v2/bot/group/"+groupID+"/summary", &summary); err != nil {
		return ""
	}
	return summary.GroupName
}

func (t *LINETransport) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lineAPIBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.accessToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("line %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *LINETransport) post(ctx context.Context, path string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lineAPIBase+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("line %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("line %s: status %d: %s", path, resp.StatusCode, string(msg))
	}
	return nil
}
