package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"

	"github.com/copperline/chatvault/pkg/media"
	"github.com/copperline/chatvault/pkg/model"
	"github.com/copperline/chatvault/pkg/normalize"
	"github.com/copperline/chatvault/pkg/session"
)

// TelegramTransport is one Telegram identity connected through the bot
// API with long polling. Two instances (user/bot roles) run as
// independent sessions.
type TelegramTransport struct {
	*BaseTransport
	token   string
	bot     *telego.Bot
	self    *telego.User
	updates <-chan telego.Update
	client  *http.Client
}

func NewTelegramTransport(role, token string, allowFrom []string) *TelegramTransport {
	return &TelegramTransport{
		BaseTransport: NewBaseTransport("telegram", role, allowFrom),
		token:         token,
		client:        &http.Client{Timeout: 2 * time.Minute},
	}
}

func (t *TelegramTransport) Connect(ctx context.Context) error {
	if t.token == "" {
		return fmt.Errorf("telegram %s: empty token: %w", t.Role(), session.ErrAuthentication)
	}

	bot, err := telego.NewBot(t.token, telego.WithDiscardLogger())
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		if isTelegramAuthError(err) {
			return fmt.Errorf("telegram getMe: %v: %w", err, session.ErrAuthentication)
		}
		return fmt.Errorf("telegram getMe: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "channel_post"},
	})
	if err != nil {
		return fmt.Errorf("telegram long polling: %w", err)
	}

	t.bot = bot
	t.self = me
	t.updates = updates
	t.SetRunning(true)
	return nil
}

func (t *TelegramTransport) Receive(ctx context.Context) (normalize.RawEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return normalize.RawEvent{}, ctx.Err()
		case upd, ok := <-t.updates:
			if !ok {
				return normalize.RawEvent{}, fmt.Errorf("telegram update stream closed")
			}
			ev, keep := t.mapUpdate(upd)
			if !keep {
				continue
			}
			return ev, nil
		}
	}
}

func (t *TelegramTransport) SendDirect(ctx context.Context, targetID, text string) error {
	id, err := strconv.ParseInt(targetID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram target %q: %w", targetID, err)
	}
	_, err = t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: id},
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

// Broadcast has no bot API equivalent on Telegram.
func (t *TelegramTransport) Broadcast(_ context.Context, _ string) error {
	return fmt.Errorf("telegram does not support broadcast")
}

func (t *TelegramTransport) Close() error {
	t.SetRunning(false)
	return nil
}

// mapUpdate converts one Telegram update into a RawEvent. The second
// return is false for updates that should be skipped.
func (t *TelegramTransport) mapUpdate(upd telego.Update) (normalize.RawEvent, bool) {
	msg := upd.Message
	if msg == nil {
		msg = upd.ChannelPost
	}
	if msg == nil {
		return normalize.RawEvent{}, false
	}

	ev := normalize.RawEvent{
		Platform:  t.Platform(),
		Role:      t.Role(),
		PeerID:    strconv.FormatInt(msg.Chat.ID, 10),
		PeerTitle: msg.Chat.Title,
		Timestamp: time.Unix(msg.Date, 0).UTC(),
		Text:      msg.Text,
	}

	switch msg.Chat.Type {
	case telego.ChatTypePrivate:
		ev.PeerKind = model.SourceDirect
	case telego.ChatTypeGroup, telego.ChatTypeSupergroup:
		ev.PeerKind = model.SourceGroup
	case telego.ChatTypeChannel:
		ev.PeerKind = model.SourceChannel
	default:
		return normalize.RawEvent{}, false
	}

	if msg.From != nil {
		sender := normalize.ActorInfo{
			ID:     strconv.FormatInt(msg.From.ID, 10),
			Name:   displayName(msg.From.FirstName, msg.From.LastName),
			Handle: msg.From.Username,
			IsSelf: t.self != nil && msg.From.ID == t.self.ID,
		}
		if !t.IsAllowed(compoundID(sender.ID, sender.Handle)) {
			return normalize.RawEvent{}, false
		}
		ev.Sender = &sender
		ev.Outbound = sender.IsSelf
		if ev.Outbound && ev.PeerKind == model.SourceDirect {
			ev.Target = &normalize.ActorInfo{ID: ev.PeerID}
		}
	}

	if ev.Text == "" && msg.Caption != "" {
		ev.Text = msg.Caption
	}
	ev.Media = t.mediaFor(msg)

	if ev.PeerKind == model.SourceGroup || ev.PeerKind == model.SourceChannel {
		chatID := msg.Chat.ID
		ev.Members = func(ctx context.Context) ([]normalize.ActorInfo, error) {
			return t.listAdministrators(ctx, chatID)
		}
	}

	return ev, true
}

func (t *TelegramTransport) mediaFor(msg *telego.Message) *media.Ref {
	switch {
	case len(msg.Photo) > 0:
		// Sizes are ordered ascending; keep the largest.
		return t.mediaRef(msg.Photo[len(msg.Photo)-1].FileID, "image/jpeg", model.ContentPhoto)
	case msg.Video != nil:
		return t.mediaRef(msg.Video.FileID, orMIME(msg.Video.MimeType, "video/mp4"), model.ContentVideo)
	case msg.Voice != nil:
		return t.mediaRef(msg.Voice.FileID, orMIME(msg.Voice.MimeType, "audio/ogg"), model.ContentAudio)
	case msg.Audio != nil:
		return t.mediaRef(msg.Audio.FileID, orMIME(msg.Audio.MimeType, "audio/m4a"), model.ContentAudio)
	case msg.Document != nil:
		return t.mediaRef(msg.Document.FileID, orMIME(msg.Document.MimeType, "application/octet-stream"), model.ContentDocument)
	default:
		return nil
	}
}

func (t *TelegramTransport) mediaRef(fileID, mimeType string, kind model.ContentKind) *media.Ref {
	return &media.Ref{
		Kind: kind,
		MIME: mimeType,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			file, err := t.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
			if err != nil {
				return nil, fmt.Errorf("telegram getFile: %w", err)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.bot.FileDownloadURL(file.FilePath), nil)
			if err != nil {
				return nil, err
			}
			resp, err := t.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("telegram file download: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return nil, fmt.Errorf("telegram file download: status %d", resp.StatusCode)
			}
			return resp.Body, nil
		},
	}
}

// listAdministrators is the closest the bot API offers to membership
// enumeration; full member lists are not exposed.
func (t *TelegramTransport) listAdministrators(ctx context.Context, chatID int64) ([]normalize.ActorInfo, error) {
	members, err := t.bot.GetChatAdministrators(ctx, &telego.GetChatAdministratorsParams{
		ChatID: telego.ChatID{ID: chatID},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram getChatAdministrators: %w", err)
	}
	out := make([]normalize.ActorInfo, 0, len(members))
	for _, m := range members {
		u := m.MemberUser()
		out = append(out, normalize.ActorInfo{
			ID:     strconv.FormatInt(u.ID, 10),
			Name:   displayName(u.FirstName, u.LastName),
			Handle: u.Username,
			IsSelf: t.self != nil && u.ID == t.self.ID,
		})
	}
	return out, nil
}

func isTelegramAuthError(err error) bool {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == http.StatusUnauthorized || apiErr.ErrorCode == http.StatusNotFound
	}
	return false
}

func displayName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}

func compoundID(id, username string) string {
	if username == "" {
		return id
	}
	return id + "|" + username
}

func orMIME(mime, fallback string) string {
	if mime != "" {
		return mime
	}
	return fallback
}
