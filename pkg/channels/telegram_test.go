package channels

import (
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"github.com/copperline/chatvault/pkg/model"
)

func TestTelegramMapUpdatePrivateText(t *testing.T) {
	tr := NewTelegramTransport("user", "token", nil)
	tr.self = &telego.User{ID: 42}

	ev, keep := tr.mapUpdate(telego.Update{Message: &telego.Message{
		Chat: telego.Chat{ID: 100, Type: telego.ChatTypePrivate},
		From: &telego.User{ID: 7, FirstName: "Ada", LastName: "Lovelace", Username: "ada"},
		Date: 1700000000,
		Text: "hello",
	}})

	if !keep {
		t.Fatal("expected event to be kept")
	}
	if ev.PeerKind != model.SourceDirect || ev.PeerID != "100" {
		t.Errorf("unexpected peer: kind=%q id=%q", ev.PeerKind, ev.PeerID)
	}
	if ev.Sender == nil || ev.Sender.ID != "7" || ev.Sender.Name != "Ada Lovelace" || ev.Sender.Handle != "ada" {
		t.Errorf("unexpected sender: %+v", ev.Sender)
	}
	if ev.Sender.IsSelf || ev.Outbound {
		t.Error("foreign sender must not be marked self or outbound")
	}
	if !ev.Timestamp.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("unexpected timestamp %v", ev.Timestamp)
	}
	if ev.Members != nil {
		t.Error("direct chats have no membership")
	}
}

func TestTelegramMapUpdateOwnMessageOutbound(t *testing.T) {
	tr := NewTelegramTransport("user", "token", nil)
	tr.self = &telego.User{ID: 42}

	ev, keep := tr.mapUpdate(telego.Update{Message: &telego.Message{
		Chat: telego.Chat{ID: 100, Type: telego.ChatTypePrivate},
		From: &telego.User{ID: 42, FirstName: "Me"},
		Date: 1700000000,
		Text: "out",
	}})

	if !keep {
		t.Fatal("expected event to be kept")
	}
	if !ev.Sender.IsSelf || !ev.Outbound {
		t.Error("own message should be outbound and self")
	}
	if ev.Target == nil || ev.Target.ID != "100" {
		t.Errorf("outbound direct should target the peer, got %+v", ev.Target)
	}
}

func TestTelegramMapUpdateGroupPhoto(t *testing.T) {
	tr := NewTelegramTransport("bot", "token", nil)

	ev, keep := tr.mapUpdate(telego.Update{Message: &telego.Message{
		Chat:    telego.Chat{ID: -500, Type: telego.ChatTypeSupergroup, Title: "devs"},
		From:    &telego.User{ID: 7, FirstName: "Ada"},
		Date:    1700000000,
		Caption: "look",
		Photo: []telego.PhotoSize{
			{FileID: "small"},
			{FileID: "large"},
		},
	}})

	if !keep {
		t.Fatal("expected event to be kept")
	}
	if ev.PeerKind != model.SourceGroup || ev.PeerTitle != "devs" {
		t.Errorf("unexpected peer: kind=%q title=%q", ev.PeerKind, ev.PeerTitle)
	}
	if ev.Text != "look" {
		t.Errorf("caption should carry into Text, got %q", ev.Text)
	}
	if ev.Media == nil || ev.Media.Kind != model.ContentPhoto {
		t.Fatalf("unexpected media: %+v", ev.Media)
	}
	if ev.Members == nil {
		t.Error("group events should expose membership lookup")
	}
}

func TestTelegramMapUpdateSkipsDisallowed(t *testing.T) {
	tr := NewTelegramTransport("bot", "token", []string{"@ada"})

	_, keep := tr.mapUpdate(telego.Update{Message: &telego.Message{
		Chat: telego.Chat{ID: 100, Type: telego.ChatTypePrivate},
		From: &telego.User{ID: 8, Username: "mallory"},
		Date: 1700000000,
		Text: "hi",
	}})
	if keep {
		t.Error("disallowed sender should be dropped")
	}

	ev, keep := tr.mapUpdate(telego.Update{Message: &telego.Message{
		Chat: telego.Chat{ID: 100, Type: telego.ChatTypePrivate},
		From: &telego.User{ID: 9, Username: "ada"},
		Date: 1700000000,
		Text: "hi",
	}})
	if !keep || ev.Sender.Handle != "ada" {
		t.Error("allowlisted username should pass")
	}
}

func TestTelegramMapUpdateSkipsNonMessage(t *testing.T) {
	tr := NewTelegramTransport("bot", "token", nil)
	if _, keep := tr.mapUpdate(telego.Update{}); keep {
		t.Error("updates without a message should be skipped")
	}
}
