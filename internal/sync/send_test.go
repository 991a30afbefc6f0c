package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/famguard/chatsync/internal/bus"
	"github.com/famguard/chatsync/internal/delivery"
	"github.com/famguard/chatsync/internal/model"
	"github.com/famguard/chatsync/internal/remote"
	"github.com/famguard/chatsync/internal/remote/memstore"
	"github.com/famguard/chatsync/internal/store"
	"github.com/famguard/chatsync/internal/version"
	"go.uber.org/zap"
)

type fakeOnline struct{ online bool }

func (f *fakeOnline) IsOnline() bool { return f.online }

type fixture struct {
	st   *memstore.Store
	db   *store.DB
	bus  *bus.Bus
	conn *fakeOnline
	eng  *Engine
}

func newFixture(t *testing.T, uid string) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	st := memstore.New()
	b := bus.New()
	conn := &fakeOnline{online: true}
	logger, _ := zap.NewDevelopment()
	tracker := delivery.NewTracker(st, version.NewGuard(st, 3), nil, b, logger)
	return &fixture{
		st:   st,
		db:   db,
		bus:  b,
		conn: conn,
		eng:  NewEngine(st, db, tracker, conn, b, logger, uid),
	}
}

// seedConversation writes a conversation plus index rows for every
// participant directly into the store.
func (f *fixture) seedConversation(t *testing.T, id string, participants []string, isGroup bool) {
	t.Helper()
	ctx := context.Background()
	data := map[string]any{
		"participants": participants,
		"isGroup":      isGroup,
		"groupName":    "",
		"groupAdmin":   "",
		"lastMessage":  nil,
		"createdAt":    remote.ServerTimestamp,
		"updatedAt":    remote.ServerTimestamp,
	}
	if isGroup {
		data["groupName"] = "family"
		data["groupAdmin"] = participants[0]
	}
	if err := f.st.Set(ctx, conversationPath(id), data); err != nil {
		t.Fatal(err)
	}
	for _, p := range participants {
		if err := f.st.Set(ctx, userChatPath(p, id), userChatData(p, id, 0)); err != nil {
			t.Fatal(err)
		}
	}
}

func (f *fixture) messages(t *testing.T, conversationID string) []remote.Doc {
	t.Helper()
	docs, err := f.st.Query(context.Background(), remote.NewQuery(colMessages).
		Where("conversationId", remote.OpEqual, conversationID))
	if err != nil {
		t.Fatal(err)
	}
	return docs
}

func TestSendTextOnline(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, false)
	ctx := context.Background()

	// Sender was mid-typing; the send must clear the indicator atomically.
	if err := f.st.Set(ctx, typingPath("conv1", "alice"), map[string]any{
		"conversationId": "conv1", "userId": "alice",
	}); err != nil {
		t.Fatal(err)
	}

	id, err := f.eng.Send(ctx, Outgoing{ConversationID: "conv1", Type: model.TypeText, Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}

	doc, err := f.st.Get(ctx, messagePath(id))
	if err != nil {
		t.Fatal(err)
	}
	msg := decodeMessage(doc)
	if msg.Text != "hello" || msg.SenderID != "alice" {
		t.Errorf("message = %+v, want hello from alice", msg)
	}
	if msg.Status != model.StatusSent {
		t.Errorf("status = %s, want SENT after best-effort advance", msg.Status)
	}
	if msg.Version != 2 {
		t.Errorf("version = %d, want 2 (insert at 1, advance bumps)", msg.Version)
	}
	if len(msg.ReadBy) != 1 || msg.ReadBy[0] != "alice" {
		t.Errorf("readBy = %v, want [alice]", msg.ReadBy)
	}
	if msg.Timestamp.IsZero() {
		t.Error("server timestamp not assigned")
	}

	conv, err := f.eng.getConversation(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessage == nil || conv.LastMessage.Text != "hello" || conv.LastMessage.Read {
		t.Errorf("lastMessage = %+v, want unread hello", conv.LastMessage)
	}

	bobChat, _ := f.st.Get(ctx, userChatPath("bob", "conv1"))
	if bobChat.Int64("unreadCount") != 1 {
		t.Errorf("bob unreadCount = %d, want 1", bobChat.Int64("unreadCount"))
	}
	aliceChat, _ := f.st.Get(ctx, userChatPath("alice", "conv1"))
	if aliceChat.Int64("unreadCount") != 0 {
		t.Errorf("alice unreadCount = %d, want 0", aliceChat.Int64("unreadCount"))
	}

	typing, _ := f.st.Get(ctx, typingPath("conv1", "alice"))
	if typing.Exists() {
		t.Error("typing indicator survived the send")
	}
	presence, _ := f.st.Get(ctx, presencePath("alice"))
	if !presence.Bool("isOnline") {
		t.Error("sender presence not upserted")
	}
}

func TestSendValidationBeforeNetwork(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, false)

	_, err := f.eng.Send(context.Background(), Outgoing{ConversationID: "conv1", Type: model.TypeText, Text: "   "})
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if docs := f.messages(t, "conv1"); len(docs) != 0 {
		t.Errorf("got %d messages after rejected send, want 0", len(docs))
	}
}

func TestSendRequiresParticipant(t *testing.T) {
	f := newFixture(t, "mallory")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, false)

	_, err := f.eng.Send(context.Background(), Outgoing{ConversationID: "conv1", Type: model.TypeText, Text: "hi"})
	if !remote.IsPermissionDenied(err) {
		t.Errorf("err = %v, want permission denied", err)
	}
}

func TestSendMissingConversation(t *testing.T) {
	f := newFixture(t, "alice")

	_, err := f.eng.Send(context.Background(), Outgoing{ConversationID: "nope", Type: model.TypeText, Text: "hi"})
	if !remote.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestSendOfflineQueues(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, false)
	f.conn.online = false

	ch, unsub := f.bus.Subscribe("message.queued", 10)
	defer unsub()

	id, err := f.eng.Send(context.Background(), Outgoing{ConversationID: "conv1", Type: model.TypeText, Text: "later"})
	if err != nil {
		t.Fatal(err)
	}
	if len(id) < 7 || id[:6] != "local-" {
		t.Errorf("id = %q, want synthetic local- id", id)
	}

	pending, err := f.db.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].LocalID != id || pending[0].Status != store.QueuePending {
		t.Fatalf("pending = %+v, want one pending row %s", pending, id)
	}
	if docs := f.messages(t, "conv1"); len(docs) != 0 {
		t.Errorf("got %d remote messages while offline, want 0", len(docs))
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.queued event")
	}
}

func TestSendBatchAtomicOnFailure(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, false)
	ctx := context.Background()

	f.st.FailWrites(remote.UnavailableErr("store down"))
	_, err := f.eng.Send(ctx, Outgoing{ConversationID: "conv1", Type: model.TypeText, Text: "hi"})
	if err == nil {
		t.Fatal("send succeeded through failing store")
	}
	f.st.FailWrites(nil)

	if docs := f.messages(t, "conv1"); len(docs) != 0 {
		t.Errorf("got %d messages after aborted batch, want 0", len(docs))
	}
	bobChat, _ := f.st.Get(ctx, userChatPath("bob", "conv1"))
	if bobChat.Int64("unreadCount") != 0 {
		t.Errorf("bob unreadCount = %d after aborted batch, want 0", bobChat.Int64("unreadCount"))
	}
	conv, _ := f.eng.getConversation(ctx, "conv1")
	if conv.LastMessage != nil {
		t.Errorf("lastMessage = %+v after aborted batch, want nil", conv.LastMessage)
	}
}

func TestSendPermissionDeniedMapped(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, false)

	f.st.FailWrites(remote.PermissionDeniedErr("rules rejected write"))
	defer f.st.FailWrites(nil)

	_, err := f.eng.Send(context.Background(), Outgoing{ConversationID: "conv1", Type: model.TypeText, Text: "hi"})
	if !remote.IsPermissionDenied(err) {
		t.Errorf("err = %v, want permission denied classification", err)
	}
}

func TestSendQueuedReplay(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, false)
	ctx := context.Background()

	created := time.Now().Add(-time.Minute)
	om := &store.OfflineMessage{
		LocalID:        "local-1",
		ConversationID: "conv1",
		SenderID:       "alice",
		Body:           "queued hello",
		MessageType:    string(model.TypeText),
		CreatedAt:      created.UnixMilli(),
	}

	id, err := f.eng.SendQueued(ctx, om)
	if err != nil {
		t.Fatal(err)
	}

	doc, err := f.st.Get(ctx, messagePath(id))
	if err != nil {
		t.Fatal(err)
	}
	msg := decodeMessage(doc)
	if msg.Text != "queued hello" {
		t.Errorf("text = %q, want queued hello", msg.Text)
	}
	if msg.Timestamp.IsZero() {
		t.Error("server timestamp not assigned on replay")
	}
	if !msg.ClientTimestamp.Equal(time.UnixMilli(created.UnixMilli())) {
		t.Errorf("clientTimestamp = %v, want original enqueue time", msg.ClientTimestamp)
	}

	bobChat, _ := f.st.Get(ctx, userChatPath("bob", "conv1"))
	if bobChat.Int64("unreadCount") != 1 {
		t.Errorf("bob unreadCount = %d, want exactly 1", bobChat.Int64("unreadCount"))
	}
}

// Queued replays inherit creation order; server timestamps must come out
// monotonically increasing in that order.
func TestQueuedReplayOrderingTimestamps(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, false)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i, body := range []string{"A", "B", "C"} {
		id, err := f.eng.SendQueued(ctx, &store.OfflineMessage{
			LocalID:        "local-" + body,
			ConversationID: "conv1",
			SenderID:       "alice",
			Body:           body,
			MessageType:    string(model.TypeText),
			CreatedAt:      base.Add(time.Duration(i) * time.Second).UnixMilli(),
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	var prev time.Time
	for i, id := range ids {
		doc, err := f.st.Get(ctx, messagePath(id))
		if err != nil {
			t.Fatal(err)
		}
		ts := doc.Time("timestamp")
		if !ts.After(prev) {
			t.Errorf("message %d timestamp %v not after %v", i, ts, prev)
		}
		prev = ts
	}
}

func TestSendQueuedRejectsDepartedSender(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"bob", "carol"}, false)

	_, err := f.eng.SendQueued(context.Background(), &store.OfflineMessage{
		LocalID:        "local-1",
		ConversationID: "conv1",
		SenderID:       "alice",
		Body:           "hi",
		MessageType:    string(model.TypeText),
		CreatedAt:      time.Now().UnixMilli(),
	})
	if !remote.IsPermissionDenied(err) {
		t.Errorf("err = %v, want permission denied for departed sender", err)
	}
}
