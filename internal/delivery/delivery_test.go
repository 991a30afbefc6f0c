package delivery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/famguard/chatsync/internal/bus"
	"github.com/famguard/chatsync/internal/model"
	"github.com/famguard/chatsync/internal/remote"
	"github.com/famguard/chatsync/internal/remote/memstore"
	"github.com/famguard/chatsync/internal/version"
	"go.uber.org/zap"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from model.DeliveryStatus
		to   model.DeliveryStatus
		want bool
	}{
		{model.StatusSending, model.StatusSent, true},
		{model.StatusSending, model.StatusFailed, true},
		{model.StatusSent, model.StatusDelivered, true},
		{model.StatusSent, model.StatusRead, true},
		{model.StatusDelivered, model.StatusRead, true},
		{model.StatusRead, model.StatusDelivered, false},
		{model.StatusRead, model.StatusSent, false},
		{model.StatusFailed, model.StatusSending, true},
		{model.StatusFailed, model.StatusSent, false},
		{model.StatusDelivered, model.StatusSent, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// fakeReceipts records mirror calls and returns configurable results.
type fakeReceipts struct {
	delivered []string
	read      []string
	bulkCount int
	err       error
}

func (f *fakeReceipts) MarkMessageDelivered(_ context.Context, messageID, _ string) error {
	f.delivered = append(f.delivered, messageID)
	return f.err
}

func (f *fakeReceipts) MarkMessageRead(_ context.Context, messageID, _ string) error {
	f.read = append(f.read, messageID)
	return f.err
}

func (f *fakeReceipts) MarkConversationMessagesRead(_ context.Context, _, _ string) (int, error) {
	return f.bulkCount, f.err
}

func testTracker(t *testing.T, st *memstore.Store, receipts Receipts) (*Tracker, *bus.Bus) {
	t.Helper()
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	guard := version.NewGuard(st, 3)
	return NewTracker(st, guard, receipts, b, logger), b
}

func seedMessage(t *testing.T, st *memstore.Store, id string, status model.DeliveryStatus, ver int64, readBy []string) *model.Message {
	t.Helper()
	err := st.Set(context.Background(), "messages/"+id, map[string]any{
		"conversationId": "conv1",
		"senderId":       "alice",
		"text":           "hi",
		"type":           "TEXT",
		"status":         string(status),
		"read":           status == model.StatusRead,
		"readBy":         readBy,
		"version":        ver,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &model.Message{
		ID:             id,
		ConversationID: "conv1",
		SenderID:       "alice",
		Status:         status,
		ReadBy:         readBy,
		Version:        ver,
	}
}

func TestAdvanceSendingToSent(t *testing.T) {
	st := memstore.New()
	tr, b := testTracker(t, st, nil)
	msg := seedMessage(t, st, "m1", model.StatusSending, 1, []string{"alice"})

	ch, unsub := b.Subscribe("message.status_changed", 10)
	defer unsub()

	if err := tr.Advance(context.Background(), msg, model.StatusSent); err != nil {
		t.Fatal(err)
	}

	doc, err := st.Get(context.Background(), "messages/m1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.String("status") != "SENT" {
		t.Errorf("status = %q, want SENT", doc.String("status"))
	}
	if doc.Int64("version") != 2 {
		t.Errorf("version = %d, want 2", doc.Int64("version"))
	}

	select {
	case evt := <-ch:
		change := evt.Payload.(StatusChange)
		if change.From != model.StatusSending || change.To != model.StatusSent {
			t.Errorf("change = %+v, want SENDING->SENT", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}

func TestAdvanceRejectsInvalidMove(t *testing.T) {
	st := memstore.New()
	tr, _ := testTracker(t, st, nil)
	msg := seedMessage(t, st, "m1", model.StatusRead, 3, []string{"alice", "bob"})

	if err := tr.Advance(context.Background(), msg, model.StatusDelivered); err == nil {
		t.Fatal("Advance(READ -> DELIVERED) succeeded, want error")
	}

	doc, _ := st.Get(context.Background(), "messages/m1")
	if doc.String("status") != "READ" || doc.Int64("version") != 3 {
		t.Errorf("doc changed: status=%q version=%d", doc.String("status"), doc.Int64("version"))
	}
}

func TestMarkDeliveredRejectsSender(t *testing.T) {
	st := memstore.New()
	tr, _ := testTracker(t, st, nil)
	msg := seedMessage(t, st, "m1", model.StatusSent, 1, []string{"alice"})

	if err := tr.MarkDelivered(context.Background(), msg, "alice"); err == nil {
		t.Fatal("sender recorded own delivery receipt, want error")
	}
}

func TestMarkDeliveredDropsStaleReceipt(t *testing.T) {
	st := memstore.New()
	tr, b := testTracker(t, st, nil)
	msg := seedMessage(t, st, "m1", model.StatusRead, 2, []string{"alice", "bob"})

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	if err := tr.MarkDelivered(context.Background(), msg, "bob"); err != nil {
		t.Fatal(err)
	}

	doc, _ := st.Get(context.Background(), "messages/m1")
	if doc.String("status") != "READ" {
		t.Errorf("status = %q, READ must not regress", doc.String("status"))
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %q for a dropped receipt", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMarkReadAdvancesAndRecordsReader(t *testing.T) {
	st := memstore.New()
	receipts := &fakeReceipts{}
	tr, _ := testTracker(t, st, receipts)
	msg := seedMessage(t, st, "m1", model.StatusSent, 1, []string{"alice"})

	if err := tr.MarkRead(context.Background(), msg, "bob"); err != nil {
		t.Fatal(err)
	}

	doc, err := st.Get(context.Background(), "messages/m1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.String("status") != "READ" || !doc.Bool("read") {
		t.Errorf("status=%q read=%v, want READ/true", doc.String("status"), doc.Bool("read"))
	}
	readBy := doc.Strings("readBy")
	if len(readBy) != 2 || readBy[0] != "alice" || readBy[1] != "bob" {
		t.Errorf("readBy = %v, want [alice bob]", readBy)
	}
	if doc.Int64("version") != 2 {
		t.Errorf("version = %d, want 2", doc.Int64("version"))
	}
	if len(receipts.read) != 1 || receipts.read[0] != "m1" {
		t.Errorf("mirror calls = %v, want [m1]", receipts.read)
	}
}

func TestMarkReadIdempotentForSameReader(t *testing.T) {
	st := memstore.New()
	tr, _ := testTracker(t, st, nil)
	msg := seedMessage(t, st, "m1", model.StatusRead, 2, []string{"alice", "bob"})

	if err := tr.MarkRead(context.Background(), msg, "bob"); err != nil {
		t.Fatal(err)
	}
	doc, _ := st.Get(context.Background(), "messages/m1")
	if doc.Int64("version") != 2 {
		t.Errorf("version = %d, repeat read must not write", doc.Int64("version"))
	}
}

// Two readers race with the same stale version. The conflict resolver must
// union both into readBy instead of letting the second overwrite the first.
func TestMarkReadConcurrentReadersMerge(t *testing.T) {
	st := memstore.New()
	tr, _ := testTracker(t, st, nil)
	seedMessage(t, st, "m1", model.StatusSent, 1, []string{"alice"})

	bobView := &model.Message{ID: "m1", ConversationID: "conv1", SenderID: "alice", Status: model.StatusSent, ReadBy: []string{"alice"}, Version: 1}
	carolView := &model.Message{ID: "m1", ConversationID: "conv1", SenderID: "alice", Status: model.StatusSent, ReadBy: []string{"alice"}, Version: 1}

	if err := tr.MarkRead(context.Background(), bobView, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := tr.MarkRead(context.Background(), carolView, "carol"); err != nil {
		t.Fatal(err)
	}

	doc, err := st.Get(context.Background(), "messages/m1")
	if err != nil {
		t.Fatal(err)
	}
	readBy := doc.Strings("readBy")
	want := map[string]bool{"alice": true, "bob": true, "carol": true}
	if len(readBy) != 3 {
		t.Fatalf("readBy = %v, want three readers", readBy)
	}
	for _, u := range readBy {
		if !want[u] {
			t.Errorf("unexpected reader %q", u)
		}
	}
	if doc.String("status") != "READ" {
		t.Errorf("status = %q, want READ", doc.String("status"))
	}
	if doc.Int64("version") != 3 {
		t.Errorf("version = %d, want 3 after two writes", doc.Int64("version"))
	}
}

// contendedStore lands a committed write between a transaction's reads and
// its commit, the window a real concurrent client would hit.
type contendedStore struct {
	*memstore.Store
	interfere func()
	fired     bool
}

func (c *contendedStore) RunTransaction(ctx context.Context, fn func(tx remote.Tx) error) error {
	return c.Store.RunTransaction(ctx, func(tx remote.Tx) error {
		err := fn(tx)
		if !c.fired {
			c.fired = true
			c.interfere()
		}
		return err
	})
}

// A delivery receipt races a reader who commits READ first. The losing write
// must observe the reader's commit: READ cannot regress to DELIVERED, and
// both updates advance the version.
func TestDeliveryReceiptLosingRaceSeesReadersCommit(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	st := &contendedStore{Store: inner}
	st.interfere = func() {
		err := inner.Update(ctx, "messages/m1", map[string]any{
			"status":  string(model.StatusRead),
			"read":    true,
			"readBy":  remote.ArrayUnion("bob"),
			"version": int64(6),
		})
		if err != nil {
			t.Error(err)
		}
	}

	b := bus.New()
	logger, _ := zap.NewDevelopment()
	tr := NewTracker(st, version.NewGuard(st, 3), nil, b, logger)
	msg := seedMessage(t, inner, "m1", model.StatusSent, 5, []string{"alice"})

	if err := tr.MarkDelivered(ctx, msg, "carol"); err != nil {
		t.Fatal(err)
	}

	doc, err := inner.Get(ctx, "messages/m1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.String("status") != "READ" {
		t.Errorf("status = %q, the reader's READ must survive the stale receipt", doc.String("status"))
	}
	if !doc.Bool("read") {
		t.Error("read = false, want true")
	}
	if doc.Int64("version") != 7 {
		t.Errorf("version = %d, want 7 after two writes", doc.Int64("version"))
	}
}

func TestMirrorFailureDoesNotFailReceipt(t *testing.T) {
	st := memstore.New()
	receipts := &fakeReceipts{err: fmt.Errorf("backend down")}
	tr, _ := testTracker(t, st, receipts)
	msg := seedMessage(t, st, "m1", model.StatusSent, 1, []string{"alice"})

	if err := tr.MarkRead(context.Background(), msg, "bob"); err != nil {
		t.Fatalf("MarkRead failed on mirror error: %v", err)
	}
	doc, _ := st.Get(context.Background(), "messages/m1")
	if doc.String("status") != "READ" {
		t.Errorf("status = %q, want READ despite mirror failure", doc.String("status"))
	}
}

func TestMarkConversationRead(t *testing.T) {
	st := memstore.New()
	receipts := &fakeReceipts{bulkCount: 3}
	tr, _ := testTracker(t, st, receipts)

	err := st.Set(context.Background(), "userChats/bob_conv1", map[string]any{
		"userId":         "bob",
		"conversationId": "conv1",
		"unreadCount":    int64(3),
	})
	if err != nil {
		t.Fatal(err)
	}

	count, err := tr.MarkConversationRead(context.Background(), "conv1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	doc, _ := st.Get(context.Background(), "userChats/bob_conv1")
	if doc.Int64("unreadCount") != 0 {
		t.Errorf("unreadCount = %d, want 0", doc.Int64("unreadCount"))
	}
}

func TestMarkConversationReadEmptyKeepsCounter(t *testing.T) {
	st := memstore.New()
	receipts := &fakeReceipts{bulkCount: 0}
	tr, _ := testTracker(t, st, receipts)

	err := st.Set(context.Background(), "userChats/bob_conv1", map[string]any{
		"unreadCount": int64(2),
	})
	if err != nil {
		t.Fatal(err)
	}

	count, err := tr.MarkConversationRead(context.Background(), "conv1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	doc, _ := st.Get(context.Background(), "userChats/bob_conv1")
	if doc.Int64("unreadCount") != 2 {
		t.Errorf("unreadCount = %d, an empty bulk call must not touch it", doc.Int64("unreadCount"))
	}
}

func TestMarkConversationReadBackendError(t *testing.T) {
	st := memstore.New()
	receipts := &fakeReceipts{err: fmt.Errorf("backend down")}
	tr, _ := testTracker(t, st, receipts)

	if _, err := tr.MarkConversationRead(context.Background(), "conv1", "bob"); err == nil {
		t.Fatal("backend error swallowed, want error")
	}
}
