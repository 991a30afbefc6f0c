package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/famguard/chatsync/internal/model"
	"github.com/famguard/chatsync/internal/remote"
)

func TestCreateDirectConversationDedup(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	first, err := f.eng.CreateDirectConversation(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.eng.CreateDirectConversation(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("created twice: %s vs %s, want same conversation", first, second)
	}

	// A different pair still gets its own thread.
	other, err := f.eng.CreateDirectConversation(ctx, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Error("alice-carol reused the alice-bob conversation")
	}
}

func TestCreateDirectConversationIndexRows(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	id, err := f.eng.CreateDirectConversation(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	for _, uid := range []string{"alice", "bob"} {
		doc, err := f.st.Get(ctx, userChatPath(uid, id))
		if err != nil {
			t.Fatal(err)
		}
		if !doc.Exists() || doc.Int64("unreadCount") != 0 {
			t.Errorf("%s index row = %+v, want fresh row with 0 unread", uid, doc.Data)
		}
	}
}

func TestCreateDirectConversationRejectsSelf(t *testing.T) {
	f := newFixture(t, "alice")

	_, err := f.eng.CreateDirectConversation(context.Background(), "alice")
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestCreateGroupConversation(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	id, err := f.eng.CreateGroupConversation(ctx, "family", []string{"bob", "carol"})
	if err != nil {
		t.Fatal(err)
	}
	conv, err := f.eng.getConversation(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !conv.IsGroup || conv.GroupName != "family" || conv.GroupAdmin != "alice" {
		t.Errorf("conversation = %+v, want alice-administered group 'family'", conv)
	}
	if len(conv.Participants) != 3 || !conv.HasParticipant("alice") {
		t.Errorf("participants = %v, creator must be included", conv.Participants)
	}
	for _, uid := range conv.Participants {
		doc, _ := f.st.Get(ctx, userChatPath(uid, id))
		if !doc.Exists() {
			t.Errorf("missing index row for %s", uid)
		}
	}
}

func TestCreateGroupConversationValidation(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	if _, err := f.eng.CreateGroupConversation(ctx, "  ", []string{"bob"}); err == nil {
		t.Error("empty group name accepted")
	}
	if _, err := f.eng.CreateGroupConversation(ctx, "dups", []string{"bob", "bob"}); err == nil {
		t.Error("duplicate participants accepted")
	}
}

func TestDeleteMessageRecomputesLastMessage(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, false)
	ctx := context.Background()

	first, err := f.eng.Send(ctx, Outgoing{ConversationID: "conv1", Type: model.TypeText, Text: "first"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.eng.Send(ctx, Outgoing{ConversationID: "conv1", Type: model.TypeText, Text: "second"})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.eng.DeleteMessage(ctx, second); err != nil {
		t.Fatal(err)
	}

	doc, _ := f.st.Get(ctx, messagePath(second))
	if doc.Exists() {
		t.Error("deleted message still present")
	}
	conv, err := f.eng.getConversation(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessage == nil || conv.LastMessage.Text != "first" {
		t.Errorf("lastMessage = %+v, want recomputed to 'first'", conv.LastMessage)
	}

	// Deleting the last remaining message clears the summary.
	if err := f.eng.DeleteMessage(ctx, first); err != nil {
		t.Fatal(err)
	}
	conv, _ = f.eng.getConversation(ctx, "conv1")
	if conv.LastMessage != nil {
		t.Errorf("lastMessage = %+v after deleting all messages, want nil", conv.LastMessage)
	}
}

func TestDeleteMessageOnlyBySender(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, false)
	ctx := context.Background()

	seedIncoming(t, f, "m1", "bob", model.StatusSent)

	err := f.eng.DeleteMessage(ctx, "m1")
	if !remote.IsPermissionDenied(err) {
		t.Errorf("err = %v, want permission denied", err)
	}
	doc, _ := f.st.Get(ctx, messagePath("m1"))
	if !doc.Exists() {
		t.Error("message deleted despite rejection")
	}
}

func TestDeleteMessageMissing(t *testing.T) {
	f := newFixture(t, "alice")

	if err := f.eng.DeleteMessage(context.Background(), "nope"); !remote.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestDeleteConversationGroupLeave(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"alice", "bob", "carol"}, true)
	ctx := context.Background()

	if err := f.eng.DeleteConversation(ctx, "conv1"); err != nil {
		t.Fatal(err)
	}

	conv, err := f.eng.getConversation(ctx, "conv1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.HasParticipant("alice") {
		t.Error("alice still a participant after leaving")
	}
	if len(conv.Participants) != 2 {
		t.Errorf("participants = %v, want the two remaining members", conv.Participants)
	}
	if conv.GroupAdmin == "alice" || conv.GroupAdmin == "" {
		t.Errorf("groupAdmin = %q, want reassigned to a remaining member", conv.GroupAdmin)
	}
	doc, _ := f.st.Get(ctx, userChatPath("alice", "conv1"))
	if doc.Exists() {
		t.Error("alice's index row survived leaving")
	}
	doc, _ = f.st.Get(ctx, userChatPath("bob", "conv1"))
	if !doc.Exists() {
		t.Error("bob's index row removed by alice leaving")
	}
}

func TestDeleteConversationDirectCascade(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, false)
	ctx := context.Background()

	if _, err := f.eng.Send(ctx, Outgoing{ConversationID: "conv1", Type: model.TypeText, Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	if err := f.eng.DeleteConversation(ctx, "conv1"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.eng.getConversation(ctx, "conv1"); !remote.IsNotFound(err) {
		t.Errorf("err = %v, want conversation gone", err)
	}
	if docs := f.messages(t, "conv1"); len(docs) != 0 {
		t.Errorf("got %d surviving messages, want 0", len(docs))
	}
	for _, uid := range []string{"alice", "bob"} {
		doc, _ := f.st.Get(ctx, userChatPath(uid, "conv1"))
		if doc.Exists() {
			t.Errorf("%s index row survived cascade", uid)
		}
	}
}

// A two-member group behaves like a direct conversation on deletion: one
// member leaving would leave a single-member group, so it cascades.
func TestDeleteConversationSmallGroupCascades(t *testing.T) {
	f := newFixture(t, "alice")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, true)
	ctx := context.Background()

	if err := f.eng.DeleteConversation(ctx, "conv1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.eng.getConversation(ctx, "conv1"); !remote.IsNotFound(err) {
		t.Errorf("err = %v, want conversation gone", err)
	}
}

func TestDeleteConversationRequiresMembership(t *testing.T) {
	f := newFixture(t, "mallory")
	f.seedConversation(t, "conv1", []string{"alice", "bob"}, false)

	err := f.eng.DeleteConversation(context.Background(), "conv1")
	if !remote.IsPermissionDenied(err) {
		t.Errorf("err = %v, want permission denied", err)
	}
}
