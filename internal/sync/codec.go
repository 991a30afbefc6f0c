package sync

import (
	"github.com/famguard/chatsync/internal/model"
	"github.com/famguard/chatsync/internal/remote"
)

// Collection layout of the remote store.
const (
	colConversations = "conversations"
	colMessages      = "messages"
	colUserChats     = "userChats"
	colTyping        = "typing"
	colUserStatus    = "userStatus"
)

func conversationPath(id string) string {
	return colConversations + "/" + id
}

func messagePath(id string) string {
	return colMessages + "/" + id
}

// userChats rows are keyed "<uid>_<conversationId>" so one lookup finds a
// user's row for a conversation without a query.
func userChatPath(uid, conversationID string) string {
	return colUserChats + "/" + uid + "_" + conversationID
}

// typing rows are keyed "<conversationId>_<uid>".
func typingPath(conversationID, uid string) string {
	return colTyping + "/" + conversationID + "_" + uid
}

func presencePath(uid string) string {
	return colUserStatus + "/" + uid
}

func decodeMessage(doc remote.Doc) *model.Message {
	msg := &model.Message{
		ID:              doc.ID,
		ConversationID:  doc.String("conversationId"),
		SenderID:        doc.String("senderId"),
		Text:            doc.String("text"),
		MediaURL:        doc.String("mediaUrl"),
		Type:            model.MessageType(doc.String("type")),
		Status:          model.DeliveryStatus(doc.String("status")),
		Read:            doc.Bool("read"),
		ReadBy:          doc.Strings("readBy"),
		Version:         doc.Int64("version"),
		Timestamp:       doc.Time("timestamp"),
		ClientTimestamp: doc.Time("clientTimestamp"),
	}
	if loc := doc.Map("location"); loc != nil {
		sub := remote.Doc{Data: loc}
		msg.Location = &model.Location{
			Lat:   sub.Float64("lat"),
			Lng:   sub.Float64("lng"),
			Label: sub.String("label"),
		}
	}
	return msg
}

func decodeConversation(doc remote.Doc) *model.Conversation {
	conv := &model.Conversation{
		ID:           doc.ID,
		Participants: doc.Strings("participants"),
		IsGroup:      doc.Bool("isGroup"),
		GroupName:    doc.String("groupName"),
		GroupAdmin:   doc.String("groupAdmin"),
		CreatedAt:    doc.Time("createdAt"),
		UpdatedAt:    doc.Time("updatedAt"),
	}
	if lm := doc.Map("lastMessage"); lm != nil {
		sub := remote.Doc{Data: lm}
		conv.LastMessage = &model.LastMessage{
			Text:      sub.String("text"),
			SenderID:  sub.String("senderId"),
			Timestamp: sub.Time("timestamp"),
			Read:      sub.Bool("read"),
		}
	}
	return conv
}

// messageData builds the field map for a new message document. The server
// assigns the authoritative timestamp; clientTimestamp preserves the device
// clock for ordering diagnostics.
func messageData(msg *model.Message) map[string]any {
	data := map[string]any{
		"conversationId":  msg.ConversationID,
		"senderId":        msg.SenderID,
		"text":            msg.Text,
		"mediaUrl":        msg.MediaURL,
		"type":            string(msg.Type),
		"status":          string(msg.Status),
		"read":            msg.Read,
		"readBy":          msg.ReadBy,
		"version":         msg.Version,
		"timestamp":       remote.ServerTimestamp,
		"clientTimestamp": msg.ClientTimestamp,
	}
	if msg.Location != nil {
		data["location"] = map[string]any{
			"lat":   msg.Location.Lat,
			"lng":   msg.Location.Lng,
			"label": msg.Location.Label,
		}
	}
	return data
}

func conversationData(conv *model.Conversation) map[string]any {
	return map[string]any{
		"participants": conv.Participants,
		"isGroup":      conv.IsGroup,
		"groupName":    conv.GroupName,
		"groupAdmin":   conv.GroupAdmin,
		"lastMessage":  nil,
		"createdAt":    remote.ServerTimestamp,
		"updatedAt":    remote.ServerTimestamp,
	}
}

// userChatData builds a fresh index row for a participant.
func userChatData(uid, conversationID string, unread int) map[string]any {
	return map[string]any{
		"userId":         uid,
		"conversationId": conversationID,
		"unreadCount":    unread,
		"lastAccessed":   remote.ServerTimestamp,
	}
}
