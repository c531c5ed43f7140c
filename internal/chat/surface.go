package chat

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/haraj-adan/chatsync/internal/gateway"
	"github.com/haraj-adan/chatsync/internal/notify"
	"github.com/haraj-adan/chatsync/internal/protocol"
)

// Member is the signed-in identity as seen by a store.
type Member struct {
	ID    int64
	Admin bool
}

// MediaUpload is an attachment to send.
type MediaUpload struct {
	Filename    string
	ContentType string
	Type        string // image, audio or file
	Body        io.Reader
}

// historyPage is one decoded page of message history.
type historyPage struct {
	Items        []Message
	Total        int
	TotalKnown   bool
	Conversation *Conversation
}

// Surface is the table that turns the generic Store into one of the chat
// surfaces: its event names, rooms, endpoints and payload shapes.
type Surface struct {
	Name  string
	Badge notify.Surface // empty when the surface has no badge

	NewMessageEvent  string
	ReadNoticeEvent  string
	SendEvent        string
	ReadReceiptEvent string
	SendSuccessEvent string // optional confirmation pushed to the sender

	// Room is the room of one conversation.
	Room func(conversationID int64) string
	// RoleRooms are joined while listening and after every reconnect.
	RoleRooms func(me Member) []string

	ListPath       string
	ListNeedsAdmin bool // non-admins have no list on this surface
	FilterBy       bool
	MediaPath      string
	ThreadPath     string // the customer's own support thread

	ReadOnly   bool
	Privileged bool // messages carry a staff flag that drives badges

	history     func(conversationID int64, page, limit int) (string, gateway.Query)
	decode      func(conversationID int64, r *gateway.Response) (historyPage, error)
	sendPayload func(me Member, a *activeConversation, text string) (interface{}, error)
	mediaForm   func(me Member, a *activeConversation, up MediaUpload) (*gateway.Form, error)
}

// UserSurface is user-to-user chat.
func UserSurface() Surface {
	return Surface{
		Name:             "user",
		Badge:            notify.SurfaceUser,
		NewMessageEvent:  protocol.EventNewUserMessage,
		ReadNoticeEvent:  protocol.EventUserMessagesRead,
		SendEvent:        protocol.EventSendUserMessage,
		ReadReceiptEvent: protocol.EventReadUserMessages,
		Room:             protocol.UserChatRoom,
		RoleRooms:        func(Member) []string { return nil },
		ListPath:         "/chats/customer/paginate",
		MediaPath:        "/chats/media",

		history: func(id int64, page, limit int) (string, gateway.Query) {
			return "/chats/messages", gateway.PageQuery(page, limit).Set("chatId", id)
		},
		decode: decodeFlatHistory,
		sendPayload: func(me Member, a *activeConversation, text string) (interface{}, error) {
			to := a.recipient(me.ID)
			if to == 0 {
				return nil, ErrNoRecipient
			}
			return protocol.UserMessagePayload{SenderID: me.ID, ReceiverID: to, Message: text, Type: TypeText}, nil
		},
		mediaForm: func(me Member, a *activeConversation, up MediaUpload) (*gateway.Form, error) {
			to := a.recipient(me.ID)
			if to == 0 {
				return nil, ErrNoRecipient
			}
			return gateway.NewForm().
				File("file", up.Filename, up.ContentType, up.Body).
				Field("senderId", me.ID).
				Field("receiverId", to), nil
		},
	}
}

// SupportSurface is customer-to-staff support chat. Staff see every
// thread; a customer sees only their own.
func SupportSurface() Surface {
	return Surface{
		Name:             "support",
		Badge:            notify.SurfaceSupport,
		NewMessageEvent:  protocol.EventNewSupportMessage,
		ReadNoticeEvent:  protocol.EventSupportMessagesRead,
		SendEvent:        protocol.EventSendSupportMessage,
		ReadReceiptEvent: protocol.EventReadSupportMessages,
		SendSuccessEvent: protocol.EventSupportSendSuccess,
		Room:             protocol.SupportChatRoom,
		RoleRooms: func(me Member) []string {
			if me.Admin {
				return []string{protocol.RoomAdmins}
			}
			return []string{protocol.SupportUserRoom(me.ID)}
		},
		ListPath:       "/support-chats/paginate",
		ListNeedsAdmin: true,
		FilterBy:       true,
		MediaPath:      "/support-chats/media",
		ThreadPath:     "/support-chats/customer/paginate",
		Privileged:     true,

		history: func(id int64, page, limit int) (string, gateway.Query) {
			return fmt.Sprintf("/support-chats/%d", id), gateway.PageQuery(page, limit)
		},
		decode: decodeSupportHistory,
		sendPayload: func(me Member, a *activeConversation, text string) (interface{}, error) {
			customer := me.ID
			if me.Admin {
				customer = a.recipient(me.ID)
			}
			if customer == 0 {
				return nil, ErrNoRecipient
			}
			return protocol.SupportMessagePayload{
				UserID: customer,
				Message: protocol.SupportMessageBody{
					Type: TypeText, Message: text, SenderID: me.ID, IsAdmin: me.Admin,
				},
			}, nil
		},
		mediaForm: func(me Member, a *activeConversation, up MediaUpload) (*gateway.Form, error) {
			typ := up.Type
			if typ == "" {
				typ = TypeFile
			}
			f := gateway.NewForm().File("file", up.Filename, up.ContentType, up.Body)
			if a.id != 0 {
				f.Field("chatId", a.id)
			}
			f.Field("type", typ).Field("userId", me.ID)
			if me.Admin {
				f.Field("is_admin", 1)
			}
			return f, nil
		},
	}
}

// MonitorSurface lets staff observe user-to-user conversations. It is
// read-only.
func MonitorSurface() Surface {
	return Surface{
		Name:            "monitor",
		NewMessageEvent: protocol.EventNewChatMessage,
		ReadNoticeEvent: protocol.EventMessagesRead,
		Room:            protocol.MonitorRoom,
		RoleRooms:       func(Member) []string { return []string{protocol.RoomAdmins} },
		ListPath:        "/chats/paginate/admin",
		ListNeedsAdmin:  true,
		ReadOnly:        true,

		history: func(id int64, page, limit int) (string, gateway.Query) {
			return fmt.Sprintf("/chats/admin/%d/messages", id), gateway.PageQuery(page, limit)
		},
		decode: decodeFlatHistory,
	}
}

// decodeFlatHistory reads {data:[...messages], meta} in either nesting.
func decodeFlatHistory(id int64, r *gateway.Response) (historyPage, error) {
	p, err := gateway.DecodePage[wireMessage](r)
	if err != nil {
		return historyPage{}, err
	}
	return historyPage{
		Items:      withConversation(toMessages(p.Items), id),
		Total:      p.Total,
		TotalKnown: p.TotalKnown,
	}, nil
}

// decodeSupportHistory reads a support conversation whose messages are
// embedded as support_chat_messages.
func decodeSupportHistory(id int64, r *gateway.Response) (historyPage, error) {
	var w wireConversation
	if err := json.Unmarshal(r.Data, &w); err != nil {
		return historyPage{}, fmt.Errorf("chat: decode support history: %w", err)
	}
	if w.ID != 0 {
		id = w.ID
	}
	conv := w.toConversation()
	page := historyPage{
		Items:        withConversation(toMessages(w.SupportChatMessages), id),
		Conversation: &conv,
	}
	if r.Meta != nil && r.Meta.Total != nil {
		page.Total, page.TotalKnown = *r.Meta.Total, true
	}
	return page, nil
}

func withConversation(ms []Message, id int64) []Message {
	for i := range ms {
		if ms[i].ConversationID == 0 {
			ms[i].ConversationID = id
		}
	}
	return ms
}
