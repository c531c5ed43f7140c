package protocol

import "strconv"

// ---------------------------------------------------------------------------
// Live event names
// ---------------------------------------------------------------------------

// Room membership and presence (client -> server).
const (
	EventJoinRoom  = "joinRoom"
	EventLeaveRoom = "leaveRoom"
	EventOffline   = "offline"
)

// User-to-user chat.
const (
	EventSendUserMessage  = "sendUserMessage"
	EventReadUserMessages = "readUserMessages"
	EventNewUserMessage   = "newUserMessage"
	EventUserMessagesRead = "userMessagesRead"
)

// Support chat.
const (
	EventSendSupportMessage  = "sendSupportMessage"
	EventSupportSendSuccess  = "sendSupportMessage:success"
	EventReadSupportMessages = "readSupportMessages"
	EventNewSupportMessage   = "newSupportMessage"
	EventSupportMessagesRead = "supportMessagesRead"
)

// Admin monitor (inbound only).
const (
	EventNewChatMessage = "newChatMessage"
	EventMessagesRead   = "messagesRead"
)

// Presence (server -> client).
const (
	EventUserOnline  = "userOnline"
	EventUserOffline = "userOffline"
)

// Unread counts. The same name is used for the request and the pushed
// response.
const (
	EventCountChatNotifications   = "countChatNotifications"
	EventCountUnreadMessages      = "countUnreadMessages"
	EventCountUnreadAdminMessages = "countUnreadAdminMessages"
)

// Frame-level types that never reach subscribers as application events.
const (
	TypePing = "ping"
	TypePong = "pong"
	TypeAck  = "ack"
)

// EventReconnected is emitted locally by the transport after every
// successful (re)connection. It never crosses the wire.
const EventReconnected = "socket-reconnected"

// ---------------------------------------------------------------------------
// Room names
// ---------------------------------------------------------------------------

// RoomAdmins is the shared room joined by administrative identities.
const RoomAdmins = "admins"

// UserRoom is the personal room of an identity.
func UserRoom(userID int64) string { return "user_" + strconv.FormatInt(userID, 10) }

// UserChatRoom is the room of a user-to-user conversation.
func UserChatRoom(chatID int64) string { return "user_chat_" + strconv.FormatInt(chatID, 10) }

// SupportChatRoom is the room of a support conversation.
func SupportChatRoom(chatID int64) string {
	return "support_chat_" + strconv.FormatInt(chatID, 10)
}

// SupportUserRoom is the room a customer joins to follow their own support
// thread.
func SupportUserRoom(userID int64) string {
	return "support_user_" + strconv.FormatInt(userID, 10)
}

// MonitorRoom is the room an administrator joins to observe a user-to-user
// conversation.
func MonitorRoom(chatID int64) string { return "chats_" + strconv.FormatInt(chatID, 10) }
