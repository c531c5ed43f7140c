package chat

import "errors"

var (
	ErrNotAuthenticated     = errors.New("chat: user not authenticated")
	ErrReadOnly             = errors.New("chat: surface is read-only")
	ErrNoActiveConversation = errors.New("chat: no active conversation")
	ErrNoRecipient          = errors.New("chat: no recipient")
	ErrRateLimited          = errors.New("chat: sending too fast")
	ErrInvalidMessage       = errors.New("chat: invalid message")
)
