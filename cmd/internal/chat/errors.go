package chat

import "errors"

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrChatNotFound  = errors.New("chat not found")
	ErrNotAMember    = errors.New("user is not a member of the chat")
	ErrInvalidMember = errors.New("chat references unknown user")
)
