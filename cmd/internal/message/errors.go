package message

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrMessageNotFound = errors.New("message not found")
)
