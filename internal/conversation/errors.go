package conversation

import "errors"

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrDuplicateID     = errors.New("duplicate message id")
	ErrInvalidMessage  = errors.New("invalid message")
)
