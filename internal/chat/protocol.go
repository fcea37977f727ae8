package chat

import (
	"encoding/json"
	"errors"

	"go-dm/internal/apperr"
)

// Inbound event names, as sent by existing clients.
const (
	InCheckUser         = "checkUser"
	InSendMessage       = "sendMessage"
	InGetUnreadMessages = "getUnreadMessages"
	InMarkAsRead        = "markAsRead"
	InGetUsers          = "getUsers"
	InGetMessages       = "getMessages"
)

// Client-visible failure strings. Internal detail never crosses the wire.
const (
	msgEmptyName         = "empty name"
	msgInvalidName       = "invalid name"
	msgDBError           = "db error"
	msgRecipientNotFound = "recipient not found"
	msgMessageNotSent    = "message not sent"
	msgInvalidMessage    = "invalid message"
	msgSenderNotFound    = "sender not found"
	msgInvalidPayload    = "invalid payload"
	msgUnknownEvent      = "unknown event"
)

// Envelope is one inbound frame. Ack, when set, asks for an "ack" frame carrying the same id.
type Envelope struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame is one outbound frame.
type Frame struct {
	Event string `json:"event"`
	Ack   *int64 `json:"ack,omitempty"`
	Data  any    `json:"data"`
}

type checkUserReply struct {
	Success bool   `json:"success"`
	UserID  int64  `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type sendMessageRequest struct {
	SenderID     int64  `json:"senderid"`
	ReceiverName string `json:"receiverName"`
	Message      string `json:"message"`
}

type markAsReadRequest struct {
	UserID     int64  `json:"userId"`
	SenderName string `json:"senderName"`
}

type getMessagesRequest struct {
	UserID           int64  `json:"userId"`
	ReceiverUserName string `json:"receiverUserName"`
}

type unreadRow struct {
	SenderID int64 `json:"senderid"`
	Unread   int   `json:"unread_messages"`
}

type statusReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func encodeFrame(event string, ack *int64, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Ack: ack, Data: data})
}

func registerError(name string, err error) string {
	switch {
	case apperr.IsValidation(err) && name == "":
		return msgEmptyName
	case apperr.IsValidation(err):
		return msgInvalidName
	default:
		return msgDBError
	}
}

func sendError(err error) string {
	switch {
	case errors.Is(err, ErrRecipientNotFound):
		return msgRecipientNotFound
	case apperr.IsValidation(err):
		return msgInvalidMessage
	default:
		return msgMessageNotSent
	}
}

func markAsReadError(err error) string {
	if errors.Is(err, ErrSenderNotFound) {
		return msgSenderNotFound
	}
	return msgDBError
}
