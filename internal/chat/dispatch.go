package chat

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/samber/lo"

	"go-dm/internal/message"
	"go-dm/internal/user"
)

func (c *Client) dispatch(ctx context.Context, env Envelope) {
	switch env.Event {
	case InCheckUser:
		c.handleCheckUser(ctx, env)
	case InSendMessage:
		c.handleSendMessage(ctx, env)
	case InGetUnreadMessages:
		c.handleGetUnread(ctx, env)
	case InMarkAsRead:
		c.handleMarkAsRead(ctx, env)
	case InGetUsers:
		c.handleGetUsers(ctx, env)
	case InGetMessages:
		c.handleGetMessages(ctx, env)
	default:
		c.push(EventError, msgUnknownEvent)
	}
}

func (c *Client) handleCheckUser(ctx context.Context, env Envelope) {
	var name string
	if err := decode(env, &name); err != nil {
		c.reply(env, checkUserReply{Error: msgInvalidPayload})
		return
	}

	res, err := c.service.Register(ctx, name)
	if err != nil {
		c.reply(env, checkUserReply{Error: registerError(name, err)})
		return
	}
	c.userID.Store(res.UserID)
	c.reply(env, checkUserReply{Success: true, UserID: res.UserID})
}

func (c *Client) handleSendMessage(ctx context.Context, env Envelope) {
	var req sendMessageRequest
	if err := decode(env, &req); err != nil {
		c.fail(env, msgInvalidPayload)
		return
	}

	ev, err := c.service.Send(ctx, req.SenderID, req.ReceiverName, req.Message)
	if err != nil {
		c.fail(env, sendError(err))
		return
	}
	c.reply(env, ev.MessageRecord)
}

func (c *Client) handleGetUnread(ctx context.Context, env Envelope) {
	var userID int64
	if err := decode(env, &userID); err != nil {
		c.reply(env, []unreadRow{})
		return
	}

	counts, err := c.service.UnreadSummary(ctx, userID)
	if err != nil {
		c.reply(env, []unreadRow{})
		return
	}
	c.reply(env, unreadRows(counts))
}

func (c *Client) handleMarkAsRead(ctx context.Context, env Envelope) {
	var req markAsReadRequest
	if err := decode(env, &req); err != nil {
		c.fail(env, msgInvalidPayload)
		return
	}

	if err := c.service.MarkAsRead(ctx, req.UserID, req.SenderName); err != nil {
		c.fail(env, markAsReadError(err))
		return
	}
	c.reply(env, statusReply{Success: true})
}

func (c *Client) handleGetUsers(ctx context.Context, env Envelope) {
	users, err := c.service.ListUsers(ctx)
	if err != nil {
		c.reply(env, []user.User{})
		return
	}
	c.reply(env, users)
}

func (c *Client) handleGetMessages(ctx context.Context, env Envelope) {
	var req getMessagesRequest
	if err := decode(env, &req); err != nil {
		c.reply(env, []MessageRecord{})
		return
	}

	msgs, err := c.service.History(ctx, req.UserID, req.ReceiverUserName)
	if err != nil {
		c.reply(env, []MessageRecord{})
		return
	}
	c.reply(env, messageRecords(msgs))
}

func decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(env.Data, v)
}

// unreadRows renders the summary ordered by sender id so replies are stable.
func unreadRows(counts map[int64]int) []unreadRow {
	senders := lo.Keys(counts)
	slices.Sort(senders)
	return lo.Map(senders, func(id int64, _ int) unreadRow {
		return unreadRow{SenderID: id, Unread: counts[id]}
	})
}

func messageRecords(msgs []message.Message) []MessageRecord {
	return lo.Map(msgs, func(m message.Message, _ int) MessageRecord {
		return NewMessageRecord(m)
	})
}
