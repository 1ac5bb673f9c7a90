package rest

import (
	"context"
	stdhttp "net/http"
	"net/url"
	"strconv"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// ListChannels calls GET /channels.
func (c *Client) ListChannels(ctx context.Context) ([]proto.Channel, error) {
	var channels []proto.Channel
	if err := c.do(ctx, stdhttp.MethodGet, "/channels", nil, nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// GetChannel calls GET /channels/{id}.
func (c *Client) GetChannel(ctx context.Context, channelID int64) (proto.ChannelDetail, error) {
	var detail proto.ChannelDetail
	err := c.do(ctx, stdhttp.MethodGet, "/channels/"+id(channelID), nil, nil, &detail)
	return detail, err
}

// ListMessages calls GET /channels/{id}/messages.
func (c *Client) ListMessages(ctx context.Context, channelID int64, q core.MessageQuery) ([]proto.Message, error) {
	query := url.Values{}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Since > 0 {
		query.Set("since", id(q.Since))
	}
	if q.Until > 0 {
		query.Set("until", id(q.Until))
	}

	var messages []proto.Message
	if err := c.do(ctx, stdhttp.MethodGet, "/channels/"+id(channelID)+"/messages", query, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// JoinChannel calls PUT /channels/{id}/users/{userId}.
func (c *Client) JoinChannel(ctx context.Context, channelID, userID int64) (proto.Channel, error) {
	var channel proto.Channel
	err := c.do(ctx, stdhttp.MethodPut, "/channels/"+id(channelID)+"/users/"+id(userID), nil, nil, &channel)
	return channel, err
}

// LeaveChannel calls DELETE /channels/{id}/users/{userId}.
func (c *Client) LeaveChannel(ctx context.Context, channelID, userID int64) error {
	return c.do(ctx, stdhttp.MethodDelete, "/channels/"+id(channelID)+"/users/"+id(userID), nil, nil, nil)
}

// MarkAsRead calls PUT /channels/{id}/mark-as-read/{messageId}.
func (c *Client) MarkAsRead(ctx context.Context, channelID, messageID int64) error {
	return c.do(ctx, stdhttp.MethodPut, "/channels/"+id(channelID)+"/mark-as-read/"+id(messageID), nil, nil, nil)
}

// SendMessage calls POST /channels/{id}/messages.
func (c *Client) SendMessage(ctx context.Context, channelID int64, req proto.SendMessageRequest) (proto.Message, error) {
	var msg proto.Message
	err := c.do(ctx, stdhttp.MethodPost, "/channels/"+id(channelID)+"/messages", nil, req, &msg)
	return msg, err
}

// NewPrivateChat calls POST /chat/new.
func (c *Client) NewPrivateChat(ctx context.Context, req proto.NewPrivateChatRequest) (proto.NewPrivateChatResponse, error) {
	var resp proto.NewPrivateChatResponse
	err := c.do(ctx, stdhttp.MethodPost, "/chat/new", nil, req, &resp)
	return resp, err
}

// Notifications calls GET /notifications. maxID of zero fetches the newest page.
func (c *Client) Notifications(ctx context.Context, maxID int64) (proto.NotificationsResponse, error) {
	query := url.Values{}
	if maxID > 0 {
		query.Set("max_id", id(maxID))
	}
	var resp proto.NotificationsResponse
	err := c.do(ctx, stdhttp.MethodGet, "/notifications", query, nil, &resp)
	return resp, err
}

// MarkNotificationsRead calls POST /notifications/mark-read.
func (c *Client) MarkNotificationsRead(ctx context.Context, ids []int64) error {
	return c.do(ctx, stdhttp.MethodPost, "/notifications/mark-read", nil, proto.MarkNotificationsRequest{NotificationIDs: ids}, nil)
}

// Updates calls GET /chat/updates.
func (c *Client) Updates(ctx context.Context, q proto.UpdatesQuery) (proto.UpdatesResponse, error) {
	query := url.Values{}
	query.Set("since", id(q.Since))
	if q.HistorySince > 0 {
		query.Set("history_since", id(q.HistorySince))
	}
	for _, inc := range q.Includes {
		query.Add("includes[]", inc)
	}
	var resp proto.UpdatesResponse
	err := c.do(ctx, stdhttp.MethodGet, "/chat/updates", query, nil, &resp)
	return resp, err
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}
