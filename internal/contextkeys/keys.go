package contextkeys

import (
	"context"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

type messageTypeKey struct{}
type jobEntryKey struct{}
type userKey struct{}
type callbackDataKey struct{}

type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeFile        MessageType = "file"
	MessageTypeUnknown     MessageType = "unknown"
	MessageTypeCommand     MessageType = "command"
	MessageTypeClickButton MessageType = "clickButton"
)

// Caller identifies who sent the update and where to answer.
type Caller struct {
	UserID    int64
	ChatID    int64
	FirstName string
	IsOwner   bool
}

func WithMessageType(ctx context.Context, msgType MessageType) context.Context {
	return context.WithValue(ctx, messageTypeKey{}, msgType)
}

func GetMessageType(ctx context.Context) (MessageType, bool) {
	v := ctx.Value(messageTypeKey{})
	if v == nil {
		return MessageTypeUnknown, false
	}
	return v.(MessageType), true
}

func WithJobEntry(ctx context.Context, entry types.JobEntry) context.Context {
	return context.WithValue(ctx, jobEntryKey{}, entry)
}

func GetJobEntry(ctx context.Context) (types.JobEntry, bool) {
	v := ctx.Value(jobEntryKey{})
	if v == nil {
		return types.JobEntry{}, false
	}
	return v.(types.JobEntry), true
}

func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, userKey{}, caller)
}

func GetCaller(ctx context.Context) (Caller, bool) {
	v := ctx.Value(userKey{})
	if v == nil {
		return Caller{}, false
	}
	return v.(Caller), true
}

func WithCallbackData(ctx context.Context, data string) context.Context {
	return context.WithValue(ctx, callbackDataKey{}, data)
}

func GetCallbackData(ctx context.Context) (string, bool) {
	v := ctx.Value(callbackDataKey{})
	if v == nil {
		return "", false
	}
	return v.(string), true
}
