package handlers

import (
	"context"
	"log"

	"github.com/BatmanBruc/bat-bot-merger/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-merger/internal/messages"
	"github.com/BatmanBruc/bat-bot-merger/types"
)

func (bh *Handlers) HandleFile(ctx context.Context, caller contextkeys.Caller) {
	entry, ok := contextkeys.GetJobEntry(ctx)
	if !ok {
		bh.send(ctx, caller.ChatID, messages.ErrorUnsupportedMessageType(), nil)
		return
	}

	mode, err := bh.users.GetMergeMode(caller.UserID)
	if err != nil {
		log.Printf("Error getting merge mode for user %d: %v", caller.UserID, err)
		mode = types.MergeVideo
	}

	size, err := bh.queue.Enqueue(caller.UserID, entry, mode)
	if err != nil {
		bh.send(ctx, caller.ChatID, messages.Error(err), nil)
		return
	}
	log.Printf("User %d queued %q (%d/%d)", caller.UserID, entry.DisplayName, size, bh.queue.MaxSize())

	q, err := bh.queue.Get(caller.UserID)
	if err != nil || q == nil {
		log.Printf("Error reading queue for user %d: %v", caller.UserID, err)
		return
	}
	bh.sendPrompt(ctx, caller, q)
}
