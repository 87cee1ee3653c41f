package handlers

import (
	"context"
	"crypto/subtle"
	"log"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-merger/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-merger/internal/messages"
	"github.com/BatmanBruc/bat-bot-merger/internal/middleware"
	"github.com/BatmanBruc/bat-bot-merger/types"
)

func (bh *Handlers) HandleCommand(ctx context.Context, update *models.Update, caller contextkeys.Caller) {
	if update.Message == nil {
		return
	}
	fields := strings.Fields(update.Message.Text)
	args := []string{}
	if len(fields) > 1 {
		args = fields[1:]
	}

	switch middleware.CommandName(update.Message.Text) {
	case "/start":
		bh.send(ctx, caller.ChatID, messages.StartWelcome(caller.FirstName), nil)
	case "/help":
		bh.send(ctx, caller.ChatID, messages.Help(bh.queue.MaxSize()), nil)
	case "/login":
		bh.login(ctx, caller, args)
	case "/mode":
		bh.mode(ctx, caller, args)
	case "/merge":
		bh.startMerge(ctx, caller)
	case "/queue":
		q, err := bh.queue.Get(caller.UserID)
		if err != nil || q == nil || len(q.Items) == 0 {
			bh.send(ctx, caller.ChatID, messages.QueueEmpty(), nil)
			return
		}
		if q.Status == types.StatusProcessing {
			bh.send(ctx, caller.ChatID, messages.QueueInProgress(q), nil)
			return
		}
		bh.sendPrompt(ctx, caller, q)
	case "/cancel":
		bh.cancel(ctx, caller)
	default:
		bh.send(ctx, caller.ChatID, messages.ErrorUnknownCommand(), nil)
	}
}

func (bh *Handlers) login(ctx context.Context, caller contextkeys.Caller, args []string) {
	if bh.loginPassword == "" || caller.IsOwner {
		bh.send(ctx, caller.ChatID, messages.LoginOK(), nil)
		return
	}
	if len(args) == 0 || subtle.ConstantTimeCompare([]byte(args[0]), []byte(bh.loginPassword)) != 1 {
		log.Printf("Failed login attempt by user %d", caller.UserID)
		bh.send(ctx, caller.ChatID, messages.LoginFailed(), nil)
		return
	}
	if err := bh.users.SetAllowed(caller.UserID, true); err != nil {
		log.Printf("Error allowing user %d: %v", caller.UserID, err)
		bh.send(ctx, caller.ChatID, messages.ErrorDefault(), nil)
		return
	}
	bh.send(ctx, caller.ChatID, messages.LoginOK(), nil)
}

func (bh *Handlers) mode(ctx context.Context, caller contextkeys.Caller, args []string) {
	if len(args) > 0 {
		if m, ok := types.ParseMergeMode(args[0]); ok {
			bh.setMode(ctx, caller, m)
			return
		}
	}
	current, err := bh.users.GetMergeMode(caller.UserID)
	if err != nil {
		log.Printf("Error getting merge mode for user %d: %v", caller.UserID, err)
		current = types.MergeVideo
	}
	bh.send(ctx, caller.ChatID, messages.ModeMenu(current), modeButtons())
}

func (bh *Handlers) setMode(ctx context.Context, caller contextkeys.Caller, m types.MergeMode) {
	if err := bh.users.SetMergeMode(caller.UserID, m); err != nil {
		log.Printf("Error setting merge mode for user %d: %v", caller.UserID, err)
		bh.send(ctx, caller.ChatID, messages.ErrorDefault(), nil)
		return
	}
	bh.send(ctx, caller.ChatID, messages.ModeChanged(m), nil)
}
