package handlers

import (
	"context"
	"log"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-merger/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-merger/internal/messages"
	"github.com/BatmanBruc/bat-bot-merger/internal/queue"
	"github.com/BatmanBruc/bat-bot-merger/internal/scheduler"
	"github.com/BatmanBruc/bat-bot-merger/types"
)

// MergeRunner starts and stops merge runs.
type MergeRunner interface {
	Submit(ctx context.Context, userID, chatID int64) (*scheduler.Run, error)
	Cancel(userID int64) bool
}

type CallbackAnswerer interface {
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

type Handlers struct {
	queue         *queue.Manager
	runner        MergeRunner
	gateway       types.Gateway
	users         types.UserStore
	answerer      CallbackAnswerer
	loginPassword string
}

func NewHandlers(queue *queue.Manager, runner MergeRunner, gateway types.Gateway, users types.UserStore, answerer CallbackAnswerer, loginPassword string) *Handlers {
	return &Handlers{
		queue:         queue,
		runner:        runner,
		gateway:       gateway,
		users:         users,
		answerer:      answerer,
		loginPassword: loginPassword,
	}
}

func (bh *Handlers) MainHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	caller, ok := contextkeys.GetCaller(ctx)
	if !ok {
		log.Printf("Error: caller not found in context")
		return
	}
	messageType, _ := contextkeys.GetMessageType(ctx)

	switch messageType {
	case contextkeys.MessageTypeCommand:
		bh.HandleCommand(ctx, update, caller)
	case contextkeys.MessageTypeFile:
		bh.HandleFile(ctx, caller)
	case contextkeys.MessageTypeClickButton:
		bh.HandleClickButton(ctx, update, caller)
	default:
		bh.send(ctx, caller.ChatID, messages.ErrorUnsupportedMessageType(), nil)
	}
}

func (bh *Handlers) send(ctx context.Context, chatID int64, text string, buttons [][]types.Button) (types.MessageRef, error) {
	ref, err := bh.gateway.SendText(ctx, chatID, text, buttons)
	if err != nil {
		log.Printf("Error sending message to chat %d: %v", chatID, err)
	}
	return ref, err
}

func promptButtons() [][]types.Button {
	return [][]types.Button{
		{{Text: messages.ButtonMergeNow(), Data: callbackMerge}},
		{{Text: messages.ButtonCancel(), Data: callbackCancel}},
	}
}

func modeButtons() [][]types.Button {
	modes := []types.MergeMode{types.MergeVideo, types.MergeAudio, types.MergeSubtitle}
	rows := make([][]types.Button, 0, len(modes))
	for _, m := range modes {
		rows = append(rows, []types.Button{{Text: messages.ModeName(m), Data: modeCallback(m)}})
	}
	return rows
}

// sendPrompt replaces the user's queue prompt with a fresh one at the bottom
// of the chat.
func (bh *Handlers) sendPrompt(ctx context.Context, caller contextkeys.Caller, q *types.UserQueue) {
	ref, err := bh.send(ctx, caller.ChatID, messages.QueuePrompt(q, bh.queue.MaxSize()), promptButtons())
	if err != nil {
		return
	}
	prev, err := bh.queue.SetPrompt(caller.UserID, ref)
	if err != nil {
		log.Printf("Error saving prompt for user %d: %v", caller.UserID, err)
		return
	}
	if prev != nil && *prev != ref {
		bh.deleteMessage(ctx, *prev)
	}
}

func (bh *Handlers) deleteMessage(ctx context.Context, ref types.MessageRef) {
	if err := bh.gateway.DeleteMessage(ctx, ref); err != nil {
		log.Printf("Error deleting message %d in chat %d: %v", ref.MessageID, ref.ChatID, err)
	}
}

// dropPrompt deletes the last prompt so its buttons can't be pressed again.
func (bh *Handlers) dropPrompt(ctx context.Context, q *types.UserQueue) {
	if q != nil && q.LastPrompt != nil {
		bh.deleteMessage(ctx, *q.LastPrompt)
	}
}

func (bh *Handlers) startMerge(ctx context.Context, caller contextkeys.Caller) {
	q, _ := bh.queue.Get(caller.UserID)
	if _, err := bh.runner.Submit(ctx, caller.UserID, caller.ChatID); err != nil {
		bh.send(ctx, caller.ChatID, messages.Error(err), nil)
		return
	}
	bh.dropPrompt(ctx, q)
}

// cancel stops a running merge and clears whatever is queued.
func (bh *Handlers) cancel(ctx context.Context, caller contextkeys.Caller) {
	q, _ := bh.queue.Get(caller.UserID)
	running := bh.runner.Cancel(caller.UserID)
	if err := bh.queue.Clear(caller.UserID); err != nil {
		log.Printf("Error clearing queue for user %d: %v", caller.UserID, err)
		bh.send(ctx, caller.ChatID, messages.ErrorDefault(), nil)
		return
	}
	bh.dropPrompt(ctx, q)
	if running {
		// the run edits its own status message once it stops
		return
	}
	if q == nil || len(q.Items) == 0 {
		bh.send(ctx, caller.ChatID, messages.QueueEmpty(), nil)
		return
	}
	bh.send(ctx, caller.ChatID, messages.QueueCleared(), nil)
}
