package handlers

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-merger/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-merger/types"
)

const (
	callbackMerge  = "merge"
	callbackCancel = "cancel"
	modePrefix     = "mode_"
)

func modeCallback(m types.MergeMode) string {
	return fmt.Sprintf("%s%d", modePrefix, m)
}

func (bh *Handlers) HandleClickButton(ctx context.Context, update *models.Update, caller contextkeys.Caller) {
	data, _ := contextkeys.GetCallbackData(ctx)
	if data == "" && update.CallbackQuery != nil {
		data = update.CallbackQuery.Data
	}
	if update.CallbackQuery != nil {
		bh.answerCallback(ctx, update.CallbackQuery.ID)
	}

	data = strings.TrimSpace(data)
	switch {
	case data == callbackMerge:
		bh.startMerge(ctx, caller)
	case data == callbackCancel:
		bh.cancel(ctx, caller)
	case strings.HasPrefix(data, modePrefix):
		m, ok := types.ParseMergeMode(strings.TrimPrefix(data, modePrefix))
		if !ok {
			log.Printf("Invalid mode button %q from user %d", data, caller.UserID)
			return
		}
		bh.setMode(ctx, caller, m)
	default:
		log.Printf("Unknown button %q from user %d", data, caller.UserID)
	}
}

func (bh *Handlers) answerCallback(ctx context.Context, callbackID string) {
	if bh.answerer == nil || callbackID == "" {
		return
	}
	_, err := bh.answerer.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID})
	if err != nil {
		log.Printf("Error answering callback %s: %v", callbackID, err)
	}
}
