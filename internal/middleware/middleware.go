package middleware

import (
	"context"
	"log"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-merger/internal/contextkeys"
	"github.com/BatmanBruc/bat-bot-merger/internal/gateway"
	"github.com/BatmanBruc/bat-bot-merger/internal/messages"
	"github.com/BatmanBruc/bat-bot-merger/types"
)

type Middlewares struct {
	users         types.UserStore
	gateway       types.Gateway
	ownerID       int64
	loginPassword string
}

func NewMiddlewares(users types.UserStore, gw types.Gateway, ownerID int64, loginPassword string) *Middlewares {
	return &Middlewares{
		users:         users,
		gateway:       gw,
		ownerID:       ownerID,
		loginPassword: loginPassword,
	}
}

// Commands that work before /login.
var openCommands = map[string]bool{
	"/start": true,
	"/help":  true,
	"/login": true,
}

// AuthMiddleware records the caller and rejects banned or unauthorized users.
func (m *Middlewares) AuthMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		caller, ok := callerFromUpdate(update)
		if !ok {
			return
		}
		caller.IsOwner = m.ownerID != 0 && caller.UserID == m.ownerID

		var username string
		if update.Message != nil && update.Message.From != nil {
			username = update.Message.From.Username
		} else if update.CallbackQuery != nil {
			username = update.CallbackQuery.From.Username
		}
		err := m.users.UpsertUser(types.User{
			UserID:    caller.UserID,
			ChatID:    caller.ChatID,
			Username:  username,
			FirstName: caller.FirstName,
		})
		if err != nil {
			log.Printf("Error saving user %d: %v", caller.UserID, err)
			m.reply(ctx, caller.ChatID, messages.ErrorDefault())
			return
		}

		ctx = contextkeys.WithCaller(ctx, caller)

		if caller.IsOwner {
			next(ctx, b, update)
			return
		}

		banned, err := m.users.IsBanned(caller.UserID)
		if err != nil {
			log.Printf("Error checking ban for user %d: %v", caller.UserID, err)
			m.reply(ctx, caller.ChatID, messages.ErrorDefault())
			return
		}
		if banned {
			m.reply(ctx, caller.ChatID, messages.Banned())
			return
		}

		if m.loginPassword == "" || isOpenCommand(update) {
			next(ctx, b, update)
			return
		}

		allowed, err := m.users.IsAllowed(caller.UserID)
		if err != nil {
			log.Printf("Error checking access for user %d: %v", caller.UserID, err)
			m.reply(ctx, caller.ChatID, messages.ErrorDefault())
			return
		}
		if !allowed {
			m.reply(ctx, caller.ChatID, messages.NotAllowed())
			return
		}

		next(ctx, b, update)
	}
}

func (m *Middlewares) reply(ctx context.Context, chatID int64, text string) {
	if _, err := m.gateway.SendText(ctx, chatID, text, nil); err != nil {
		log.Printf("Error replying to chat %d: %v", chatID, err)
	}
}

func callerFromUpdate(update *models.Update) (contextkeys.Caller, bool) {
	var c contextkeys.Caller
	switch {
	case update.Message != nil && update.Message.From != nil:
		c.UserID = update.Message.From.ID
		c.FirstName = update.Message.From.FirstName
		c.ChatID = update.Message.Chat.ID
	case update.CallbackQuery != nil:
		c.UserID = update.CallbackQuery.From.ID
		c.FirstName = update.CallbackQuery.From.FirstName
		c.ChatID = getChatIDFromMaybeInaccessibleMessage(update.CallbackQuery.Message)
	default:
		return c, false
	}
	if c.UserID == 0 || c.ChatID == 0 {
		return c, false
	}
	return c, true
}

func getChatIDFromMaybeInaccessibleMessage(m models.MaybeInaccessibleMessage) int64 {
	if m.Message != nil {
		return m.Message.Chat.ID
	}
	if m.InaccessibleMessage != nil {
		return m.InaccessibleMessage.Chat.ID
	}
	return 0
}

func isOpenCommand(update *models.Update) bool {
	if update.Message == nil {
		return false
	}
	return openCommands[CommandName(update.Message.Text)]
}

// CommandName returns the lower-cased command without its @botname suffix,
// or "" when text is not a command.
func CommandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd := fields[0]
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}

func (m *Middlewares) AnalyzeMessageMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update.CallbackQuery != nil && update.CallbackQuery.Data != "" {
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeClickButton)
			ctx = contextkeys.WithCallbackData(ctx, update.CallbackQuery.Data)
			next(ctx, b, update)
			return
		}

		next(analyzeMessage(ctx, update.Message), b, update)
	}
}

func analyzeMessage(ctx context.Context, msg *models.Message) context.Context {
	if msg == nil {
		return contextkeys.WithMessageType(ctx, contextkeys.MessageTypeUnknown)
	}

	if CommandName(msg.Text) != "" {
		return contextkeys.WithMessageType(ctx, contextkeys.MessageTypeCommand)
	}

	if entry, ok := gateway.ResolveIncomingFile(msg); ok {
		ctx = contextkeys.WithJobEntry(ctx, entry)
		return contextkeys.WithMessageType(ctx, contextkeys.MessageTypeFile)
	}

	if msg.Text != "" || msg.Caption != "" {
		return contextkeys.WithMessageType(ctx, contextkeys.MessageTypeText)
	}

	return contextkeys.WithMessageType(ctx, contextkeys.MessageTypeUnknown)
}
