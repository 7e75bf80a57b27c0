package tg

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pvzzle/censorwatch/internal/bus"
	"github.com/pvzzle/censorwatch/internal/mempool"
	"github.com/pvzzle/censorwatch/internal/storage"
	"github.com/pvzzle/censorwatch/internal/subs"

	"github.com/ethereum/go-ethereum/common"
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	cbSearch    = "search"
	cbMempool   = "mempool"
	cbSubscribe = "subscribe"

	cbSubConfidence = "sub_confidence"
	cbSubWallet     = "sub_wallet"

	cbMySubs          = "my_subs"
	cbUnsubConfidence = "unsub_confidence"
	cbUnsubWallet     = "unsub_wallet"
	cbUnsubAll        = "unsub_all"
	cbBackToMain      = "back_main"

	cbHistory = "history"

	historyLimit = 10
)

// MempoolView is the read side of the tracker the bot shows to users.
type MempoolView interface {
	Snapshot() mempool.MempoolSnapshot
	Get(hash string) (mempool.TrackedTx, bool)
}

// FirstSeenLookup reports the block a pending tx was first scanned at.
type FirstSeenLookup interface {
	FirstSeenBlock(hash string) (uint64, bool)
}

type Service struct {
	bot *tgbot.Bot

	view      MempoolView
	firstSeen FirstSeenLookup

	subStore *subs.Store
	notifyCh <-chan bus.Notification

	state *StateStore

	repo storage.Repository
}

func NewService(
	b *tgbot.Bot,
	view MempoolView,
	firstSeen FirstSeenLookup,
	subStore *subs.Store,
	notifyCh <-chan bus.Notification,
	repo storage.Repository,
) *Service {
	s := &Service{
		bot:       b,
		view:      view,
		firstSeen: firstSeen,
		subStore:  subStore,
		notifyCh:  notifyCh,
		state:     NewStateStore(),
		repo:      repo,
	}
	s.registerHandlers()
	return s
}

func (s *Service) registerHandlers() {
	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, s.onStart)

	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbSearch, tgbot.MatchTypeExact, s.onCbSearch)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbMempool, tgbot.MatchTypeExact, s.onCbMempool)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbSubscribe, tgbot.MatchTypeExact, s.onCbSubscribe)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbSubConfidence, tgbot.MatchTypeExact, s.onCbSubConfidence)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbSubWallet, tgbot.MatchTypeExact, s.onCbSubWallet)

	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbMySubs, tgbot.MatchTypeExact, s.onCbMySubs)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbUnsubConfidence, tgbot.MatchTypeExact, s.onCbUnsubConfidence)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbUnsubWallet, tgbot.MatchTypeExact, s.onCbUnsubWallet)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbUnsubAll, tgbot.MatchTypeExact, s.onCbUnsubAll)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbBackToMain, tgbot.MatchTypeExact, s.onCbBackToMain)

	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypePrefix, s.onAnyText)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbHistory, tgbot.MatchTypeExact, s.onCbHistory)
}

func (s *Service) StartNotifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.notifyCh:
			_, err := s.bot.SendMessage(ctx, &tgbot.SendMessageParams{
				ChatID: n.ChatID,
				Text:   n.Text,
			})
			if err != nil {
				log.Printf("[tg] send notify error: %v", err)
			}
		}
	}
}

func mainMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Tx status", CallbackData: cbSearch},
				{Text: "Mempool", CallbackData: cbMempool},
			},
			{
				{Text: "Subscribe", CallbackData: cbSubscribe},
				{Text: "My subscriptions", CallbackData: cbMySubs},
			},
			{
				{Text: "History", CallbackData: cbHistory},
			},
		},
	}
}

func backMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Назад", CallbackData: cbBackToMain}},
		},
	}
}

func (s *Service) onStart(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	s.state.Set(chatID, StateIdle)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        "Привет! Я слежу за мемпулом и сообщаю о транзакциях, которые подозрительно долго не попадают в блоки.\n\nВыбери действие:",
		ReplyMarkup: mainMenu(),
	})
}

// callbackChat отвечает на callback и возвращает chat id; false, если сообщение недоступно.
func (s *Service) callbackChat(ctx context.Context, b *tgbot.Bot, upd *models.Update) (int64, bool) {
	cb := upd.CallbackQuery
	if cb == nil || cb.Message.Type == models.MaybeInaccessibleMessageTypeInaccessibleMessage {
		return 0, false
	}
	_ = s.answerCallback(ctx, b, cb.ID)
	return cb.Message.Message.Chat.ID, true
}

func (s *Service) onCbSearch(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitTxHash)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   "Введи хэш транзакции (0x...):",
	})
}

func (s *Service) onCbMempool(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        FormatSnapshot(s.view.Snapshot()),
		ReplyMarkup: backMenu(),
	})
}

func (s *Service) onCbSubscribe(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   "Что отслеживать?",
		ReplyMarkup: &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{
				{{Text: "Все подозрения от уверенности", CallbackData: cbSubConfidence}},
				{{Text: "Кошелёк (sender/receiver)", CallbackData: cbSubWallet}},
			},
		},
	})
}

func (s *Service) onCbSubConfidence(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitConfidence)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   "Введи минимальную уверенность от 0 до 1 (например 0.8 или 80%):",
	})
}

func (s *Service) onCbSubWallet(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitWalletAddress)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   "Введи адрес кошелька (0x...):",
	})
}

func (s *Service) onAnyText(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	text := strings.TrimSpace(upd.Message.Text)

	// команды не обрабатываем тут
	if strings.HasPrefix(text, "/") {
		return
	}

	switch s.state.Get(chatID) {
	case StateAwaitTxHash:
		s.state.Set(chatID, StateIdle)
		s.handleTxStatus(ctx, b, chatID, text)

	case StateAwaitConfidence:
		s.handleSetConfidence(ctx, b, chatID, text)

	case StateAwaitWalletAddress:
		s.handleSetWallet(ctx, b, chatID, text)

	default:
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   "Используй /start, чтобы открыть меню.",
		})
	}
}

func (s *Service) handleTxStatus(ctx context.Context, b *tgbot.Bot, chatID int64, hashStr string) {
	if !IsTxHash(hashStr) {
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   "Похоже, это не хэш транзакции. Ожидаю 0x + 64 hex символа.",
		})
		return
	}

	hash := NormalizeTxHash(hashStr)

	tt, ok := s.view.Get(hash)
	if !ok {
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID:      chatID,
			Text:        "Эта транзакция не отслеживается (не видели в мемпуле или уже вычищена).",
			ReplyMarkup: backMenu(),
		})
		return
	}

	var firstSeenBlock uint64
	if s.firstSeen != nil {
		firstSeenBlock, _ = s.firstSeen.FirstSeenBlock(hash)
	}

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        FormatTxStatus(tt, firstSeenBlock, time.Now()),
		ReplyMarkup: backMenu(),
	})
}

func (s *Service) handleSetConfidence(ctx context.Context, b *tgbot.Bot, chatID int64, raw string) {
	minConf, err := ParseConfidence(raw)
	if err != nil {
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   "Нужно число в (0, 1], например 0.5 или 90%. Попробуй ещё раз.",
		})
		return
	}

	s.subStore.SetMinConfidence(chatID, minConf)
	s.state.Set(chatID, StateIdle)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   fmt.Sprintf("✅ Ок! Буду уведомлять о подозрениях с уверенностью >= %.2f.", minConf),
	})
}

func (s *Service) handleSetWallet(ctx context.Context, b *tgbot.Bot, chatID int64, addrStr string) {
	if !IsEthAddress(addrStr) {
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   "Похоже, это не адрес. Ожидаю 0x + 40 hex символов.",
		})
		return
	}
	addr := common.HexToAddress(strings.TrimSpace(addrStr))

	s.subStore.SetWallet(chatID, addr)
	s.state.Set(chatID, StateIdle)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   fmt.Sprintf("✅ Ок! Сообщу, если застрянет транзакция, где участвует %s.", addr.Hex()),
	})
}

func (s *Service) answerCallback(ctx context.Context, b *tgbot.Bot, callbackID string) error {
	_, err := b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
	})
	return err
}

func (s *Service) onCbMySubs(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)

	s.sendMySubs(ctx, b, chatID)
}

func (s *Service) onCbUnsubConfidence(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.subStore.ClearConfidence(chatID)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   "✅ Подписка по уверенности удалена.",
	})
	s.sendMySubs(ctx, b, chatID)
}

func (s *Service) onCbUnsubWallet(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.subStore.ClearWallet(chatID)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   "✅ Подписка на кошелёк удалена.",
	})
	s.sendMySubs(ctx, b, chatID)
}

func (s *Service) onCbUnsubAll(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.subStore.ClearAll(chatID)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   "✅ Все подписки удалены.",
	})
	s.sendMySubs(ctx, b, chatID)
}

func (s *Service) onCbBackToMain(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        "Главное меню:",
		ReplyMarkup: mainMenu(),
	})
}

func (s *Service) sendMySubs(ctx context.Context, b *tgbot.Bot, chatID int64) {
	u, ok := s.subStore.GetCopy(chatID)

	// кнопки удаления показываем всегда (удобнее)
	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   FormatSubs(u, ok),
		ReplyMarkup: &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{
				{{Text: "Удалить: уверенность", CallbackData: cbUnsubConfidence}},
				{{Text: "Удалить: кошелёк", CallbackData: cbUnsubWallet}},
				{{Text: "Удалить всё", CallbackData: cbUnsubAll}},
				{{Text: "Назад", CallbackData: cbBackToMain}},
			},
		},
	})
}

func (s *Service) onCbHistory(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}

	items, err := s.repo.ListRecentEvents(ctx, historyLimit)
	if err != nil {
		log.Printf("[tg] db list events error: %v", err)
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   fmt.Sprintf("Ошибка чтения истории: %v", err),
		})
		return
	}

	text := "Подозрений пока не было."
	if len(items) > 0 {
		text = FormatEvents(items)
	}
	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: backMenu(),
	})
}
