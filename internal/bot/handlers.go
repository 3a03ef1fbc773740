package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/agromarket/agro-bot/internal/apperr"
	"github.com/agromarket/agro-bot/internal/chat"
	"github.com/agromarket/agro-bot/internal/contacts"
	"github.com/agromarket/agro-bot/internal/convo"
	"github.com/agromarket/agro-bot/internal/delivery"
	"github.com/agromarket/agro-bot/internal/models"
	"github.com/agromarket/agro-bot/internal/offers"
	"github.com/agromarket/agro-bot/internal/render"
)

const (
	welcomeText = "🌾 <b>Вітаємо в агромаркеті!</b>\n\n" +
		"Тут фермери, покупці та логісти знаходять одне одного.\n" +
		"Оберіть розділ у меню нижче."
	helpText = "ℹ️ <b>Як це працює</b>\n\n" +
		"• Знайдіть лот у 🌾 Маркет або командою /lot &lt;номер&gt;\n" +
		"• Запропонуйте ціну кнопкою 💰 під лотом\n" +
		"• Щоб написати власнику, обміняйтеся контактами: телефон видно лише після згоди\n" +
		"• Розмови з контактами: 💬 Мої чати\n\n" +
		"/cancel скасовує поточну дію."
	bannedText   = "⛔ Ваш акаунт заблоковано."
	genericError = "⚠️ Сталася помилка. Спробуйте пізніше."
	idleHint     = "Оберіть дію в меню 👇"
	marketLimit  = 10
)

func mainKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(render.MenuMarket), tgbotapi.NewKeyboardButton(render.MenuTrade)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(render.MenuChats), tgbotapi.NewKeyboardButton(render.MenuContacts)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(render.MenuProfile)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func chatKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(render.ExitChat)),
	)
	kb.ResizeKeyboard = true
	return kb
}

// sendKeyboard sends text with a reply keyboard.
func (b *Bot) sendKeyboard(chatID int64, text string, kb tgbotapi.ReplyKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = kb
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, controls delivery.Controls) {
	if _, err := b.messenger.SendText(ctx, chatID, text, controls); err != nil {
		b.logger.Warn("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) answer(callbackID, text string, alert bool) {
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert
	if _, err := b.api.Request(cb); err != nil {
		b.logger.Debug("failed to answer callback", zap.Error(err))
	}
}

// handleUpdate runs one update under the sender's throttle lock.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	var from *tgbotapi.User
	var key string
	switch {
	case update.Message != nil && update.Message.From != nil:
		from = update.Message.From
		key = messageKey(update.Message)
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		from = update.CallbackQuery.From
		key = "cb:" + update.CallbackQuery.Data
	default:
		return
	}

	release, ok := b.limiter.Acquire(from.ID, key)
	if !ok {
		if update.CallbackQuery != nil {
			b.answer(update.CallbackQuery.ID, "", false)
		}
		return
	}
	defer release()

	user, err := b.store.EnsureUser(ctx, from.ID, from.FirstName, from.UserName, b.cfg.isAdmin(from.ID))
	if err != nil {
		b.logger.Error("failed to load user", zap.Int64("telegram_id", from.ID), zap.Error(err))
		return
	}

	if user.IsBanned {
		if cq := update.CallbackQuery; cq != nil {
			b.answer(cq.ID, bannedText, true)
			return
		}
		b.send(ctx, update.Message.Chat.ID, bannedText, nil)
		return
	}

	if update.CallbackQuery != nil {
		b.handleCallback(ctx, user, update.CallbackQuery)
		return
	}
	b.handleMessage(ctx, user, update.Message)
}

func messageKey(msg *tgbotapi.Message) string {
	p := payloadOf(msg)
	if p.Kind == delivery.MediaText {
		return "text:" + p.Text
	}
	return fmt.Sprintf("%s:%s:%d", p.Kind, p.FileID, msg.MessageID)
}

// payloadOf extracts the relayable content of a message.
func payloadOf(msg *tgbotapi.Message) delivery.Payload {
	p := delivery.Payload{
		Caption:         msg.Caption,
		SourceChatID:    msg.Chat.ID,
		SourceMessageID: msg.MessageID,
	}
	switch {
	case msg.Text != "":
		p.Kind, p.Text = delivery.MediaText, msg.Text
	case len(msg.Photo) > 0:
		p.Kind, p.FileID = delivery.MediaPhoto, msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		p.Kind, p.FileID = delivery.MediaDocument, msg.Document.FileID
	case msg.Voice != nil:
		p.Kind, p.FileID = delivery.MediaVoice, msg.Voice.FileID
	case msg.Video != nil:
		p.Kind, p.FileID = delivery.MediaVideo, msg.Video.FileID
	case msg.Sticker != nil:
		p.Kind, p.FileID = delivery.MediaSticker, msg.Sticker.FileID
	default:
		p.Kind = delivery.MediaOther
	}
	return p
}

// resetState leaves any chat or offer draft.
func (b *Bot) resetState(user *models.User) {
	b.offers.Cancel(user.ID)
	b.chats.Exit(user.ID)
}

func (b *Bot) handleMessage(ctx context.Context, user *models.User, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		b.handleCommand(ctx, user, msg)
		return
	}

	switch msg.Text {
	case render.ExitChat:
		b.chats.Exit(user.ID)
		b.sendKeyboard(chatID, "👋 Ви вийшли з чату.", mainKeyboard())
		return
	case render.MenuMarket:
		b.resetState(user)
		b.showMarket(ctx, user, chatID)
		return
	case render.MenuTrade:
		b.resetState(user)
		b.send(ctx, chatID, "🔨 <b>Торг</b>\n\nОберіть розділ:", render.TradeMenuControls())
		return
	case render.MenuChats:
		b.resetState(user)
		b.showChats(ctx, user, chatID)
		return
	case render.MenuContacts:
		b.resetState(user)
		b.showContacts(ctx, user, chatID)
		return
	case render.MenuProfile:
		b.resetState(user)
		b.send(ctx, chatID, render.ContactCard("👤 <b>Ваш профіль</b>", user), nil)
		return
	}

	switch st := b.states.Get(user.ID).(type) {
	case convo.Chatting:
		b.relay(ctx, user, chatID, payloadOf(msg))
	case convo.OfferPrice:
		b.submitPrice(ctx, user, chatID, msg.Text)
	case convo.OfferComment:
		b.submitComment(ctx, user, chatID, msg.Text, st)
	case convo.Idle:
		b.sendKeyboard(chatID, idleHint, mainKeyboard())
	}
}

func (b *Bot) handleCommand(ctx context.Context, user *models.User, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		b.resetState(user)
		b.sendKeyboard(chatID, welcomeText, mainKeyboard())
	case "help":
		b.send(ctx, chatID, helpText, nil)
	case "cancel":
		b.resetState(user)
		b.sendKeyboard(chatID, "❌ Скасовано.", mainKeyboard())
	case "lot":
		id, err := parseID(msg.CommandArguments())
		if err != nil {
			b.send(ctx, chatID, "Використання: /lot &lt;номер лоту&gt;", nil)
			return
		}
		b.showListing(ctx, chatID, id)
	case "chats":
		b.showChats(ctx, user, chatID)
	case "contacts":
		b.showContacts(ctx, user, chatID)
	default:
		b.send(ctx, chatID, "Невідома команда. /help", nil)
	}
}

func (b *Bot) relay(ctx context.Context, user *models.User, chatID int64, p delivery.Payload) {
	_, err := b.chats.Relay(ctx, user, p)
	if errors.Is(err, chat.ErrConversationEnded) || errors.Is(err, chat.ErrNotChatting) {
		b.sendKeyboard(chatID, "🔒 "+apperr.Message(err), mainKeyboard())
		return
	}
	b.reportError(ctx, user, chatID, err)
}

func (b *Bot) submitPrice(ctx context.Context, user *models.User, chatID int64, text string) {
	price, err := b.offers.SubmitPrice(user, text)
	if err != nil {
		b.reportError(ctx, user, chatID, err)
		return
	}
	b.send(ctx, chatID, render.CommentPrompt(price), nil)
}

func (b *Bot) submitComment(ctx context.Context, user *models.User, chatID int64, text string, draft convo.OfferComment) {
	made, err := b.offers.SubmitComment(ctx, user, text)
	if made != nil {
		b.sendKeyboard(chatID, render.OfferSent(made.Listing, made.Offer), mainKeyboard())
	}
	if err != nil {
		b.logger.Debug("offer not made", zap.Int64("listing_id", draft.ListingID), zap.Error(err))
	}
	b.reportError(ctx, user, chatID, err)
}

// reportError tells the user what went wrong. Unknown errors are logged and
// answered with a generic message.
func (b *Bot) reportError(ctx context.Context, user *models.User, chatID int64, err error) {
	if err == nil {
		return
	}
	msg := apperr.Message(err)
	switch apperr.KindOf(err) {
	case apperr.InvalidInput:
		b.send(ctx, chatID, msg, nil)
		b.reprompt(ctx, user, chatID)
	case apperr.NotFound, apperr.PermissionDenied, apperr.Conflict, apperr.DeliveryFailure:
		b.send(ctx, chatID, msg, nil)
	default:
		b.logger.Error("request failed", zap.Int64("user_id", user.ID), zap.Error(err))
		b.send(ctx, chatID, genericError, nil)
	}
}

// reprompt repeats the question of the current offer step.
func (b *Bot) reprompt(ctx context.Context, user *models.User, chatID int64) {
	switch st := b.states.Get(user.ID).(type) {
	case convo.OfferPrice:
		b.send(ctx, chatID, "Введіть вашу ціну (грн/т), наприклад: 8500", nil)
	case convo.OfferComment:
		b.send(ctx, chatID, render.CommentPrompt(st.Price), nil)
	case convo.Idle, convo.Chatting:
	}
}

func (b *Bot) handleCallback(ctx context.Context, user *models.User, cq *tgbotapi.CallbackQuery) {
	intent, err := ParseCallback(cq.Data)
	if err != nil {
		b.answer(cq.ID, apperr.Message(err), true)
		return
	}

	var chatID int64
	var messageID int
	if cq.Message != nil {
		chatID, messageID = cq.Message.Chat.ID, cq.Message.MessageID
	} else {
		chatID = user.ExternalID
	}

	text, err := b.dispatch(ctx, user, chatID, messageID, intent)
	switch {
	case err == nil:
		b.answer(cq.ID, text, false)
	case apperr.KindOf(err) != nil:
		b.answer(cq.ID, apperr.Message(err), true)
	default:
		b.logger.Error("callback failed",
			zap.Int64("user_id", user.ID), zap.String("data", cq.Data), zap.Error(err))
		b.answer(cq.ID, genericError, true)
	}
}

// dispatch runs one callback intent and returns the short answer text.
func (b *Bot) dispatch(ctx context.Context, user *models.User, chatID int64, messageID int, in Intent) (string, error) {
	switch in.Action {
	case ActNoop:
		return "", nil

	case ActContactRequest:
		outcome, err := b.contacts.Request(ctx, user, in.ID, in.ListingID)
		if err != nil && apperr.KindOf(err) != apperr.DeliveryFailure {
			return "", err
		}
		switch outcome {
		case contacts.AlreadyConnected:
			b.send(ctx, chatID, "🤝 Ви вже в контактах.", render.WriteContactControls(in.ID))
			return "Ви вже в контактах", nil
		case contacts.AlreadyPending:
			return "⏳ Запит вже надіслано", nil
		}
		b.send(ctx, chatID, "✅ Запит на контакт надіслано. Очікуйте підтвердження.", nil)
		return "✅ Запит надіслано", err

	case ActContactAccept:
		out, err := b.contacts.Accept(ctx, user, in.ID, messageID)
		if err != nil && apperr.KindOf(err) != apperr.DeliveryFailure {
			return "", err
		}
		if !out.Changed {
			return "Контакт вже додано", nil
		}
		if oerr := b.openChat(ctx, user, chatID, out.Session.ID); oerr != nil {
			return "", oerr
		}
		return "✅ Контакт додано", err

	case ActContactDecline:
		declined, err := b.contacts.Decline(ctx, user, in.ID)
		if err != nil {
			return "", err
		}
		if !declined {
			return "Запит вже оброблено", nil
		}
		if messageID > 0 {
			if err := b.messenger.EditControls(ctx, chatID, messageID, "❌ Запит відхилено.", nil); err != nil {
				b.logger.Debug("failed to update request message", zap.Error(err))
			}
		}
		return "❌ Запит відхилено", nil

	case ActContactChat:
		session, err := b.chats.StartWithContact(ctx, user, in.ID)
		if err != nil {
			return "", err
		}
		return "", b.openChat(ctx, user, chatID, session.ID)

	case ActChatOpen:
		return "", b.openChat(ctx, user, chatID, in.ID)

	case ActChatFromListing:
		res, err := b.chats.StartFromListing(ctx, user, in.ID)
		if err != nil {
			return "", err
		}
		if res.Session != nil {
			return "", b.openChat(ctx, user, chatID, res.Session.ID)
		}
		b.send(ctx, chatID,
			"📇 Щоб написати власнику лоту, спочатку обміняйтеся контактами.",
			render.RequestContactControls(res.Owner.ID, &res.Listing.ID, res.Status == models.ContactPending))
		return "", nil

	case ActChatExit:
		b.chats.Exit(user.ID)
		b.sendKeyboard(chatID, "👋 Ви вийшли з чату.", mainKeyboard())
		return "", nil

	case ActChatCard:
		sessionID, ok := b.states.ActiveSession(user.ID)
		if !ok {
			return "", chat.ErrNotChatting
		}
		if err := b.contacts.ShareCard(ctx, user, sessionID); err != nil {
			return "", err
		}
		return "📇 Контакт надіслано", nil

	case ActChatClose:
		sessionID, ok := b.states.ActiveSession(user.ID)
		if !ok {
			return "", chat.ErrNotChatting
		}
		if err := b.chats.Close(ctx, user, sessionID); err != nil {
			return "", err
		}
		b.sendKeyboard(chatID, "🔒 Чат завершено.", mainKeyboard())
		return "", nil

	case ActOfferMake:
		listing, err := b.offers.Begin(ctx, user, in.ID)
		if err != nil {
			return "", err
		}
		b.send(ctx, chatID, render.OfferPrompt(listing), nil)
		return "", nil

	case ActOfferAccept, ActOfferReject:
		decision := offers.Accept
		if in.Action == ActOfferReject {
			decision = offers.Reject
		}
		view, err := b.offers.Resolve(ctx, user, in.ID, decision, messageID)
		if err != nil && apperr.KindOf(err) != apperr.DeliveryFailure {
			return "", err
		}
		if view.Status == models.OfferAccepted {
			return "✅ Прийнято", err
		}
		return "❌ Відхилено", err

	case ActOffersIncoming:
		return "", b.showIncomingOffers(ctx, user, chatID)
	case ActOffersMine:
		return "", b.showMyOffers(ctx, user, chatID)
	case ActOffersAccepted:
		return "", b.showAcceptedDeals(ctx, user, chatID)
	}
	return "", errUnknownAction
}

// openChat enters a session and shows its recent history.
func (b *Bot) openChat(ctx context.Context, user *models.User, chatID, sessionID int64) error {
	opened, err := b.chats.Open(ctx, user, sessionID)
	if err != nil {
		return err
	}

	for _, part := range opened.Transcript {
		b.send(ctx, chatID, part, nil)
	}
	title := fmt.Sprintf("💬 <b>Чат з %s</b>", html.EscapeString(opened.Counterpart.DisplayName()))
	if opened.Session.ListingID != nil {
		title += fmt.Sprintf(" • лот #%d", *opened.Session.ListingID)
	}
	b.sendKeyboard(chatID, title+"\n\nВаші повідомлення будуть переслані співрозмовнику.", chatKeyboard())
	b.send(ctx, chatID, "⚙️ Дії в чаті:", render.InChatControls())
	return nil
}

func (b *Bot) showListing(ctx context.Context, chatID, listingID int64) {
	listing, err := b.store.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, apperr.NotFound) {
			b.send(ctx, chatID, apperr.Message(err), nil)
			return
		}
		b.logger.Error("failed to load listing", zap.Int64("listing_id", listingID), zap.Error(err))
		b.send(ctx, chatID, genericError, nil)
		return
	}
	var controls delivery.Controls
	if listing.Status == models.ListingActive {
		controls = render.ListingControls(listing.ID)
	}
	b.send(ctx, chatID, render.ListingCard(listing), controls)
}

func (b *Bot) showMarket(ctx context.Context, user *models.User, chatID int64) {
	listings, err := b.store.ListActiveListings(ctx, user.ID, marketLimit)
	if err != nil {
		b.reportError(ctx, user, chatID, err)
		return
	}
	if len(listings) == 0 {
		b.send(ctx, chatID, "🌾 Активних лотів поки немає.", nil)
		return
	}
	for i := range listings {
		b.send(ctx, chatID, render.ListingCard(&listings[i]), render.ListingControls(listings[i].ID))
	}
}

func (b *Bot) showChats(ctx context.Context, user *models.User, chatID int64) {
	sessions, err := b.chats.List(ctx, user)
	if err != nil {
		b.reportError(ctx, user, chatID, err)
		return
	}
	if len(sessions) == 0 {
		b.send(ctx, chatID, "💬 Активних чатів немає.", nil)
		return
	}

	lines := make([]string, 0, len(sessions)+1)
	lines = append(lines, "💬 <b>Ваші чати:</b>\n")
	for _, s := range sessions {
		lines = append(lines, render.SessionTitle(s))
	}
	b.send(ctx, chatID, strings.Join(lines, "\n"), render.ChatListControls(sessions))
}

func (b *Bot) showContacts(ctx context.Context, user *models.User, chatID int64) {
	o, err := b.contacts.Overview(ctx, user)
	if err != nil {
		b.reportError(ctx, user, chatID, err)
		return
	}
	if o.Empty() {
		b.send(ctx, chatID, "📇 У вас поки немає контактів.", nil)
		return
	}

	if len(o.Accepted) > 0 {
		b.send(ctx, chatID, fmt.Sprintf("📇 <b>Мої контакти: %d</b>", len(o.Accepted)), nil)
		for i := range o.Accepted {
			b.send(ctx, chatID, render.AcceptedContact(&o.Accepted[i]), render.WriteContactControls(o.Accepted[i].ID))
		}
	}
	if len(o.Incoming) > 0 {
		b.send(ctx, chatID, fmt.Sprintf("📬 <b>Вхідні запити: %d</b>", len(o.Incoming)), nil)
		for i := range o.Incoming {
			b.send(ctx, chatID, render.RequestCard(&o.Incoming[i]), render.IncomingRequestControls(o.Incoming[i].ID))
		}
	}
	if len(o.Outgoing) > 0 {
		b.send(ctx, chatID, render.OutgoingRequests(o.Outgoing), nil)
	}
}

func (b *Bot) showIncomingOffers(ctx context.Context, user *models.User, chatID int64) error {
	views, err := b.offers.ListIncoming(ctx, user)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		b.send(ctx, chatID, "📥 Вхідних пропозицій немає.", nil)
		return nil
	}
	for i := range views {
		b.send(ctx, chatID, render.IncomingOffer(&views[i]), render.OfferResolveControls(views[i].ID))
	}
	return nil
}

func (b *Bot) showMyOffers(ctx context.Context, user *models.User, chatID int64) error {
	views, err := b.offers.ListMine(ctx, user)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		b.send(ctx, chatID, "📤 Ви ще не надсилали пропозицій.", nil)
		return nil
	}
	for i := range views {
		b.send(ctx, chatID, render.MyOffer(&views[i]), nil)
	}
	return nil
}

func (b *Bot) showAcceptedDeals(ctx context.Context, user *models.User, chatID int64) error {
	views, err := b.offers.ListAccepted(ctx, user)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		b.send(ctx, chatID, "✅ Прийнятих угод поки немає.", nil)
		return nil
	}
	for i := range views {
		b.send(ctx, chatID, render.AcceptedDeal(&views[i]), nil)
	}
	return nil
}
