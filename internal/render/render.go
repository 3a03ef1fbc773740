// Package render builds the Ukrainian HTML text the bot shows users: contact
// cards, chat transcripts and counter-offer cards.
package render

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/agromarket/agro-bot/internal/models"
)

var roleLabels = map[models.Role]string{
	models.RoleFarmer:   "👨‍🌾 Фермер",
	models.RoleBuyer:    "🧑‍💼 Покупець",
	models.RoleLogistic: "🚚 Логіст",
	models.RoleAdmin:    "🛡 Адмін",
}

var offerStatusEmoji = map[models.OfferStatus]string{
	models.OfferPending:  "⏳",
	models.OfferAccepted: "✅",
	models.OfferRejected: "❌",
}

const MediaPlaceholder = "[медіа]"

// RoleLabel returns the display label of a role, "—" for guests.
func RoleLabel(r models.Role) string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return "—"
}

// Price formats a price without trailing zeros, e.g. 8500.5.
func Price(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return html.EscapeString(s)
}

// ContactCard renders the full contact details shown after mutual consent.
func ContactCard(title string, u *models.User) string {
	username := "—"
	if u.Username != "" {
		username = "@" + html.EscapeString(u.Username)
	}

	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("👤 <b>%s</b>\n", orDash(u.FirstName)))
	sb.WriteString(fmt.Sprintf("🎭 Роль: %s\n", RoleLabel(u.Role)))
	sb.WriteString(fmt.Sprintf("📱 Username: %s\n", username))
	sb.WriteString(fmt.Sprintf("📞 Телефон: <b>%s</b>\n", orDash(u.Phone)))
	sb.WriteString(fmt.Sprintf("🏢 Компанія: %s\n", orDash(u.Company)))
	sb.WriteString(fmt.Sprintf("📍 Регіон: %s\n", orDash(u.Region)))
	sb.WriteString(fmt.Sprintf("🆔 Telegram ID: <code>%d</code>", u.ExternalID))
	return sb.String()
}

// RequestCard is the reduced card shown for pending requests: no phone.
func RequestCard(u *models.User) string {
	return fmt.Sprintf("👤 <b>Запит від користувача</b>\n🎭 %s\n🏢 %s\n🆔 <code>%d</code>",
		RoleLabel(u.Role), orDash(u.Company), u.ExternalID)
}

// SenderLabel prefixes relayed messages.
func SenderLabel(u *models.User) string {
	name := u.FirstName
	if name == "" {
		name = "Користувач"
	}
	label := fmt.Sprintf("💬 <b>%s</b>", clipEscaped(name, nameLimit))
	if u.Username != "" {
		label += fmt.Sprintf(" (@%s)", html.EscapeString(u.Username))
	}
	return label
}

// Relayed renders a relayed text under the sender label. Long bodies are cut
// to fit one message.
func Relayed(sender *models.User, body string) string {
	return relayed(sender, body, MaxTextLen)
}

// RelayedCaption is Relayed for media captions.
func RelayedCaption(sender *models.User, caption string) string {
	return relayed(sender, caption, MaxCaptionLen)
}

func relayed(sender *models.User, body string, limit int) string {
	head := SenderLabel(sender) + ":\n\n"
	return head + clipEscaped(body, limit-Len(head))
}

// Transcript renders chat history for viewerID as one or more messages, each
// within MaxTextLen. Entries are never split; overlong ones are cut. Messages
// must be in chronological order.
func Transcript(msgs []models.ChatMessage, viewerID int64, counterpart string) []string {
	if len(msgs) == 0 {
		return nil
	}
	if counterpart == "" {
		counterpart = "Співрозмовник"
	}
	theirs := "← " + clipEscaped(counterpart, nameLimit)

	var chunks []string
	cur := "📜 <b>Останні повідомлення:</b>"
	for _, m := range msgs {
		who := "→ Ви"
		if m.SenderID != viewerID {
			who = theirs
		}
		entry := fmt.Sprintf("<i>%s</i> <b>%s:</b>\n%s",
			m.CreatedAt.Format("2006-01-02 15:04"), who, clipEscaped(m.Content, transcriptEntryLimit))

		if Len(cur)+2+Len(entry) > MaxTextLen {
			chunks = append(chunks, cur)
			cur = entry
			continue
		}
		cur += "\n\n" + entry
	}
	return append(chunks, cur)
}

// SessionTitle is one line of the "my chats" list.
func SessionTitle(v models.SessionView) string {
	title := fmt.Sprintf("💬 <b>%s</b>", html.EscapeString(v.Counterpart.DisplayName()))
	if v.ListingID != nil {
		title += fmt.Sprintf(" • лот #%d", *v.ListingID)
	}
	return title
}

// AcceptedContact renders one entry of the accepted contacts list.
func AcceptedContact(u *models.User) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("👤 <b>%s</b>\n", orDash(u.FirstName)))
	sb.WriteString(fmt.Sprintf("🎭 %s\n", RoleLabel(u.Role)))
	sb.WriteString(fmt.Sprintf("🏢 %s\n", orDash(u.Company)))
	sb.WriteString(fmt.Sprintf("📍 %s\n", orDash(u.Region)))
	sb.WriteString(fmt.Sprintf("📞 <b>%s</b>", orDash(u.Phone)))
	if u.Username != "" {
		sb.WriteString(fmt.Sprintf("\n📱 @%s", html.EscapeString(u.Username)))
	}
	return sb.String()
}

// OutgoingRequests lists requests still waiting for an answer.
func OutgoingRequests(users []models.User) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⏳ <b>Очікують відповіді: %d</b>\n\n", len(users)))
	for _, u := range users {
		sb.WriteString(fmt.Sprintf("• %s (<code>%d</code>)\n", html.EscapeString(u.DisplayName()), u.ExternalID))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func comment(c string) string {
	return orDash(c)
}

// IncomingOffer is shown to the listing owner with accept/reject controls.
func IncomingOffer(v *models.OfferView) string {
	return fmt.Sprintf("📦 <b>Лот #%d</b> — %s\n💰 Ваша ціна: %s грн/т\n💵 Пропозиція: <b>%s</b> грн/т\n💬 %s\n🕒 %s",
		v.ListingID, html.EscapeString(v.Crop), Price(v.ListingPrice), Price(v.Price), comment(v.Comment),
		v.CreatedAt.Format("2006-01-02 15:04"))
}

// MyOffer is shown to the proposer with its status.
func MyOffer(v *models.OfferView) string {
	emoji, ok := offerStatusEmoji[v.Status]
	if !ok {
		emoji = "❓"
	}
	return fmt.Sprintf("📦 <b>Лот #%d</b> — %s\n💰 Ціна лоту: %s грн/т\n💵 Моя пропозиція: <b>%s</b> грн/т\n📌 Статус: %s <b>%s</b>\n💬 %s\n🕒 %s",
		v.ListingID, html.EscapeString(v.Crop), Price(v.ListingPrice), Price(v.Price), emoji, v.Status,
		comment(v.Comment), v.CreatedAt.Format("2006-01-02 15:04"))
}

// AcceptedDeal is one entry of the accepted deals list.
func AcceptedDeal(v *models.OfferView) string {
	return fmt.Sprintf("✅ <b>Угода укладена</b>\n📦 Лот #%d — %s\n💰 Ціна лоту: %s грн/т\n💵 Ціна угоди: <b>%s</b> грн/т\n💬 %s\n🕒 %s",
		v.ListingID, html.EscapeString(v.Crop), Price(v.ListingPrice), Price(v.Price), comment(v.Comment),
		v.CreatedAt.Format("2006-01-02 15:04"))
}

// OfferPrompt asks for a price on a listing.
func OfferPrompt(l *models.Listing) string {
	direction := "📥 Купівля"
	if l.Type == models.ListingSell {
		direction = "📤 Продаж"
	}
	return fmt.Sprintf("💰 <b>Пропозиція на лот #%d</b>\n\n%s — <b>%s</b>\n💰 Поточна ціна: <b>%s грн/т</b>\n\nВведіть вашу ціну (грн/т):",
		l.ID, direction, html.EscapeString(l.Crop), Price(l.Price))
}

// CommentPrompt asks for an optional comment after a valid price.
func CommentPrompt(price float64) string {
	return fmt.Sprintf("💵 Ціна: <b>%s грн/т</b>\n\n💬 Додайте коментар (або надішліть «-» щоб пропустити):", Price(price))
}

// OfferSent confirms a new offer to the proposer.
func OfferSent(l *models.Listing, o *models.CounterOffer) string {
	return fmt.Sprintf("✅ <b>Пропозицію надіслано!</b>\n\n🌾 %s\n💰 Ціна лоту: %s грн/т\n💵 Ваша пропозиція: <b>%s грн/т</b>\n💬 %s\n\nОчікуйте відповіді від власника лоту.\nПереглянути: 🔨 Торг → 📤 Мої пропозиції",
		html.EscapeString(l.Crop), Price(l.Price), Price(o.Price), comment(o.Comment))
}

// NewOfferNotice tells the listing owner about a new offer.
func NewOfferNotice(l *models.Listing, o *models.CounterOffer) string {
	return fmt.Sprintf("📨 <b>Нова пропозиція на ваш лот!</b>\n\n🌾 %s\n💰 Ваша ціна: %s грн/т\n💵 Пропозиція: <b>%s грн/т</b>\n💬 %s\n\nПереглянути: 🔨 Торг → 📥 Вхідні пропозиції",
		html.EscapeString(l.Crop), Price(l.Price), Price(o.Price), comment(o.Comment))
}

// OfferOutcome tells the proposer how the owner decided.
func OfferOutcome(v *models.OfferView) string {
	if v.Status == models.OfferAccepted {
		return fmt.Sprintf("✅ <b>Вашу пропозицію прийнято!</b>\n\n🌾 %s\n💰 Ціна лоту: %s грн/т\n💵 Ціна угоди: <b>%s</b> грн/т\n\nОчікуйте на зв'язок від продавця.",
			html.EscapeString(v.Crop), Price(v.ListingPrice), Price(v.Price))
	}
	return fmt.Sprintf("❌ <b>Вашу пропозицію відхилено</b>\n\n🌾 %s\n💵 Ціна: %s грн/т",
		html.EscapeString(v.Crop), Price(v.Price))
}

// OfferResolved replaces the owner's offer card once decided.
func OfferResolved(v *models.OfferView) string {
	if v.Status == models.OfferAccepted {
		return fmt.Sprintf("✅ <b>Пропозицію прийнято</b>\n\n🌾 %s\n💵 Ціна угоди: %s грн/т",
			html.EscapeString(v.Crop), Price(v.Price))
	}
	return "❌ <b>Пропозицію відхилено</b>"
}

// ListingCard summarizes a lot for a potential counterpart.
func ListingCard(l *models.Listing) string {
	direction := "📥 Купівля"
	if l.Type == models.ListingSell {
		direction = "📤 Продаж"
	}
	status := ""
	if l.Status != models.ListingActive {
		status = "\n🔒 Лот закрито"
	}
	return fmt.Sprintf("📦 <b>Лот #%d</b>\n%s — <b>%s</b>\n⚖️ Обсяг: %s т\n💰 Ціна: <b>%s грн/т</b>\n📍 Регіон: %s%s",
		l.ID, direction, html.EscapeString(l.Crop), Price(l.Volume), Price(l.Price), orDash(l.Region), status)
}
