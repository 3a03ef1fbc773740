package render

import (
	"fmt"

	"github.com/agromarket/agro-bot/internal/delivery"
	"github.com/agromarket/agro-bot/internal/models"
)

// Reply-keyboard texts the router matches on.
const (
	MenuMarket   = "🌾 Маркет"
	MenuTrade    = "🔨 Торг"
	MenuChats    = "💬 Мої чати"
	MenuContacts = "📇 Мої контакти"
	MenuProfile  = "👤 Профіль"
	ExitChat     = "❌ Вийти з чату"
)

// Callback data formats. internal/bot parses the same shapes.
const (
	CallbackNoop           = "noop"
	CallbackChatExit       = "chat:exit"
	CallbackChatCard       = "chat:send_contact"
	CallbackChatClose      = "chat:close"
	CallbackOffersIn       = "offers:incoming"
	CallbackOffersMine     = "offers:my"
	CallbackOffersAccepted = "offers:accepted"
)

func ContactRequestData(toUserID int64, listingID *int64) string {
	if listingID != nil {
		return fmt.Sprintf("contact:request:%d:lot:%d", toUserID, *listingID)
	}
	return fmt.Sprintf("contact:request:%d", toUserID)
}

func ContactAcceptData(requesterID int64) string  { return fmt.Sprintf("contact:accept:%d", requesterID) }
func ContactDeclineData(requesterID int64) string { return fmt.Sprintf("contact:decline:%d", requesterID) }
func ContactChatData(contactID int64) string      { return fmt.Sprintf("contact:chat:%d", contactID) }
func ChatOpenData(sessionID int64) string         { return fmt.Sprintf("chat:open:%d", sessionID) }
func ChatFromListingData(listingID int64) string  { return fmt.Sprintf("chat:start:lot:%d", listingID) }
func OfferMakeData(listingID int64) string        { return fmt.Sprintf("offer:make:%d", listingID) }
func OfferAcceptData(offerID int64) string        { return fmt.Sprintf("offer:accept:%d", offerID) }
func OfferRejectData(offerID int64) string        { return fmt.Sprintf("offer:reject:%d", offerID) }

// ContactRequestControls lets the target accept or decline.
func ContactRequestControls(requesterID int64) delivery.Controls {
	return delivery.Column(
		delivery.Button{Text: "✅ Прийняти і відкрити чат", Data: ContactAcceptData(requesterID)},
		delivery.Button{Text: "❌ Відхилити", Data: ContactDeclineData(requesterID)},
	)
}

// IncomingRequestControls is the compact variant used in the contacts list.
func IncomingRequestControls(requesterID int64) delivery.Controls {
	return delivery.Row(
		delivery.Button{Text: "✅ Прийняти", Data: ContactAcceptData(requesterID)},
		delivery.Button{Text: "❌ Відхилити", Data: ContactDeclineData(requesterID)},
	)
}

func OpenChatControls(sessionID int64) delivery.Controls {
	return delivery.Column(delivery.Button{Text: "💬 Відкрити чат", Data: ChatOpenData(sessionID)})
}

func WriteContactControls(contactID int64) delivery.Controls {
	return delivery.Column(delivery.Button{Text: "💬 Написати", Data: ContactChatData(contactID)})
}

// InChatControls are attached to the "chat opened" message.
func InChatControls() delivery.Controls {
	return delivery.Controls{
		{
			{Text: "❌ Вийти з чату", Data: CallbackChatExit},
			{Text: "📇 Надіслати контакт", Data: CallbackChatCard},
		},
		{
			{Text: "🔒 Завершити чат", Data: CallbackChatClose},
		},
	}
}

// RequestContactControls offers a contact request before a listing chat.
func RequestContactControls(ownerID int64, listingID *int64, pending bool) delivery.Controls {
	first := delivery.Button{Text: "📇 Надіслати запит на контакт", Data: ContactRequestData(ownerID, listingID)}
	if pending {
		first = delivery.Button{Text: "⏳ Запит вже надіслано", Data: CallbackNoop}
	}
	return delivery.Column(first, delivery.Button{Text: "❌ Скасувати", Data: CallbackNoop})
}

func OfferResolveControls(offerID int64) delivery.Controls {
	return delivery.Row(
		delivery.Button{Text: "✅ Прийняти", Data: OfferAcceptData(offerID)},
		delivery.Button{Text: "❌ Відхилити", Data: OfferRejectData(offerID)},
	)
}

func TradeMenuControls() delivery.Controls {
	return delivery.Column(
		delivery.Button{Text: "📥 Вхідні пропозиції", Data: CallbackOffersIn},
		delivery.Button{Text: "📤 Мої пропозиції", Data: CallbackOffersMine},
		delivery.Button{Text: "✅ Прийняті угоди", Data: CallbackOffersAccepted},
	)
}

// ListingControls is attached to a listing card.
func ListingControls(listingID int64) delivery.Controls {
	return delivery.Column(
		delivery.Button{Text: "💬 Написати", Data: ChatFromListingData(listingID)},
		delivery.Button{Text: "💰 Запропонувати ціну", Data: OfferMakeData(listingID)},
	)
}

// ChatListControls has one button per active session.
func ChatListControls(views []models.SessionView) delivery.Controls {
	buttons := make([]delivery.Button, 0, len(views))
	for _, v := range views {
		text := "💬 " + v.Counterpart.DisplayName()
		if v.ListingID != nil {
			text += fmt.Sprintf(" • лот #%d", *v.ListingID)
		}
		buttons = append(buttons, delivery.Button{Text: text, Data: ChatOpenData(v.ID)})
	}
	return delivery.Column(buttons...)
}
