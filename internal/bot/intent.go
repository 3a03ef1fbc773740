package bot

import (
	"strconv"
	"strings"

	"github.com/agromarket/agro-bot/internal/apperr"
	"github.com/agromarket/agro-bot/internal/render"
)

type Action int

const (
	ActNoop Action = iota
	ActContactRequest
	ActContactAccept
	ActContactDecline
	ActContactChat
	ActChatOpen
	ActChatFromListing
	ActChatExit
	ActChatCard
	ActChatClose
	ActOfferMake
	ActOfferAccept
	ActOfferReject
	ActOffersIncoming
	ActOffersMine
	ActOffersAccepted
)

// Intent is a parsed inline button press. ID is the user, session, listing
// or offer the action targets.
type Intent struct {
	Action    Action
	ID        int64
	ListingID *int64
}

var errUnknownAction = apperr.New(apperr.InvalidInput, "Невідома дія")

var fixedIntents = map[string]Action{
	render.CallbackNoop:           ActNoop,
	render.CallbackChatExit:       ActChatExit,
	render.CallbackChatCard:       ActChatCard,
	render.CallbackChatClose:      ActChatClose,
	render.CallbackOffersIn:       ActOffersIncoming,
	render.CallbackOffersMine:     ActOffersMine,
	render.CallbackOffersAccepted: ActOffersAccepted,
}

var idIntents = map[string]Action{
	"contact:accept":  ActContactAccept,
	"contact:decline": ActContactDecline,
	"contact:chat":    ActContactChat,
	"chat:open":       ActChatOpen,
	"chat:start:lot":  ActChatFromListing,
	"offer:make":      ActOfferMake,
	"offer:accept":    ActOfferAccept,
	"offer:reject":    ActOfferReject,
}

// ParseCallback decodes callback data produced by the render package.
func ParseCallback(data string) (Intent, error) {
	if a, ok := fixedIntents[data]; ok {
		return Intent{Action: a}, nil
	}

	if rest, ok := strings.CutPrefix(data, "contact:request:"); ok {
		target, lot, hasLot := strings.Cut(rest, ":lot:")
		id, err := parseID(target)
		if err != nil {
			return Intent{}, errUnknownAction
		}
		in := Intent{Action: ActContactRequest, ID: id}
		if hasLot {
			lotID, err := parseID(lot)
			if err != nil {
				return Intent{}, errUnknownAction
			}
			in.ListingID = &lotID
		}
		return in, nil
	}

	i := strings.LastIndexByte(data, ':')
	if i < 0 {
		return Intent{}, errUnknownAction
	}
	a, ok := idIntents[data[:i]]
	if !ok {
		return Intent{}, errUnknownAction
	}
	id, err := parseID(data[i+1:])
	if err != nil {
		return Intent{}, errUnknownAction
	}
	return Intent{Action: a, ID: id}, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.InvalidInput, "Некоректний ID")
	}
	return id, nil
}
