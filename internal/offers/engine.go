// Package offers runs counter-offer negotiation on listings: a proposer names
// a price with an optional comment and the listing owner accepts or rejects
// it exactly once.
package offers

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/agromarket/agro-bot/internal/apperr"
	"github.com/agromarket/agro-bot/internal/convo"
	"github.com/agromarket/agro-bot/internal/delivery"
	"github.com/agromarket/agro-bot/internal/models"
	"github.com/agromarket/agro-bot/internal/render"
)

// SkipComment is what a proposer sends to leave the comment empty.
const SkipComment = "-"

var (
	ErrNoDraft   = apperr.New(apperr.Conflict, "Немає активної пропозиції. Почніть з картки лоту.")
	errOwnLot    = apperr.New(apperr.InvalidInput, "Не можна торгуватися на власний лот")
	errLotClosed = apperr.New(apperr.Conflict, "Лот закрито, пропозиції не приймаються")
	errPending   = apperr.New(apperr.Conflict, "У вас вже є активна пропозиція на цей лот")
)

// Store is the persistence the engine needs.
type Store interface {
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	HasPendingOffer(ctx context.Context, listingID, proposerID int64) (bool, error)
	CreateOffer(ctx context.Context, listingID, proposerID int64, price float64, comment string) (*models.CounterOffer, error)
	ListIncomingOffers(ctx context.Context, ownerID int64) ([]models.OfferView, error)
	ListOffersByProposer(ctx context.Context, proposerID int64) ([]models.OfferView, error)
	ListAcceptedOffers(ctx context.Context, userID int64) ([]models.OfferView, error)
	ResolveOffer(ctx context.Context, offerID, ownerID int64, status models.OfferStatus) (*models.OfferView, error)
}

type Engine struct {
	store     Store
	states    *convo.Store
	messenger delivery.Messenger
	logger    *zap.Logger
}

func NewEngine(store Store, states *convo.Store, messenger delivery.Messenger, logger *zap.Logger) *Engine {
	return &Engine{
		store:     store,
		states:    states,
		messenger: messenger,
		logger:    logger.Named("offers"),
	}
}

// offerable loads a listing and checks proposer may bid on it.
func (e *Engine) offerable(ctx context.Context, proposer *models.User, listingID int64) (*models.Listing, error) {
	listing, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID == proposer.ID {
		return nil, errOwnLot
	}
	if listing.Status != models.ListingActive {
		return nil, errLotClosed
	}
	return listing, nil
}

// Begin starts an offer draft and asks for the price.
func (e *Engine) Begin(ctx context.Context, proposer *models.User, listingID int64) (*models.Listing, error) {
	listing, err := e.offerable(ctx, proposer, listingID)
	if err != nil {
		return nil, err
	}

	pending, err := e.store.HasPendingOffer(ctx, listing.ID, proposer.ID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, errPending
	}

	e.states.Set(proposer.ID, convo.OfferPrice{ListingID: listing.ID})
	return listing, nil
}

// SubmitPrice takes the price step of a draft. An unparsable price leaves the
// draft where it was so the user can retry.
func (e *Engine) SubmitPrice(proposer *models.User, text string) (float64, error) {
	draft, ok := e.states.Get(proposer.ID).(convo.OfferPrice)
	if !ok {
		return 0, ErrNoDraft
	}

	price, err := ParsePrice(text)
	if err != nil {
		return 0, err
	}

	e.states.Set(proposer.ID, convo.OfferComment{ListingID: draft.ListingID, Price: price})
	return price, nil
}

// Made is a freshly stored offer with its listing.
type Made struct {
	Offer   *models.CounterOffer
	Listing *models.Listing
}

// SubmitComment finishes a draft. The draft is cleared whatever the outcome.
func (e *Engine) SubmitComment(ctx context.Context, proposer *models.User, text string) (*Made, error) {
	draft, ok := e.states.Get(proposer.ID).(convo.OfferComment)
	if !ok {
		return nil, ErrNoDraft
	}
	e.states.Reset(proposer.ID)

	comment := strings.TrimSpace(text)
	if comment == SkipComment {
		comment = ""
	}
	return e.MakeOffer(ctx, proposer, draft.ListingID, draft.Price, comment)
}

// Cancel drops an offer draft. It reports whether there was one.
func (e *Engine) Cancel(userID int64) bool {
	switch e.states.Get(userID).(type) {
	case convo.OfferPrice, convo.OfferComment:
		e.states.Reset(userID)
		return true
	}
	return false
}

// MakeOffer stores a pending offer and notifies the listing owner. A
// DeliveryFailure error may accompany the result.
func (e *Engine) MakeOffer(ctx context.Context, proposer *models.User, listingID int64, price float64, comment string) (*Made, error) {
	if price <= 0 {
		return nil, errPricePositive
	}

	listing, err := e.offerable(ctx, proposer, listingID)
	if err != nil {
		return nil, err
	}

	offer, err := e.store.CreateOffer(ctx, listing.ID, proposer.ID, price, comment)
	if err != nil {
		return nil, err
	}
	e.logger.Info("counter offer created",
		zap.Int64("offer_id", offer.ID),
		zap.Int64("listing_id", listing.ID),
		zap.Int64("proposer_id", proposer.ID),
		zap.Float64("price", price))

	made := &Made{Offer: offer, Listing: listing}

	owner, err := e.store.GetUserByID(ctx, listing.OwnerID)
	if err != nil {
		return made, apperr.Wrap(apperr.DeliveryFailure, "⚠️ Пропозицію збережено, але власника лоту не вдалося сповістити.", err)
	}
	if _, err := e.messenger.SendText(ctx, owner.ExternalID, render.NewOfferNotice(listing, offer), nil); err != nil {
		e.logger.Warn("failed to notify listing owner", zap.Int64("offer_id", offer.ID), zap.Error(err))
		return made, apperr.Wrap(apperr.DeliveryFailure, "⚠️ Пропозицію збережено, але власника лоту не вдалося сповістити.", err)
	}
	return made, nil
}

// ListIncoming returns pending offers on the owner's listings, newest first.
func (e *Engine) ListIncoming(ctx context.Context, owner *models.User) ([]models.OfferView, error) {
	return e.store.ListIncomingOffers(ctx, owner.ID)
}

// ListMine returns every offer the user made, newest first.
func (e *Engine) ListMine(ctx context.Context, proposer *models.User) ([]models.OfferView, error) {
	return e.store.ListOffersByProposer(ctx, proposer.ID)
}

// ListAccepted returns accepted deals on either side.
func (e *Engine) ListAccepted(ctx context.Context, user *models.User) ([]models.OfferView, error) {
	return e.store.ListAcceptedOffers(ctx, user.ID)
}

type Decision int

const (
	Accept Decision = iota
	Reject
)

func (d Decision) status() models.OfferStatus {
	if d == Accept {
		return models.OfferAccepted
	}
	return models.OfferRejected
}

// Resolve applies the owner's decision. Only the first decision on an offer
// wins; later ones get Conflict and send nothing. cardMessageID, when set, is
// the owner's offer card, which is replaced with the outcome.
func (e *Engine) Resolve(ctx context.Context, owner *models.User, offerID int64, d Decision, cardMessageID int) (*models.OfferView, error) {
	view, err := e.store.ResolveOffer(ctx, offerID, owner.ID, d.status())
	if err != nil {
		return nil, err
	}
	e.logger.Info("counter offer resolved",
		zap.Int64("offer_id", view.ID),
		zap.String("status", string(view.Status)))

	if cardMessageID > 0 {
		if err := e.messenger.EditControls(ctx, owner.ExternalID, cardMessageID, render.OfferResolved(view), nil); err != nil {
			e.logger.Debug("failed to update offer card", zap.Int64("offer_id", view.ID), zap.Error(err))
		}
	}

	if _, err := e.messenger.SendText(ctx, view.ProposerExternalID, render.OfferOutcome(view), nil); err != nil {
		e.logger.Warn("failed to notify proposer", zap.Int64("offer_id", view.ID), zap.Error(err))
		return view, apperr.Wrap(apperr.DeliveryFailure, "⚠️ Рішення збережено, але автора пропозиції не вдалося сповістити.", err)
	}
	return view, nil
}
