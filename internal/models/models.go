package models

import "time"

type Role string

const (
	RoleFarmer   Role = "farmer"
	RoleBuyer    Role = "buyer"
	RoleLogistic Role = "logistic"
	RoleAdmin    Role = "admin"
	RoleGuest    Role = "guest"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleBuyer, RoleLogistic, RoleAdmin, RoleGuest:
		return true
	}
	return false
}

type ListingType string

const (
	ListingSell ListingType = "sell"
	ListingBuy  ListingType = "buy"
)

type ListingStatus string

const (
	ListingActive ListingStatus = "active"
	ListingClosed ListingStatus = "closed"
)

type ContactStatus string

const (
	ContactNone     ContactStatus = "none"
	ContactPending  ContactStatus = "pending"
	ContactAccepted ContactStatus = "accepted"
)

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// User is a marketplace participant. ExternalID is the Telegram user ID.
type User struct {
	ID         int64
	ExternalID int64
	Role       Role
	Region     string
	Phone      string
	Company    string
	FirstName  string
	Username   string
	IsBanned   bool
	CreatedAt  time.Time
}

// DisplayName returns the company when known, then the first name.
func (u *User) DisplayName() string {
	if u.Company != "" {
		return u.Company
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return "Користувач"
}

// Listing is a sell/buy lot. Owned by the market screens; the core only reads it.
type Listing struct {
	ID        int64
	OwnerID   int64
	Type      ListingType
	Crop      string
	Volume    float64
	Price     float64
	Region    string
	Status    ListingStatus
	CreatedAt time.Time
}

// Contact is one directed row of the contacts table.
type Contact struct {
	UserID        int64
	ContactUserID int64
	Status        ContactStatus
	CreatedAt     time.Time
}

// ChatSession is a two-party conversation. User1ID is always the lower ID.
type ChatSession struct {
	ID        int64
	User1ID   int64
	User2ID   int64
	ListingID *int64
	Status    SessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Other returns the participant that is not userID.
func (s *ChatSession) Other(userID int64) int64 {
	if s.User1ID == userID {
		return s.User2ID
	}
	return s.User1ID
}

// Has reports whether userID participates in the session.
func (s *ChatSession) Has(userID int64) bool {
	return s.User1ID == userID || s.User2ID == userID
}

type ChatMessage struct {
	ID        int64
	SessionID int64
	SenderID  int64
	Content   string
	CreatedAt time.Time
}

// CounterOffer is a price proposal against a listing.
type CounterOffer struct {
	ID         int64
	ListingID  int64
	ProposerID int64
	Price      float64
	Comment    string
	Status     OfferStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// OfferView joins an offer with the listing fields shown on offer cards.
type OfferView struct {
	CounterOffer
	Crop               string
	ListingPrice       float64
	ListingOwnerID     int64
	ProposerExternalID int64
	OwnerExternalID    int64
}

// SessionView is a session row with the counterpart resolved for one viewer.
type SessionView struct {
	ChatSession
	Counterpart User
}
