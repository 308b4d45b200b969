package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is the slice of an event this service needs for payment
// reconciliation: price, capacity and where on-chain payments should
// land.  Event content management (creation, editing, images, search)
// lives elsewhere; this service only reads.
//
// Fields:
//
//	ID              – primary key identifier.
//	Title           – display title, used in ticket notifications.
//	PriceUSD        – ticket price in USD; zero or below means a free event.
//	Currency        – currency the organizer prices in, for display.
//	Capacity        – maximum number of CONFIRMED RSVPs.
//	OrganizerID     – identity-provider subject of the organizer.
//	OrganizerWallet – address wallet transfers settle to.
//	Chain           – chain on-chain payments are expected on.
//	StartsAt        – event start time (UTC).
type Event struct {
	ID              uint64          // events.id
	Title           string          // events.title
	PriceUSD        decimal.Decimal // events.price_usd
	Currency        string          // events.currency
	Capacity        uint32          // events.capacity
	OrganizerID     string          // events.organizer_id
	OrganizerWallet string          // events.organizer_wallet
	Chain           string          // events.chain
	StartsAt        time.Time       // events.starts_at
}

// Free reports whether the event requires no payment.
func (e *Event) Free() bool { return e.PriceUSD.Sign() <= 0 }
