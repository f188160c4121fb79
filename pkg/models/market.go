package models

// Market is one 5-minute BTC up/down market instance as seen through the
// venue's metadata API.
type Market struct {
	Timestamp       int64      // 5-minute epoch key
	Slug            string
	Title           string
	Closed          bool
	AcceptingOrders bool
	Outcome         *Direction // nil until the market resolves

	UpPrice   float64
	DownPrice float64

	UpTokenID   string
	DownTokenID string
}

// PriceFor returns the quoted price for the requested side.
func (m *Market) PriceFor(d Direction) float64 {
	if d == DirectionUp {
		return m.UpPrice
	}
	return m.DownPrice
}

// TokenFor returns the order-book token id for the requested side, or empty
// when the side has no token configured.
func (m *Market) TokenFor(d Direction) string {
	if d == DirectionUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}

// Resolved reports whether the market is closed with a known outcome.
func (m *Market) Resolved() bool {
	return m.Closed && m.Outcome != nil
}
