package polymarket

import "testing"

func TestHandleMessageCachesPrices(t *testing.T) {
	s := NewStream("", testLogger())

	// Single event.
	s.handleMessage([]byte(`{"event_type":"last_trade_price","asset_id":"tok-up","price":"0.62"}`))
	if price, ok := s.LastPrice("tok-up"); !ok || price != 0.62 {
		t.Errorf("price = %v %v, want 0.62 cached", price, ok)
	}

	// Batched events, later entries win.
	s.handleMessage([]byte(`[
		{"event_type":"last_trade_price","asset_id":"tok-up","price":"0.65"},
		{"event_type":"last_trade_price","asset_id":"tok-down","price":"0.35"}
	]`))
	if price, _ := s.LastPrice("tok-up"); price != 0.65 {
		t.Errorf("updated price = %v, want 0.65", price)
	}
	if price, _ := s.LastPrice("tok-down"); price != 0.35 {
		t.Errorf("second token price = %v, want 0.35", price)
	}
}

func TestHandleMessageIgnoresNoise(t *testing.T) {
	s := NewStream("", testLogger())

	s.handleMessage([]byte(`not json`))
	s.handleMessage([]byte(`{"event_type":"book","asset_id":"tok-up","price":"0.62"}`))
	s.handleMessage([]byte(`{"event_type":"last_trade_price","asset_id":"","price":"0.62"}`))
	s.handleMessage([]byte(`{"event_type":"last_trade_price","asset_id":"tok-up","price":"bad"}`))

	if _, ok := s.LastPrice("tok-up"); ok {
		t.Error("noise message cached a price")
	}
}

func TestSubscribeRequiresConnection(t *testing.T) {
	s := NewStream("", testLogger())
	if err := s.Subscribe([]string{"tok-up"}); err == nil {
		t.Error("expected error while disconnected")
	}
}
