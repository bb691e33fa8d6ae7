package models

import (
	"encoding/json"
	"testing"
)

type bookingPayload struct {
	Station Ref[StationRecord] `json:"station"`
	Battery Ref[Battery]       `json:"battery"`
}

func TestRefDecodesIDOrInline(t *testing.T) {
	var p bookingPayload
	raw := `{"station":"st-1","battery":{"id":"bat-9","model":"LFP-48","soh":91}}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Station.ID() != "st-1" {
		t.Fatalf("station id = %q", p.Station.ID())
	}
	if _, ok := p.Station.Inline(); ok {
		t.Fatalf("station should not be inline")
	}
	b, ok := p.Battery.Inline()
	if !ok || b.Model != "LFP-48" || p.Battery.ID() != "bat-9" {
		t.Fatalf("unexpected battery ref: %+v ok=%v", b, ok)
	}
}

func TestRefRejectsInlineWithoutID(t *testing.T) {
	var p bookingPayload
	if err := json.Unmarshal([]byte(`{"battery":{"model":"x"}}`), &p); err == nil {
		t.Fatalf("expected error for inline ref without id")
	}
	if err := json.Unmarshal([]byte(`{"battery":42}`), &p); err == nil {
		t.Fatalf("expected error for numeric ref")
	}
}

func TestStationRecordAvailableFallback(t *testing.T) {
	r := StationRecord{AvailableBatteries: 7}
	if r.Available() != 7 {
		t.Fatalf("expected fallback to flat field")
	}
	r.BatteryCounts = &BatteryCounts{Available: 2}
	if r.Available() != 2 {
		t.Fatalf("expected derived counts to win")
	}
}
