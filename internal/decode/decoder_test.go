package decode

import (
	"errors"
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// Frame builders. Tests construct wire frames directly so decoding is
// checked against the schema, not against a round-trip through an
// encoder that could share a bug.

func bytesField(b []byte, num protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

func varintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func doubleField(b []byte, num protowire.Number, f float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(f))
}

func stringField(b []byte, num protowire.Number, s string) []byte {
	return bytesField(b, num, []byte(s))
}

func buildLTPC(ltp, cp float64, ltt, ltq int64) []byte {
	var b []byte
	b = doubleField(b, fieldLTPCLTP, ltp)
	b = varintField(b, fieldLTPCLTT, uint64(ltt))
	b = varintField(b, fieldLTPCLTQ, uint64(ltq))
	b = doubleField(b, fieldLTPCCP, cp)
	return b
}

func buildQuote(bidQ int64, bidP float64, askQ int64, askP float64) []byte {
	var b []byte
	b = varintField(b, fieldQuoteBidQ, uint64(bidQ))
	b = doubleField(b, fieldQuoteBidP, bidP)
	b = varintField(b, fieldQuoteAskQ, uint64(askQ))
	b = doubleField(b, fieldQuoteAskP, askP)
	return b
}

func buildMarketLevel(levels int) []byte {
	var b []byte
	for i := 0; i < levels; i++ {
		b = bytesField(b, fieldRepeatedEntry, buildQuote(int64(100+i), 99.5-float64(i), int64(200+i), 100.5+float64(i)))
	}
	return b
}

func buildGreeks() []byte {
	var b []byte
	b = doubleField(b, fieldGreeksDelta, 0.52)
	b = doubleField(b, fieldGreeksTheta, -4.1)
	b = doubleField(b, fieldGreeksGamma, 0.002)
	b = doubleField(b, fieldGreeksVega, 7.3)
	b = doubleField(b, fieldGreeksRho, 1.9)
	return b
}

func buildOHLC(interval string) []byte {
	var b []byte
	b = stringField(b, fieldOHLCInterval, interval)
	b = doubleField(b, fieldOHLCOpen, 100.0)
	b = doubleField(b, fieldOHLCHigh, 101.5)
	b = doubleField(b, fieldOHLCLow, 99.0)
	b = doubleField(b, fieldOHLCClose, 100.5)
	b = varintField(b, fieldOHLCVolume, 50000)
	b = varintField(b, fieldOHLCTs, 1234567890)
	return b
}

// buildFeed wraps a Feed body in a feeds map entry and a FeedResponse.
func buildFrame(key string, feedBody []byte) []byte {
	var entry []byte
	entry = stringField(entry, fieldEntryKey, key)
	entry = bytesField(entry, fieldEntryValue, feedBody)

	var frame []byte
	frame = varintField(frame, fieldResponseType, wireTypeLiveFeed)
	frame = bytesField(frame, fieldResponseFeeds, entry)
	frame = varintField(frame, fieldResponseCurrentTs, 1700000000000)
	return frame
}

func ltpcFeedBody(ltpc []byte) []byte {
	var b []byte
	b = bytesField(b, fieldFeedLTPC, ltpc)
	b = varintField(b, fieldFeedRequestMode, wireModeLTPC)
	return b
}

func fullFeedBody(mode uint64, levels int, withGreeks, withExtras bool) []byte {
	var ff []byte
	ff = bytesField(ff, fieldMarketFFLTPC, buildLTPC(100.50, 99.75, 1234567890, 100))
	ff = bytesField(ff, fieldMarketFFMarketLevel, buildMarketLevel(levels))
	if withGreeks {
		ff = bytesField(ff, fieldMarketFFGreeks, buildGreeks())
	}
	var ohlc []byte
	ohlc = bytesField(ohlc, fieldRepeatedEntry, buildOHLC("1d"))
	ohlc = bytesField(ohlc, fieldRepeatedEntry, buildOHLC("I1"))
	ff = bytesField(ff, fieldMarketFFOHLC, ohlc)
	if withExtras {
		ff = doubleField(ff, fieldMarketFFATP, 100.12)
		ff = varintField(ff, fieldMarketFFVTT, 1234567)
		ff = doubleField(ff, fieldMarketFFOI, 4500)
		ff = doubleField(ff, fieldMarketFFIV, 0.18)
		ff = doubleField(ff, fieldMarketFFTBQ, 8000)
		ff = doubleField(ff, fieldMarketFFTSQ, 9000)
	}

	var full []byte
	full = bytesField(full, fieldFullMarketFF, ff)

	var b []byte
	b = bytesField(b, fieldFeedFull, full)
	b = varintField(b, fieldFeedRequestMode, mode)
	return b
}

func greeksFeedBody() []byte {
	var fl []byte
	fl = bytesField(fl, fieldFirstLevelLTPC, buildLTPC(100.50, 99.75, 1234567890, 100))
	fl = bytesField(fl, fieldFirstLevelGreeks, buildGreeks())

	var b []byte
	b = bytesField(b, fieldFeedFirstLevel, fl)
	b = varintField(b, fieldFeedRequestMode, wireModeOptionGreeks)
	return b
}

func TestDecode_LTPCMode(t *testing.T) {
	const key = "NSE_EQ|INE848E01016"
	frame := buildFrame(key, ltpcFeedBody(buildLTPC(100.50, 99.75, 1234567890, 100)))

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if msg.Kind != KindLiveFeed {
		t.Fatalf("Kind = %v, want KindLiveFeed", msg.Kind)
	}
	if msg.CurrentTs != 1700000000000 {
		t.Errorf("CurrentTs = %d, want 1700000000000", msg.CurrentTs)
	}

	feed := msg.LiveFeed.Feeds[key]
	if feed == nil {
		t.Fatalf("no feed for %s", key)
	}
	if feed.RequestMode != ModeLTPC {
		t.Errorf("RequestMode = %s, want ltpc", feed.RequestMode)
	}
	if feed.LTPC == nil {
		t.Fatal("LTPC is nil, want populated")
	}
	if feed.LTPC.LTP != 100.50 {
		t.Errorf("LTP = %v, want 100.50", feed.LTPC.LTP)
	}
	if feed.LTPC.CP != 99.75 {
		t.Errorf("CP = %v, want 99.75", feed.LTPC.CP)
	}
	if feed.LTPC.LTT != 1234567890 {
		t.Errorf("LTT = %d, want 1234567890", feed.LTPC.LTT)
	}
	if feed.LTPC.LTQ != 100 {
		t.Errorf("LTQ = %d, want 100", feed.LTPC.LTQ)
	}

	// Fields not valid for ltpc mode must be absent, not zero-valued.
	if feed.MarketLevel != nil {
		t.Error("MarketLevel populated in ltpc mode")
	}
	if feed.OptionGreeks != nil {
		t.Error("OptionGreeks populated in ltpc mode")
	}
	if feed.MarketOHLC != nil {
		t.Error("MarketOHLC populated in ltpc mode")
	}
	if feed.Extras != nil {
		t.Error("Extras populated in ltpc mode")
	}
}

func TestDecode_ModeFieldMatrix(t *testing.T) {
	const key = "NSE_FO|54321"

	tests := []struct {
		name       string
		body       []byte
		wantMode   Mode
		wantDepth  int
		wantLevel  bool
		wantGreeks bool
		wantOHLC   bool
		wantExtras bool
	}{
		{
			name:     "ltpc",
			body:     ltpcFeedBody(buildLTPC(10, 9, 1, 2)),
			wantMode: ModeLTPC,
		},
		{
			name:       "full",
			body:       fullFeedBody(wireModeFull, 5, true, true),
			wantMode:   ModeFull,
			wantDepth:  5,
			wantLevel:  true,
			wantGreeks: true,
			wantOHLC:   true,
			wantExtras: true,
		},
		{
			name:       "option_greeks",
			body:       greeksFeedBody(),
			wantMode:   ModeOptionGreeks,
			wantGreeks: true,
		},
		{
			name:       "full_d30",
			body:       fullFeedBody(wireModeFullD30, 30, true, true),
			wantMode:   ModeFullD30,
			wantDepth:  30,
			wantLevel:  true,
			wantGreeks: true,
			wantOHLC:   true,
			wantExtras: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(buildFrame(key, tt.body))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			feed := msg.LiveFeed.Feeds[key]
			if feed == nil {
				t.Fatal("missing instrument feed")
			}

			if feed.RequestMode != tt.wantMode {
				t.Errorf("RequestMode = %s, want %s", feed.RequestMode, tt.wantMode)
			}
			if feed.LTPC == nil {
				t.Error("LTPC absent; it is present in every mode")
			}
			if got := feed.MarketLevel != nil; got != tt.wantLevel {
				t.Errorf("MarketLevel present = %v, want %v", got, tt.wantLevel)
			}
			if tt.wantLevel && len(feed.MarketLevel.BidAskQuote) != tt.wantDepth {
				t.Errorf("depth levels = %d, want %d", len(feed.MarketLevel.BidAskQuote), tt.wantDepth)
			}
			if got := feed.OptionGreeks != nil; got != tt.wantGreeks {
				t.Errorf("OptionGreeks present = %v, want %v", got, tt.wantGreeks)
			}
			if got := feed.MarketOHLC != nil; got != tt.wantOHLC {
				t.Errorf("MarketOHLC present = %v, want %v", got, tt.wantOHLC)
			}
			if got := feed.Extras != nil; got != tt.wantExtras {
				t.Errorf("Extras present = %v, want %v", got, tt.wantExtras)
			}
		})
	}
}

func TestDecode_FullFeedValues(t *testing.T) {
	const key = "NSE_FO|67890"
	msg, err := Decode(buildFrame(key, fullFeedBody(wireModeFull, 5, true, true)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	feed := msg.LiveFeed.Feeds[key]

	q := feed.MarketLevel.BidAskQuote[0]
	if q.BidQ != 100 || q.BidP != 99.5 || q.AskQ != 200 || q.AskP != 100.5 {
		t.Errorf("level 0 = %+v, want {100 99.5 200 100.5}", q)
	}

	g := feed.OptionGreeks
	if g.Delta != 0.52 || g.Theta != -4.1 || g.Gamma != 0.002 || g.Vega != 7.3 || g.Rho != 1.9 {
		t.Errorf("greeks = %+v", g)
	}

	if len(feed.MarketOHLC.OHLC) != 2 {
		t.Fatalf("OHLC intervals = %d, want 2", len(feed.MarketOHLC.OHLC))
	}
	o := feed.MarketOHLC.OHLC[0]
	if o.Interval != "1d" || o.Open != 100.0 || o.High != 101.5 || o.Low != 99.0 || o.Close != 100.5 || o.Volume != 50000 {
		t.Errorf("ohlc[0] = %+v", o)
	}

	e := feed.Extras
	if e.ATP != 100.12 || e.VTT != 1234567 || e.OI != 4500 || e.IV != 0.18 || e.TBQ != 8000 || e.TSQ != 9000 {
		t.Errorf("extras = %+v", e)
	}
}

func TestDecode_MarketInfo(t *testing.T) {
	var seg []byte
	seg = stringField(seg, fieldEntryKey, "NSE_EQ")
	seg = varintField(seg, fieldEntryValue, uint64(SegmentNormalOpen))

	var info []byte
	info = bytesField(info, fieldRepeatedEntry, seg)

	var frame []byte
	frame = varintField(frame, fieldResponseType, wireTypeMarketInfo)
	frame = bytesField(frame, fieldResponseMarketInfo, info)

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Kind != KindMarketInfo {
		t.Fatalf("Kind = %v, want KindMarketInfo", msg.Kind)
	}
	if msg.LiveFeed != nil {
		t.Error("LiveFeed populated on a market-info frame")
	}
	if got := msg.MarketInfo.SegmentStatus["NSE_EQ"]; got != SegmentNormalOpen {
		t.Errorf("NSE_EQ status = %d, want %d", got, SegmentNormalOpen)
	}
}

func TestDecode_UnknownFieldTag(t *testing.T) {
	frame := buildFrame("NSE_EQ|X", ltpcFeedBody(buildLTPC(1, 1, 1, 1)))
	// Append a field number outside the supported schema at the top level.
	frame = varintField(frame, 99, 7)

	_, err := Decode(frame)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
	if de.FrameLen != len(frame) {
		t.Errorf("FrameLen = %d, want %d", de.FrameLen, len(frame))
	}
	if de.Offset <= 0 || de.Offset >= len(frame) {
		t.Errorf("Offset = %d, want within frame", de.Offset)
	}
}

func TestDecode_UnknownNestedTag(t *testing.T) {
	bad := buildLTPC(1, 1, 1, 1)
	bad = varintField(bad, 12, 3) // not an LTPC field
	frame := buildFrame("NSE_EQ|X", ltpcFeedBody(bad))

	var de *DecodeError
	if _, err := Decode(frame); !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
}

func TestDecode_Truncated(t *testing.T) {
	frame := buildFrame("NSE_EQ|X", ltpcFeedBody(buildLTPC(100.5, 99.75, 1, 1)))

	for cut := 1; cut < len(frame); cut++ {
		_, err := Decode(frame[:cut])
		if err == nil {
			// Some prefixes are valid frames (e.g. just the type field);
			// those must decode to an empty live feed, never panic.
			continue
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("cut=%d: error = %v, want *DecodeError", cut, err)
		}
		if de.FrameLen != cut {
			t.Errorf("cut=%d: FrameLen = %d", cut, de.FrameLen)
		}
	}
}

func TestDecode_WrongWireType(t *testing.T) {
	// currentTs (field 3) sent length-delimited instead of varint.
	var frame []byte
	frame = bytesField(frame, fieldResponseCurrentTs, []byte("oops"))

	var de *DecodeError
	if _, err := Decode(frame); !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
}

func TestDecode_UnknownRequestMode(t *testing.T) {
	var body []byte
	body = bytesField(body, fieldFeedLTPC, buildLTPC(1, 1, 1, 1))
	body = varintField(body, fieldFeedRequestMode, 9)

	var de *DecodeError
	if _, err := Decode(buildFrame("NSE_EQ|X", body)); !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
}

func TestDecode_EmptyFrame(t *testing.T) {
	msg, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Kind != KindLiveFeed {
		t.Errorf("Kind = %v, want KindLiveFeed", msg.Kind)
	}
	if len(msg.LiveFeed.Feeds) != 0 {
		t.Errorf("Feeds = %d entries, want 0", len(msg.LiveFeed.Feeds))
	}
}

func TestDecode_ExtrasAbsentWhenNoBytes(t *testing.T) {
	const key = "NSE_FO|1"
	msg, err := Decode(buildFrame(key, fullFeedBody(wireModeFull, 5, false, false)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	feed := msg.LiveFeed.Feeds[key]
	if feed.Extras != nil {
		t.Error("Extras allocated without extras bytes in frame")
	}
	if feed.OptionGreeks != nil {
		t.Error("OptionGreeks allocated without greeks bytes in frame")
	}
}

func TestMode_Valid(t *testing.T) {
	for _, m := range []Mode{ModeLTPC, ModeFull, ModeOptionGreeks, ModeFullD30} {
		if !m.Valid() {
			t.Errorf("%s reported invalid", m)
		}
	}
	for _, m := range []Mode{"", "bogus", "FULL", "ltpc "} {
		if m.Valid() {
			t.Errorf("%q reported valid", m)
		}
	}
}
