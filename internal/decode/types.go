package decode

import "fmt"

// Mode is a feed verbosity level negotiated per instrument.
type Mode string

const (
	// ModeLTPC delivers only the last-trade/close record.
	ModeLTPC Mode = "ltpc"
	// ModeFull adds five depth levels, OHLC intervals, greeks for
	// derivatives, and the scalar extras.
	ModeFull Mode = "full"
	// ModeOptionGreeks delivers LTPC plus greeks for derivative
	// instruments.
	ModeOptionGreeks Mode = "option_greeks"
	// ModeFullD30 is ModeFull with thirty depth levels.
	ModeFullD30 Mode = "full_d30"
)

// Valid reports whether m is one of the recognized feed modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeLTPC, ModeFull, ModeOptionGreeks, ModeFullD30:
		return true
	}
	return false
}

// Wire enum values for the request mode (Feed field 4).
const (
	wireModeLTPC         = 0
	wireModeFull         = 1
	wireModeOptionGreeks = 2
	wireModeFullD30      = 3
)

func modeFromWire(v uint64) (Mode, bool) {
	switch v {
	case wireModeLTPC:
		return ModeLTPC, true
	case wireModeFull:
		return ModeFull, true
	case wireModeOptionGreeks:
		return ModeOptionGreeks, true
	case wireModeFullD30:
		return ModeFullD30, true
	}
	return "", false
}

// MessageKind discriminates the two top-level frame shapes.
type MessageKind int

const (
	// KindLiveFeed carries per-instrument market data.
	KindLiveFeed MessageKind = iota
	// KindMarketInfo carries exchange segment statuses.
	KindMarketInfo
)

func (k MessageKind) String() string {
	switch k {
	case KindLiveFeed:
		return "live_feed"
	case KindMarketInfo:
		return "market_info"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// FeedMessage is one decoded frame.
type FeedMessage struct {
	Kind      MessageKind
	CurrentTs int64 // Server timestamp (ms since epoch), 0 if absent

	// Exactly one of these is non-nil, matching Kind.
	MarketInfo *MarketInfo
	LiveFeed   *LiveFeed
}

// MarketInfo maps exchange segments to status codes.
type MarketInfo struct {
	SegmentStatus map[string]SegmentStatus
}

// SegmentStatus is an exchange segment trading status code.
type SegmentStatus int32

const (
	SegmentPreOpenStart  SegmentStatus = 0
	SegmentPreOpenEnd    SegmentStatus = 1
	SegmentNormalOpen    SegmentStatus = 2
	SegmentNormalClose   SegmentStatus = 3
	SegmentClosingStart  SegmentStatus = 4
	SegmentClosingEnd    SegmentStatus = 5
)

// LiveFeed maps instrument keys to their decoded payloads.
type LiveFeed struct {
	Feeds map[string]*InstrumentFeed
}

// InstrumentFeed is the per-instrument payload of a live-feed frame.
// LTPC is present in every mode; the remaining sub-records are nil
// unless their bytes were present in the frame.
type InstrumentFeed struct {
	RequestMode Mode

	LTPC         *LTPC
	MarketLevel  *MarketLevel
	FirstDepth   *Quote // option_greeks mode carries a single top-of-book quote
	OptionGreeks *OptionGreeks
	MarketOHLC   *MarketOHLC
	Extras       *Extras
}

// LTPC is the minimal quote record: last trade and previous close.
type LTPC struct {
	LTP float64 // Last traded price
	LTT int64   // Last trade time (ms since epoch)
	LTQ int64   // Last traded quantity
	CP  float64 // Previous close price
}

// MarketLevel is the order-book depth ladder. Five levels in full mode,
// thirty in full_d30.
type MarketLevel struct {
	BidAskQuote []Quote
}

// Quote is one rung of the order book.
type Quote struct {
	BidQ int64
	BidP float64
	AskQ int64
	AskP float64
}

// OptionGreeks holds derivative sensitivity measures.
type OptionGreeks struct {
	Delta float64
	Theta float64
	Gamma float64
	Vega  float64
	Rho   float64
}

// MarketOHLC is a sequence of per-interval OHLC records.
type MarketOHLC struct {
	OHLC []OHLC
}

// OHLC is one aggregation interval (e.g. "1d", "I1", "I30").
type OHLC struct {
	Interval string
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	Ts       int64 // Interval start (ms since epoch)
}

// Extras carries the full-mode scalar fields.
type Extras struct {
	ATP float64 // Average traded price
	VTT int64   // Volume traded today
	OI  float64 // Open interest
	IV  float64 // Implied volatility
	TBQ float64 // Total buy quantity
	TSQ float64 // Total sell quantity
}
