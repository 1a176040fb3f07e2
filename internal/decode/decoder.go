package decode

import (
	"math"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the supported feed schema. Anything outside these is
// rejected as an unsupported schema version.
const (
	// FeedResponse
	fieldResponseType       = 1
	fieldResponseFeeds      = 2
	fieldResponseCurrentTs  = 3
	fieldResponseMarketInfo = 4

	// Map entries (feeds, segmentStatus)
	fieldEntryKey   = 1
	fieldEntryValue = 2

	// Feed
	fieldFeedLTPC        = 1
	fieldFeedFull        = 2
	fieldFeedFirstLevel  = 3
	fieldFeedRequestMode = 4

	// FullFeed
	fieldFullMarketFF = 1
	fieldFullIndexFF  = 2

	// MarketFullFeed
	fieldMarketFFLTPC        = 1
	fieldMarketFFMarketLevel = 2
	fieldMarketFFGreeks      = 3
	fieldMarketFFOHLC        = 4
	fieldMarketFFATP         = 5
	fieldMarketFFVTT         = 6
	fieldMarketFFOI          = 7
	fieldMarketFFIV          = 8
	fieldMarketFFTBQ         = 9
	fieldMarketFFTSQ         = 10

	// IndexFullFeed
	fieldIndexFFLTPC = 1
	fieldIndexFFOHLC = 2

	// FirstLevelWithGreeks
	fieldFirstLevelLTPC   = 1
	fieldFirstLevelDepth  = 2
	fieldFirstLevelGreeks = 3
	fieldFirstLevelVTT    = 4
	fieldFirstLevelOI     = 5
	fieldFirstLevelIV     = 6

	// LTPC
	fieldLTPCLTP = 1
	fieldLTPCLTT = 2
	fieldLTPCLTQ = 3
	fieldLTPCCP  = 4

	// MarketLevel / MarketOHLC repeated entries
	fieldRepeatedEntry = 1

	// Quote
	fieldQuoteBidQ = 1
	fieldQuoteBidP = 2
	fieldQuoteAskQ = 3
	fieldQuoteAskP = 4

	// OptionGreeks
	fieldGreeksDelta = 1
	fieldGreeksTheta = 2
	fieldGreeksGamma = 3
	fieldGreeksVega  = 4
	fieldGreeksRho   = 5

	// OHLC
	fieldOHLCInterval = 1
	fieldOHLCOpen     = 2
	fieldOHLCHigh     = 3
	fieldOHLCLow      = 4
	fieldOHLCClose    = 5
	fieldOHLCVolume   = 6
	fieldOHLCTs       = 7
)

// Wire values for the FeedResponse type enum.
const (
	wireTypeInitialFeed = 0
	wireTypeLiveFeed    = 1
	wireTypeMarketInfo  = 2
)

// Decode parses one raw frame into a FeedMessage. It is a pure
// function: same bytes, same result, no side effects.
func Decode(frame []byte) (*FeedMessage, error) {
	d := &decoder{frameLen: len(frame)}
	return d.feedResponse(frame)
}

type decoder struct {
	frameLen int
}

func (d *decoder) fail(offset int, reason string) *DecodeError {
	return &DecodeError{FrameLen: d.frameLen, Offset: offset, Reason: reason}
}

// fieldFn receives one decoded field. For varint/fixed fields the raw
// value is in v; for length-delimited fields the payload slice is
// non-nil and valOff is the absolute offset of its first byte.
type fieldFn func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, valOff int) error

// walk iterates the fields of a message occupying b, whose first byte
// sits at absolute offset base within the frame.
func (d *decoder) walk(b []byte, base int, fn fieldFn) error {
	pos := 0
	for pos < len(b) {
		num, typ, n := protowire.ConsumeTag(b[pos:])
		if n < 0 {
			return d.fail(base+pos, "malformed field tag")
		}
		pos += n

		var v uint64
		var payload []byte
		valOff := base + pos

		switch typ {
		case protowire.VarintType:
			val, m := protowire.ConsumeVarint(b[pos:])
			if m < 0 {
				return d.fail(base+pos, "truncated varint")
			}
			v = val
			pos += m
		case protowire.Fixed64Type:
			val, m := protowire.ConsumeFixed64(b[pos:])
			if m < 0 {
				return d.fail(base+pos, "truncated fixed64")
			}
			v = val
			pos += m
		case protowire.Fixed32Type:
			val, m := protowire.ConsumeFixed32(b[pos:])
			if m < 0 {
				return d.fail(base+pos, "truncated fixed32")
			}
			v = uint64(val)
			pos += m
		case protowire.BytesType:
			pl, m := protowire.ConsumeBytes(b[pos:])
			if m < 0 {
				return d.fail(base+pos, "truncated length-delimited field")
			}
			payload = pl
			valOff = base + pos + (m - len(pl))
			pos += m
		default:
			return d.fail(valOff, "unsupported wire type")
		}

		if err := fn(num, typ, v, payload, valOff); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) unknownField(num protowire.Number, off int) *DecodeError {
	return d.fail(off, "unknown field tag "+strconv.Itoa(int(num)))
}

func (d *decoder) wantBytes(typ protowire.Type, off int) error {
	if typ != protowire.BytesType {
		return d.fail(off, "wrong wire type for embedded message")
	}
	return nil
}

func (d *decoder) wantVarint(typ protowire.Type, off int) error {
	if typ != protowire.VarintType {
		return d.fail(off, "wrong wire type for varint field")
	}
	return nil
}

func (d *decoder) wantDouble(typ protowire.Type, off int) error {
	if typ != protowire.Fixed64Type {
		return d.fail(off, "wrong wire type for double field")
	}
	return nil
}

func (d *decoder) feedResponse(frame []byte) (*FeedMessage, error) {
	msg := &FeedMessage{}
	feeds := map[string]*InstrumentFeed{}
	var info *MarketInfo
	typeEnum := uint64(wireTypeLiveFeed)

	err := d.walk(frame, 0, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldResponseType:
			if err := d.wantVarint(typ, off); err != nil {
				return err
			}
			if v > wireTypeMarketInfo {
				return d.fail(off, "unknown message type "+strconv.FormatUint(v, 10))
			}
			typeEnum = v
		case fieldResponseFeeds:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			key, feed, err := d.feedEntry(payload, off)
			if err != nil {
				return err
			}
			feeds[key] = feed
		case fieldResponseCurrentTs:
			if err := d.wantVarint(typ, off); err != nil {
				return err
			}
			msg.CurrentTs = int64(v)
		case fieldResponseMarketInfo:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			mi, err := d.marketInfo(payload, off)
			if err != nil {
				return err
			}
			info = mi
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if typeEnum == wireTypeMarketInfo || info != nil {
		if info == nil {
			info = &MarketInfo{SegmentStatus: map[string]SegmentStatus{}}
		}
		msg.Kind = KindMarketInfo
		msg.MarketInfo = info
		return msg, nil
	}

	msg.Kind = KindLiveFeed
	msg.LiveFeed = &LiveFeed{Feeds: feeds}
	return msg, nil
}

// feedEntry decodes one feeds map entry (instrument key → Feed).
func (d *decoder) feedEntry(b []byte, base int) (string, *InstrumentFeed, error) {
	var key string
	var feed *InstrumentFeed

	err := d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldEntryKey:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			key = string(payload)
		case fieldEntryValue:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			f, err := d.feed(payload, off)
			if err != nil {
				return err
			}
			feed = f
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	if feed == nil {
		feed = &InstrumentFeed{RequestMode: ModeLTPC}
	}
	return key, feed, nil
}

func (d *decoder) feed(b []byte, base int) (*InstrumentFeed, error) {
	feed := &InstrumentFeed{RequestMode: ModeLTPC}

	err := d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldFeedLTPC:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			ltpc, err := d.ltpc(payload, off)
			if err != nil {
				return err
			}
			feed.LTPC = ltpc
		case fieldFeedFull:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			return d.fullFeed(payload, off, feed)
		case fieldFeedFirstLevel:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			return d.firstLevelWithGreeks(payload, off, feed)
		case fieldFeedRequestMode:
			if err := d.wantVarint(typ, off); err != nil {
				return err
			}
			mode, ok := modeFromWire(v)
			if !ok {
				return d.fail(off, "unsupported request mode "+strconv.FormatUint(v, 10))
			}
			feed.RequestMode = mode
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return feed, nil
}

func (d *decoder) fullFeed(b []byte, base int, feed *InstrumentFeed) error {
	return d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldFullMarketFF:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			return d.marketFullFeed(payload, off, feed)
		case fieldFullIndexFF:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			return d.indexFullFeed(payload, off, feed)
		default:
			return d.unknownField(num, off)
		}
	})
}

func (d *decoder) marketFullFeed(b []byte, base int, feed *InstrumentFeed) error {
	var extras *Extras
	ensureExtras := func() *Extras {
		if extras == nil {
			extras = &Extras{}
		}
		return extras
	}

	err := d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldMarketFFLTPC:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			ltpc, err := d.ltpc(payload, off)
			if err != nil {
				return err
			}
			feed.LTPC = ltpc
		case fieldMarketFFMarketLevel:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			ml, err := d.marketLevel(payload, off)
			if err != nil {
				return err
			}
			feed.MarketLevel = ml
		case fieldMarketFFGreeks:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			g, err := d.optionGreeks(payload, off)
			if err != nil {
				return err
			}
			feed.OptionGreeks = g
		case fieldMarketFFOHLC:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			ohlc, err := d.marketOHLC(payload, off)
			if err != nil {
				return err
			}
			feed.MarketOHLC = ohlc
		case fieldMarketFFATP:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			ensureExtras().ATP = math.Float64frombits(v)
		case fieldMarketFFVTT:
			if err := d.wantVarint(typ, off); err != nil {
				return err
			}
			ensureExtras().VTT = int64(v)
		case fieldMarketFFOI:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			ensureExtras().OI = math.Float64frombits(v)
		case fieldMarketFFIV:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			ensureExtras().IV = math.Float64frombits(v)
		case fieldMarketFFTBQ:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			ensureExtras().TBQ = math.Float64frombits(v)
		case fieldMarketFFTSQ:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			ensureExtras().TSQ = math.Float64frombits(v)
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
	if err != nil {
		return err
	}
	feed.Extras = extras
	return nil
}

func (d *decoder) indexFullFeed(b []byte, base int, feed *InstrumentFeed) error {
	return d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldIndexFFLTPC:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			ltpc, err := d.ltpc(payload, off)
			if err != nil {
				return err
			}
			feed.LTPC = ltpc
		case fieldIndexFFOHLC:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			ohlc, err := d.marketOHLC(payload, off)
			if err != nil {
				return err
			}
			feed.MarketOHLC = ohlc
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
}

func (d *decoder) firstLevelWithGreeks(b []byte, base int, feed *InstrumentFeed) error {
	var extras *Extras
	ensureExtras := func() *Extras {
		if extras == nil {
			extras = &Extras{}
		}
		return extras
	}

	err := d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldFirstLevelLTPC:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			ltpc, err := d.ltpc(payload, off)
			if err != nil {
				return err
			}
			feed.LTPC = ltpc
		case fieldFirstLevelDepth:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			q, err := d.quote(payload, off)
			if err != nil {
				return err
			}
			feed.FirstDepth = &q
		case fieldFirstLevelGreeks:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			g, err := d.optionGreeks(payload, off)
			if err != nil {
				return err
			}
			feed.OptionGreeks = g
		case fieldFirstLevelVTT:
			if err := d.wantVarint(typ, off); err != nil {
				return err
			}
			ensureExtras().VTT = int64(v)
		case fieldFirstLevelOI:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			ensureExtras().OI = math.Float64frombits(v)
		case fieldFirstLevelIV:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			ensureExtras().IV = math.Float64frombits(v)
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
	if err != nil {
		return err
	}
	feed.Extras = extras
	return nil
}

func (d *decoder) ltpc(b []byte, base int) (*LTPC, error) {
	ltpc := &LTPC{}
	err := d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldLTPCLTP:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			ltpc.LTP = math.Float64frombits(v)
		case fieldLTPCLTT:
			if err := d.wantVarint(typ, off); err != nil {
				return err
			}
			ltpc.LTT = int64(v)
		case fieldLTPCLTQ:
			if err := d.wantVarint(typ, off); err != nil {
				return err
			}
			ltpc.LTQ = int64(v)
		case fieldLTPCCP:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			ltpc.CP = math.Float64frombits(v)
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ltpc, nil
}

func (d *decoder) marketLevel(b []byte, base int) (*MarketLevel, error) {
	ml := &MarketLevel{}
	err := d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldRepeatedEntry:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			q, err := d.quote(payload, off)
			if err != nil {
				return err
			}
			ml.BidAskQuote = append(ml.BidAskQuote, q)
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ml, nil
}

func (d *decoder) quote(b []byte, base int) (Quote, error) {
	var q Quote
	err := d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldQuoteBidQ:
			if err := d.wantVarint(typ, off); err != nil {
				return err
			}
			q.BidQ = int64(v)
		case fieldQuoteBidP:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			q.BidP = math.Float64frombits(v)
		case fieldQuoteAskQ:
			if err := d.wantVarint(typ, off); err != nil {
				return err
			}
			q.AskQ = int64(v)
		case fieldQuoteAskP:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			q.AskP = math.Float64frombits(v)
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
	return q, err
}

func (d *decoder) optionGreeks(b []byte, base int) (*OptionGreeks, error) {
	g := &OptionGreeks{}
	err := d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		if err := d.wantDouble(typ, off); err != nil {
			return err
		}
		switch num {
		case fieldGreeksDelta:
			g.Delta = math.Float64frombits(v)
		case fieldGreeksTheta:
			g.Theta = math.Float64frombits(v)
		case fieldGreeksGamma:
			g.Gamma = math.Float64frombits(v)
		case fieldGreeksVega:
			g.Vega = math.Float64frombits(v)
		case fieldGreeksRho:
			g.Rho = math.Float64frombits(v)
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (d *decoder) marketOHLC(b []byte, base int) (*MarketOHLC, error) {
	mo := &MarketOHLC{}
	err := d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldRepeatedEntry:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			o, err := d.ohlc(payload, off)
			if err != nil {
				return err
			}
			mo.OHLC = append(mo.OHLC, o)
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mo, nil
}

func (d *decoder) ohlc(b []byte, base int) (OHLC, error) {
	var o OHLC
	err := d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldOHLCInterval:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			o.Interval = string(payload)
		case fieldOHLCOpen:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			o.Open = math.Float64frombits(v)
		case fieldOHLCHigh:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			o.High = math.Float64frombits(v)
		case fieldOHLCLow:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			o.Low = math.Float64frombits(v)
		case fieldOHLCClose:
			if err := d.wantDouble(typ, off); err != nil {
				return err
			}
			o.Close = math.Float64frombits(v)
		case fieldOHLCVolume:
			if err := d.wantVarint(typ, off); err != nil {
				return err
			}
			o.Volume = int64(v)
		case fieldOHLCTs:
			if err := d.wantVarint(typ, off); err != nil {
				return err
			}
			o.Ts = int64(v)
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
	return o, err
}

func (d *decoder) marketInfo(b []byte, base int) (*MarketInfo, error) {
	info := &MarketInfo{SegmentStatus: map[string]SegmentStatus{}}
	err := d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldRepeatedEntry:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			return d.segmentEntry(payload, off, info.SegmentStatus)
		default:
			return d.unknownField(num, off)
		}
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (d *decoder) segmentEntry(b []byte, base int, out map[string]SegmentStatus) error {
	var key string
	var status SegmentStatus
	err := d.walk(b, base, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte, off int) error {
		switch num {
		case fieldEntryKey:
			if err := d.wantBytes(typ, off); err != nil {
				return err
			}
			key = string(payload)
		case fieldEntryValue:
			if err := d.wantVarint(typ, off); err != nil {
				return err
			}
			status = SegmentStatus(int32(v))
		default:
			return d.unknownField(num, off)
		}
		return nil
	})
	if err != nil {
		return err
	}
	out[key] = status
	return nil
}
