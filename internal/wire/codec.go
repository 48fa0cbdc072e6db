package wire

import (
	"encoding/binary"
	"math"
)

// writer is a small append-only byte buffer with the primitive packers the
// codec needs: fixed-width little-endian integers, unsigned varints for
// lengths, length-prefixed UTF-8 strings, and tagged Values.
type writer struct {
	buf []byte
}

func (w *writer) u8(b byte)     { w.buf = append(w.buf, b) }
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *writer) u64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) f64(v float64) { w.u64(math.Float64bits(v)) }

func (w *writer) varint(v uint64) { w.buf = putUvarint(w.buf, v) }

func (w *writer) str(s string) {
	w.varint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) blob(b []byte) {
	w.varint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) value(v Value) {
	w.u8(byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindBool:
		if v.Bool {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case KindInt:
		w.i64(v.Int)
	case KindFloat:
		w.f64(v.Float)
	case KindString:
		w.str(v.String)
	case KindBytes:
		w.blob(v.Bytes)
	case KindList:
		w.varint(uint64(len(v.List)))
		for _, e := range v.List {
			w.value(e)
		}
	case KindMap:
		w.varint(uint64(len(v.Map)))
		for k, e := range v.Map {
			w.str(k)
			w.value(e)
		}
	}
}

func (w *writer) strList(ss []string) {
	w.varint(uint64(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

// reader unpacks primitives from a byte slice, tracking a cursor and the
// first decode error encountered so call sites can chain operations without
// checking every step.
type reader struct {
	buf []byte
	pos int
	err error
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = NewError(ErrCodeProtocol, format, args...)
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.fail("truncated frame body (need %d bytes at %d, have %d)", n, r.pos, len(r.buf))
		return false
	}
	return true
}

func (r *reader) u8() byte {
	if !r.need(1) {
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) i64() int64   { return int64(r.u64()) }
func (r *reader) f64() float64 { return math.Float64frombits(r.u64()) }

func (r *reader) varint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		r.fail("malformed varint at %d", r.pos)
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) str() string {
	n := int(r.varint())
	if !r.need(n) {
		return ""
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *reader) blob() []byte {
	n := int(r.varint())
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+n])
	r.pos += n
	return b
}

func (r *reader) strList() []string {
	n := int(r.varint())
	if n == 0 || r.err != nil {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = r.str()
	}
	return out
}

func (r *reader) value() Value {
	if r.err != nil {
		return Value{}
	}
	kind := Kind(r.u8())
	switch kind {
	case KindNull:
		return Null()
	case KindBool:
		return BoolV(r.u8() != 0)
	case KindInt:
		return IntV(r.i64())
	case KindFloat:
		return FloatV(r.f64())
	case KindString:
		return StringV(r.str())
	case KindBytes:
		return BytesV(r.blob())
	case KindList:
		n := int(r.varint())
		list := make([]Value, n)
		for i := range list {
			list[i] = r.value()
		}
		return ListV(list...)
	case KindMap:
		n := int(r.varint())
		m := make(map[string]Value, n)
		for i := 0; i < n; i++ {
			k := r.str()
			m[k] = r.value()
		}
		return MapV(m)
	default:
		r.fail("unknown value kind %d", kind)
		return Value{}
	}
}

// Encode packs a Message into a framed wire representation.
func Encode(m *Message) ([]byte, error) {
	return EncodeMax(m, 0)
}

// EncodeMax packs a Message, refusing bodies over maxFrameSize (0 = default).
func EncodeMax(m *Message, maxFrameSize int) ([]byte, error) {
	w := &writer{}
	switch m.Type {
	case TypeHello:
		h := m.Hello
		w.u8(h.Version)
		w.str(h.Name)
		w.strList(h.Features)
		w.str(h.Token)
	case TypeWelcome:
		x := m.Welcome
		w.u8(x.Version)
		w.str(x.SessionID)
		w.str(x.Name)
		w.strList(x.Features)
		w.i64(x.ServerTime)
	case TypeAnnounce:
		a := m.Announce
		w.varint(uint64(len(a.Signals)))
		for _, s := range a.Signals {
			w.str(s.Address)
			w.str(s.SignalType)
			w.value(MapV(s.Meta))
		}
	case TypeSubscribe:
		s := m.Subscribe
		w.u32(s.SubID)
		w.str(s.Pattern)
		w.strList(s.Types)
		if s.Options.IncludeHistory {
			w.u8(1)
		} else {
			w.u8(0)
		}
		w.u32(s.Options.HistoryLimit)
	case TypeUnsubscribe:
		w.u32(m.Unsubscribe.SubID)
	case TypePublish:
		p := m.Publish
		w.str(p.Address)
		w.str(p.SignalType)
		w.value(p.Value)
		if p.HasSamples {
			w.u8(1)
			w.varint(uint64(len(p.Samples)))
			for _, s := range p.Samples {
				w.f64(s)
			}
			w.f64(p.Rate)
			w.f64(p.Phase)
			w.i64(p.TimestampUs)
			w.str(p.TimelineID)
		} else {
			w.u8(0)
		}
		w.str(p.GestureID)
		w.str(p.GesturePhase)
	case TypeSet:
		s := m.Set
		w.str(s.Address)
		w.value(s.Value)
		if s.ExpectedRevision != nil {
			w.u8(1)
			w.u64(*s.ExpectedRevision)
		} else {
			w.u8(0)
		}
		boolByte := func(b bool) byte {
			if b {
				return 1
			}
			return 0
		}
		w.u8(boolByte(s.Lock))
		w.u8(boolByte(s.Unlock))
	case TypeGet:
		w.str(m.Get.Pattern)
	case TypeSnapshot:
		s := m.Snapshot
		w.u32(s.Chunk)
		w.u32(s.Of)
		w.varint(uint64(len(s.Params)))
		for _, p := range s.Params {
			w.str(p.Address)
			w.value(p.Value)
			w.u64(p.Revision)
			w.str(p.Writer)
			w.i64(p.TimestampUs)
		}
	case TypeReplay:
		r := m.Replay
		w.str(r.Pattern)
		w.i64(r.FromUs)
		w.i64(r.ToUs)
		w.u32(r.Limit)
		w.strList(r.SignalType)
	case TypeFederationSync:
		f := m.FederationSync
		w.u8(byte(f.Op))
		w.str(f.RouterID)
		w.strList(f.Patterns)
		w.varint(uint64(len(f.Revisions)))
		for addr, rev := range f.Revisions {
			w.str(addr)
			w.u64(rev)
		}
		if f.SinceRevision != nil {
			w.u8(1)
			w.u64(*f.SinceRevision)
		} else {
			w.u8(0)
		}
	case TypeBundle:
		b := m.Bundle
		w.varint(uint64(len(b.Frames)))
		for _, f := range b.Frames {
			w.blob(f)
		}
	case TypePing, TypePong:
		// empty body
	case TypeAck:
		a := m.Ack
		w.str(a.CorrelationID)
		w.str(a.Status)
	case TypeError:
		e := m.Error
		w.varint(uint64(e.Code))
		w.str(e.Message)
		w.str(e.Address)
		w.str(e.CorrelationID)
	case TypeQuery:
		w.str(m.Query.Pattern)
	case TypeResult:
		res := m.Result
		w.str(res.Pattern)
		w.varint(uint64(len(res.Rows)))
		for _, row := range res.Rows {
			w.str(row.Address)
			w.value(MapV(row.Fields))
		}
	default:
		return nil, NewError(ErrCodeProtocol, "unknown message type %d", m.Type)
	}
	return EncodeFrame(m.Type, 0, w.buf, maxFrameSize)
}

// Decode unpacks a single framed message from data, returning the message
// and the number of bytes consumed. See DecodeFrame for the "not enough
// bytes yet" (nil, 0, nil) convention.
func Decode(data []byte, maxFrameSize int) (*Message, int, error) {
	frame, n, err := DecodeFrame(data, maxFrameSize)
	if err != nil || frame == nil {
		return nil, n, err
	}
	m, err := decodeBody(frame.Type, frame.Body)
	if err != nil {
		return nil, 0, err
	}
	return m, n, nil
}

func decodeBody(typ Type, body []byte) (*Message, error) {
	r := newReader(body)
	m := &Message{Type: typ}
	switch typ {
	case TypeHello:
		h := &Hello{}
		h.Version = r.u8()
		h.Name = r.str()
		h.Features = r.strList()
		h.Token = r.str()
		m.Hello = h
	case TypeWelcome:
		x := &Welcome{}
		x.Version = r.u8()
		x.SessionID = r.str()
		x.Name = r.str()
		x.Features = r.strList()
		x.ServerTime = r.i64()
		m.Welcome = x
	case TypeAnnounce:
		n := int(r.varint())
		a := &Announce{Signals: make([]SignalAnnounce, n)}
		for i := range a.Signals {
			a.Signals[i].Address = r.str()
			a.Signals[i].SignalType = r.str()
			a.Signals[i].Meta = r.value().Map
		}
		m.Announce = a
	case TypeSubscribe:
		s := &Subscribe{}
		s.SubID = r.u32()
		s.Pattern = r.str()
		s.Types = r.strList()
		s.Options.IncludeHistory = r.u8() != 0
		s.Options.HistoryLimit = r.u32()
		m.Subscribe = s
	case TypeUnsubscribe:
		m.Unsubscribe = &Unsubscribe{SubID: r.u32()}
	case TypePublish:
		p := &Publish{}
		p.Address = r.str()
		p.SignalType = r.str()
		p.Value = r.value()
		p.HasSamples = r.u8() != 0
		if p.HasSamples {
			n := int(r.varint())
			p.Samples = make([]float64, n)
			for i := range p.Samples {
				p.Samples[i] = r.f64()
			}
			p.Rate = r.f64()
			p.Phase = r.f64()
			p.TimestampUs = r.i64()
			p.TimelineID = r.str()
		}
		p.GestureID = r.str()
		p.GesturePhase = r.str()
		m.Publish = p
	case TypeSet:
		s := &Set{}
		s.Address = r.str()
		s.Value = r.value()
		if r.u8() != 0 {
			rev := r.u64()
			s.ExpectedRevision = &rev
		}
		s.Lock = r.u8() != 0
		s.Unlock = r.u8() != 0
		m.Set = s
	case TypeGet:
		m.Get = &Get{Pattern: r.str()}
	case TypeSnapshot:
		s := &Snapshot{}
		s.Chunk = r.u32()
		s.Of = r.u32()
		n := int(r.varint())
		s.Params = make([]ParamEntry, n)
		for i := range s.Params {
			s.Params[i].Address = r.str()
			s.Params[i].Value = r.value()
			s.Params[i].Revision = r.u64()
			s.Params[i].Writer = r.str()
			s.Params[i].TimestampUs = r.i64()
		}
		m.Snapshot = s
	case TypeReplay:
		rp := &Replay{}
		rp.Pattern = r.str()
		rp.FromUs = r.i64()
		rp.ToUs = r.i64()
		rp.Limit = r.u32()
		rp.SignalType = r.strList()
		m.Replay = rp
	case TypeFederationSync:
		f := &FederationSync{}
		f.Op = FederationOp(r.u8())
		f.RouterID = r.str()
		f.Patterns = r.strList()
		n := int(r.varint())
		if n > 0 {
			f.Revisions = make(map[string]uint64, n)
			for i := 0; i < n; i++ {
				addr := r.str()
				f.Revisions[addr] = r.u64()
			}
		}
		if r.u8() != 0 {
			since := r.u64()
			f.SinceRevision = &since
		}
		m.FederationSync = f
	case TypeBundle:
		n := int(r.varint())
		b := &Bundle{Frames: make([][]byte, n)}
		for i := range b.Frames {
			b.Frames[i] = r.blob()
		}
		m.Bundle = b
	case TypePing, TypePong:
		// no body
	case TypeAck:
		m.Ack = &Ack{CorrelationID: r.str(), Status: r.str()}
	case TypeError:
		e := &Error{}
		e.Code = int(r.varint())
		e.Message = r.str()
		e.Address = r.str()
		e.CorrelationID = r.str()
		m.Error = e
	case TypeQuery:
		m.Query = &Query{Pattern: r.str()}
	case TypeResult:
		res := &Result{}
		res.Pattern = r.str()
		n := int(r.varint())
		res.Rows = make([]ResultRow, n)
		for i := range res.Rows {
			res.Rows[i].Address = r.str()
			res.Rows[i].Fields = r.value().Map
		}
		m.Result = res
	default:
		return nil, NewError(ErrCodeProtocol, "unknown message type %d", typ)
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.pos != len(r.buf) {
		return nil, NewError(ErrCodeProtocol, "trailing bytes in %s body: %d unread", typ, len(r.buf)-r.pos)
	}
	return m, nil
}
