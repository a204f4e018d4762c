package storage

import "encoding/binary"

// Header offsets
const (
	offFlags   = 0
	offPageNo  = 2
	offLower   = 6
	offUpper   = 8
	offSpecial = 10
)

// Slot flags
const (
	SlotFlagNormal  uint16 = 0
	SlotFlagDeleted uint16 = 1 << 0
	SlotFlagMoved   uint16 = 1 << 1
)

type Slot struct {
	Offset uint16
	Length uint16
	Flags  uint16
}

// +------------------+ 0
// | header (12B)     |
// | slots[]          | <-- lower
// +------------------+
// |   free space     |
// +------------------+ <-- upper
// |   tuple data     |
// |   (grows down)   |
// +------------------+ PageSize
//
// A MOVED slot stores the index of its redirect target in Offset, Length=0.
type Page struct {
	Buf []byte
}

func NewPage(buf []byte, pageNo uint32) (*Page, error) {
	if len(buf) != PageSize {
		return nil, ErrWrongSize
	}
	p := &Page{Buf: buf}
	p.init(pageNo)
	return p, nil
}

func (p *Page) u16(off int) uint16 { return binary.LittleEndian.Uint16(p.Buf[off:]) }
func (p *Page) putU16(off int, v uint16) { binary.LittleEndian.PutUint16(p.Buf[off:], v) }
func (p *Page) lower() uint16 { return p.u16(offLower) }
func (p *Page) upper() uint16 { return p.u16(offUpper) }
func (p *Page) setLower(v uint16) { p.putU16(offLower, v) }
func (p *Page) setUpper(v uint16) { p.putU16(offUpper, v) }
func (p *Page) PageNo() uint32 { return binary.LittleEndian.Uint32(p.Buf[offPageNo:]) }
func (p *Page) setPageNo(v uint32) { binary.LittleEndian.PutUint32(p.Buf[offPageNo:], v) }
func (p *Page) slotOff(idx int) int { return HeaderSize + idx*SlotSize }
func (p *Page) FreeSpace() int { return int(p.upper()) - int(p.lower()) }
func (p *Page) NumSlots() int { return (int(p.lower()) - HeaderSize) / SlotSize }
func (p *Page) IsUninitialized() bool { return p.lower() == 0 && p.upper() == 0 }

func (p *Page) init(pageNo uint32) {
	clear(p.Buf)
	p.putU16(offFlags, 0)
	p.setPageNo(pageNo)
	p.setLower(HeaderSize)
	// upper/special hold PageSize; 8192 fits in u16
	p.setUpper(PageSize)
	p.putU16(offSpecial, PageSize)
}

// CopyFrom overwrites this page's bytes with src. Used to roll a frame back
// to its on-disk image.
func (p *Page) CopyFrom(src *Page) {
	copy(p.Buf, src.Buf)
}

func (p *Page) getSlot(i int) (Slot, error) {
	if i < 0 || i >= p.NumSlots() {
		return Slot{}, ErrBadSlot
	}
	o := p.slotOff(i)
	if o+SlotSize > int(p.lower()) || o+SlotSize > len(p.Buf) {
		return Slot{}, ErrCorruption
	}
	return Slot{
		Offset: p.u16(o),
		Length: p.u16(o + 2),
		Flags:  p.u16(o + 4),
	}, nil
}

func (p *Page) putSlot(idx int, s Slot) error {
	// idx == NumSlots means append
	if idx < 0 || idx > p.NumSlots() {
		return ErrBadSlot
	}
	off := p.slotOff(idx)
	if idx == p.NumSlots() && off+SlotSize > int(p.upper()) {
		return ErrNoSpace
	}
	if off+SlotSize > len(p.Buf) {
		return ErrCorruption
	}
	p.putU16(off, s.Offset)
	p.putU16(off+2, s.Length)
	p.putU16(off+4, s.Flags)
	return nil
}

// IsLiveSlot reports whether slot holds a tuple that a scan should return.
// Deleted slots and redirect heads are not live; the redirect target is.
func (p *Page) IsLiveSlot(slot int) (bool, error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return false, err
	}
	return s.Flags == SlotFlagNormal && s.Length > 0, nil
}

// RedirectTarget returns the slot a MOVED slot points at. ok is false for
// any other slot.
func (p *Page) RedirectTarget(slot int) (target int, ok bool, err error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return -1, false, err
	}
	if s.Flags != SlotFlagMoved {
		return -1, false, nil
	}
	return int(s.Offset), true, nil
}

func (p *Page) InsertTuple(tup []byte) (int, error) {
	if len(tup) == 0 {
		return -1, ErrCorruption
	}
	if len(tup) > PageSize-HeaderSize-SlotSize {
		return -1, ErrTupleTooLarge
	}
	if p.FreeSpace() < len(tup)+SlotSize {
		return -1, ErrNoSpace
	}
	u := int(p.upper()) - len(tup)
	copy(p.Buf[u:], tup)
	p.setUpper(uint16(u))

	idx := p.NumSlots()
	if err := p.putSlot(idx, Slot{Offset: uint16(u), Length: uint16(len(tup)), Flags: SlotFlagNormal}); err != nil {
		return -1, err
	}
	p.setLower(p.lower() + SlotSize)
	return idx, nil
}

// resolve follows redirects from slot and returns the index holding the data.
func (p *Page) resolve(slot int) (int, Slot, error) {
	for hops := 0; ; hops++ {
		s, err := p.getSlot(slot)
		if err != nil {
			return -1, Slot{}, err
		}
		switch s.Flags {
		case SlotFlagNormal:
			if s.Offset == 0 || s.Length == 0 {
				return -1, Slot{}, ErrCorruption
			}
			return slot, s, nil
		case SlotFlagMoved:
			if s.Length != 0 || s.Offset == 0 || hops > p.NumSlots() {
				return -1, Slot{}, ErrCorruption
			}
			slot = int(s.Offset)
		case SlotFlagDeleted:
			return -1, Slot{}, ErrBadSlot
		default:
			return -1, Slot{}, ErrCorruption
		}
	}
}

// ReadTuple returns a view into the page buffer; callers copy if they keep it
// past the page's pin.
func (p *Page) ReadTuple(slot int) ([]byte, error) {
	_, s, err := p.resolve(slot)
	if err != nil {
		return nil, err
	}
	start, end := int(s.Offset), int(s.Offset)+int(s.Length)
	if start < int(p.upper()) || end > PageSize {
		return nil, ErrCorruption
	}
	return p.Buf[start:end], nil
}

// UpdateTuple rewrites in place when the new tuple fits, otherwise it stores
// the tuple in a new slot and turns slot into a redirect so the row keeps its id.
func (p *Page) UpdateTuple(slot int, tup []byte) error {
	target, s, err := p.resolve(slot)
	if err != nil {
		return err
	}
	if len(tup) > 0 && len(tup) <= int(s.Length) {
		copy(p.Buf[int(s.Offset):], tup)
		return p.putSlot(target, Slot{Offset: s.Offset, Length: uint16(len(tup)), Flags: SlotFlagNormal})
	}

	newSlot, err := p.InsertTuple(tup)
	if err != nil {
		return err
	}
	if target != slot {
		if err := p.putSlot(target, Slot{Flags: SlotFlagDeleted}); err != nil {
			return err
		}
	}
	return p.putSlot(slot, Slot{Offset: uint16(newSlot), Flags: SlotFlagMoved})
}

func (p *Page) DeleteTuple(slot int) error {
	target, _, err := p.resolve(slot)
	if err != nil {
		return err
	}
	if target != slot {
		if err := p.putSlot(target, Slot{Flags: SlotFlagDeleted}); err != nil {
			return err
		}
	}
	return p.putSlot(slot, Slot{Flags: SlotFlagDeleted})
}
