package heap

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/tuannm99/heapscan/internal/record"
	"github.com/tuannm99/heapscan/internal/storage"
)

// HeapPage = Page + Schema, row-level wrapper on top of Page.
// Operates on rows ([]any) instead of raw []byte.
type HeapPage struct {
	Page   *storage.Page
	Schema record.Schema
}

func NewHeapPage(p *storage.Page, s record.Schema) HeapPage {
	return HeapPage{Page: p, Schema: s}
}

func (hp *HeapPage) InsertRow(values []any) (int, error) {
	data, err := record.EncodeRow(hp.Schema, values)
	if err != nil {
		return -1, err
	}
	return hp.Page.InsertTuple(data)
}

func (hp *HeapPage) ReadRow(slot int) ([]any, error) {
	data, err := hp.Page.ReadTuple(slot)
	if err != nil {
		return nil, err
	}
	return record.DecodeRow(hp.Schema, data)
}

func (hp *HeapPage) UpdateRow(slot int, values []any) error {
	data, err := record.EncodeRow(hp.Schema, values)
	if err != nil {
		return err
	}
	return hp.Page.UpdateTuple(slot, data)
}

func (hp *HeapPage) DeleteRow(slot int) error {
	return hp.Page.DeleteTuple(slot)
}

// Cursor returns a fresh cursor over the page's rows in slot order.
func (hp *HeapPage) Cursor() *PageCursor {
	return &PageCursor{hp: *hp}
}

// PageCursor yields every logical row of one page exactly once. A row that
// was moved by a growing update is reported under its original slot, and
// the slot actually holding its bytes is skipped.
type PageCursor struct {
	hp      HeapPage
	slot    int
	targets mapset.Set[int] // nil until first Next
}

func (c *PageCursor) loadTargets() error {
	c.targets = mapset.NewThreadUnsafeSet[int]()
	for i := 0; i < c.hp.Page.NumSlots(); i++ {
		target, ok, err := c.hp.Page.RedirectTarget(i)
		if err != nil {
			return err
		}
		if ok {
			c.targets.Add(target)
		}
	}
	return nil
}

// Next returns the next row. ok=false once the page is exhausted.
func (c *PageCursor) Next() (t Tuple, ok bool, err error) {
	if c.targets == nil {
		if err := c.loadTargets(); err != nil {
			return Tuple{}, false, err
		}
	}

	page := c.hp.Page
	for c.slot < page.NumSlots() {
		slot := c.slot
		c.slot++

		_, moved, err := page.RedirectTarget(slot)
		if err != nil {
			return Tuple{}, false, err
		}
		if !moved {
			live, err := page.IsLiveSlot(slot)
			if err != nil {
				return Tuple{}, false, err
			}
			if !live || c.targets.Contains(slot) {
				continue
			}
		}

		row, err := c.hp.ReadRow(slot)
		if err != nil {
			return Tuple{}, false, err
		}
		return Tuple{RID: RID{PageNo: page.PageNo(), Slot: uint16(slot)}, Values: row}, true, nil
	}
	return Tuple{}, false, nil
}
