package engine

import (
	"container/list"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Book is one instrument's resting orders: a sorted slice of price levels
// per side, each level a FIFO queue in arrival order, plus an id index so
// cancellation never scans. The book only indexes orders; the lane's arena
// owns the records.
type Book struct {
	symbol string
	bids   *bookSide
	asks   *bookSide
	index  map[uuid.UUID]*entryRef
}

func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   &bookSide{desc: true},
		asks:   &bookSide{desc: false},
		index:  make(map[uuid.UUID]*entryRef),
	}
}

type entryRef struct {
	order *Order
	elem  *list.Element
	level *priceLevel
	side  *bookSide
}

type priceLevel struct {
	price  decimal.Decimal
	orders *list.List
	qty    decimal.Decimal // aggregate resting quantity, kept for snapshots
}

// bookSide keeps levels sorted best-first: descending prices for bids,
// ascending for asks.
type bookSide struct {
	levels []*priceLevel
	desc   bool
}

func (s *bookSide) find(price decimal.Decimal) (int, bool) {
	idx := sort.Search(len(s.levels), func(i int) bool {
		cmp := s.levels[i].price.Cmp(price)
		if s.desc {
			return cmp <= 0
		}
		return cmp >= 0
	})
	if idx < len(s.levels) && s.levels[idx].price.Equal(price) {
		return idx, true
	}
	return idx, false
}

func (s *bookSide) insert(order *Order) (*priceLevel, *list.Element) {
	idx, ok := s.find(order.Price)
	var level *priceLevel
	if ok {
		level = s.levels[idx]
	} else {
		level = &priceLevel{price: order.Price, orders: list.New(), qty: decimal.Zero}
		s.levels = append(s.levels, nil)
		copy(s.levels[idx+1:], s.levels[idx:])
		s.levels[idx] = level
	}
	level.qty = level.qty.Add(order.Remaining())
	return level, level.orders.PushBack(order)
}

func (s *bookSide) dropIfEmpty(level *priceLevel) {
	if level.orders.Len() > 0 {
		return
	}
	idx, ok := s.find(level.price)
	if !ok {
		return
	}
	s.levels = append(s.levels[:idx], s.levels[idx+1:]...)
}

func (s *bookSide) best() *priceLevel {
	if len(s.levels) == 0 {
		return nil
	}
	return s.levels[0]
}

func (b *Book) side(side Side) *bookSide {
	if side == SideBuy {
		return b.bids
	}
	return b.asks
}

// Insert rests a limit order at its price level, appended behind earlier
// arrivals at the same price.
func (b *Book) Insert(order *Order) {
	if _, exists := b.index[order.ID]; exists {
		return
	}
	side := b.side(order.Side)
	level, elem := side.insert(order)
	b.index[order.ID] = &entryRef{order: order, elem: elem, level: level, side: side}
}

// Cancel removes an order by id regardless of queue position, returning the
// removed order or nil when it is not resting.
func (b *Book) Cancel(orderID uuid.UUID) *Order {
	ref, ok := b.index[orderID]
	if !ok {
		return nil
	}
	ref.level.orders.Remove(ref.elem)
	ref.level.qty = ref.level.qty.Sub(ref.order.Remaining())
	ref.side.dropIfEmpty(ref.level)
	delete(b.index, orderID)
	return ref.order
}

// Contains reports whether the order currently rests in the book.
func (b *Book) Contains(orderID uuid.UUID) bool {
	_, ok := b.index[orderID]
	return ok
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	level := b.bids.best()
	if level == nil {
		return decimal.Decimal{}, false
	}
	return level.price, true
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	level := b.asks.best()
	if level == nil {
		return decimal.Decimal{}, false
	}
	return level.price, true
}

// counterparty walks the side opposite the taker in price-time order and
// returns the first maker that crosses the taker's price and is not owned
// by the taker. Own orders are skipped in place, never consumed.
func (b *Book) counterparty(taker *Order) *Order {
	opposite := b.side(taker.Side.Opposite())
	for _, level := range opposite.levels {
		if !crosses(taker, level.price) {
			return nil
		}
		for e := level.orders.Front(); e != nil; e = e.Next() {
			maker := e.Value.(*Order)
			if maker.AccountID == taker.AccountID {
				continue
			}
			if maker.Remaining().IsPositive() {
				return maker
			}
		}
	}
	return nil
}

// reduce shrinks the maker's level aggregate after a fill and removes the
// order once nothing remains.
func (b *Book) reduce(orderID uuid.UUID, qty decimal.Decimal) {
	ref, ok := b.index[orderID]
	if !ok {
		return
	}
	ref.level.qty = ref.level.qty.Sub(qty)
	if !ref.order.Remaining().IsPositive() {
		ref.level.orders.Remove(ref.elem)
		ref.side.dropIfEmpty(ref.level)
		delete(b.index, orderID)
	}
}

// Depth counts resting orders on one side.
func (b *Book) Depth(side Side) int {
	count := 0
	for _, ref := range b.index {
		if ref.order.Side == side {
			count++
		}
	}
	return count
}

// LevelView is one aggregated price level of a depth snapshot.
type LevelView struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   int
}

// DepthView is an immutable copy of the book's aggregates, safe to hand to
// external consumers.
type DepthView struct {
	Symbol string
	Bids   []LevelView
	Asks   []LevelView
}

func (b *Book) snapshot() DepthView {
	view := DepthView{
		Symbol: b.symbol,
		Bids:   make([]LevelView, 0, len(b.bids.levels)),
		Asks:   make([]LevelView, 0, len(b.asks.levels)),
	}
	for _, level := range b.bids.levels {
		view.Bids = append(view.Bids, LevelView{Price: level.price, Quantity: level.qty, Orders: level.orders.Len()})
	}
	for _, level := range b.asks.levels {
		view.Asks = append(view.Asks, LevelView{Price: level.price, Quantity: level.qty, Orders: level.orders.Len()})
	}
	return view
}

// crosses reports whether the taker's price admits a match at the maker
// price. Market takers cross every level.
func crosses(taker *Order, makerPrice decimal.Decimal) bool {
	if taker.Kind == KindMarket {
		return true
	}
	if taker.Side == SideBuy {
		return makerPrice.LessThanOrEqual(taker.Price)
	}
	return makerPrice.GreaterThanOrEqual(taker.Price)
}
