package book

// comparePrice is the price a leg competes on: the actual fill once the
// venue confirmed it, the planned price once an opportunity is sized,
// otherwise the fee-adjusted best level.
func (o *Order) comparePrice() float64 {
	switch {
	case o.Status == StatusFilled:
		return o.ActualPriceWithFee
	case o.Found:
		return o.PriceWithFee
	default:
		return o.FirstPriceWithFee()
	}
}

// BetterAsk picks the cheaper buy leg; ties break on lexicographic venue id.
func BetterAsk(a, b *Order) *Order {
	switch {
	case a.comparePrice() < b.comparePrice():
		return a
	case b.comparePrice() < a.comparePrice():
		return b
	case a.Venue <= b.Venue:
		return a
	default:
		return b
	}
}

// BetterBid picks the richer sell leg; ties break on lexicographic venue id.
func BetterBid(a, b *Order) *Order {
	switch {
	case a.comparePrice() > b.comparePrice():
		return a
	case b.comparePrice() > a.comparePrice():
		return b
	case a.Venue <= b.Venue:
		return a
	default:
		return b
	}
}

// BestAsk returns the cheapest of the candidate buy legs, nil for none.
func BestAsk(orders []*Order) *Order {
	return best(orders, BetterAsk)
}

// BestBid returns the richest of the candidate sell legs, nil for none.
func BestBid(orders []*Order) *Order {
	return best(orders, BetterBid)
}

func best(orders []*Order, better func(a, b *Order) *Order) *Order {
	var out *Order
	for _, o := range orders {
		if o == nil {
			continue
		}
		if out == nil {
			out = o
			continue
		}
		out = better(out, o)
	}
	return out
}
