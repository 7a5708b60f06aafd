package connection

// Inputs sends trading and funding requests on the private channel. Every
// call requires an authenticated Manager.
type Inputs struct {
	m *Manager
}

// Inputs returns the request helpers bound to m.
func (m *Manager) Inputs() *Inputs {
	return &Inputs{m: m}
}

// Input events.
const (
	InputSubmitOrder        = "on"
	InputUpdateOrder        = "ou"
	InputCancelOrder        = "oc"
	InputCancelOrderMulti   = "oc_multi"
	InputSubmitFundingOffer = "fon"
	InputCancelFundingOffer = "foc"
	InputCalc               = "calc"
)

// SubmitOrder places a new order. Required fields: type, symbol, amount, price.
func (i *Inputs) SubmitOrder(order map[string]any) error {
	return i.m.Input(InputSubmitOrder, order)
}

// UpdateOrder amends the order with the given id.
func (i *Inputs) UpdateOrder(id int64, changes map[string]any) error {
	data := make(map[string]any, len(changes)+1)
	for k, v := range changes {
		data[k] = v
	}
	data["id"] = id
	return i.m.Input(InputUpdateOrder, data)
}

// CancelOrder cancels one order by id.
func (i *Inputs) CancelOrder(id int64) error {
	return i.m.Input(InputCancelOrder, map[string]any{"id": id})
}

// CancelOrderMulti cancels orders by id, group id or client order id, or
// all of them when all is true.
func (i *Inputs) CancelOrderMulti(ids, gids []int64, cids [][]any, all bool) error {
	data := make(map[string]any, 4)
	if len(ids) > 0 {
		data["id"] = ids
	}
	if len(gids) > 0 {
		data["gid"] = gids
	}
	if len(cids) > 0 {
		data["cid"] = cids
	}
	if all {
		data["all"] = 1
	}
	return i.m.Input(InputCancelOrderMulti, data)
}

// SubmitFundingOffer places a funding offer. Required fields: type, symbol,
// amount, rate, period.
func (i *Inputs) SubmitFundingOffer(offer map[string]any) error {
	return i.m.Input(InputSubmitFundingOffer, offer)
}

func (i *Inputs) CancelFundingOffer(id int64) error {
	return i.m.Input(InputCancelFundingOffer, map[string]any{"id": id})
}

// Calc requests recalculation of the named balances, e.g. "margin_base" or
// "wallet_exchange_USD".
func (i *Inputs) Calc(names ...string) error {
	requests := make([][]string, len(names))
	for j, name := range names {
		requests[j] = []string{name}
	}
	return i.m.Input(InputCalc, requests)
}
