package decision

// Decision is a closed sum type: Sell(reason), BuyMore(size), or Hold.
// Implemented as an interface with an unexported marker method rather than
// a struct with nullable fields, per the "tagged decision variants"
// redesign note — adding a new variant forces every switch to handle it.
type Decision interface {
	decision()
}

// Sell exits the position entirely. Reason is a short machine-readable tag
// such as "TIMEOUT", "STOP_LOSS", or "CMD_SELL:<payload reason>".
type Sell struct {
	Reason string
}

func (Sell) decision() {}

// BuyMore adds ExtraSize of quote-asset exposure to the position.
type BuyMore struct {
	ExtraSize float64
}

func (BuyMore) decision() {}

// Hold takes no action beyond refreshing runtime fields.
type Hold struct{}

func (Hold) decision() {}
