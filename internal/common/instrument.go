package common

import "fmt"

// Instrument is a value type tagging a book and its orders/events. It has
// no behavior beyond equality and display, so it's safe to use as a map key.
type Instrument struct {
	Ticker    string
	AssetType AssetType
}

func (i Instrument) String() string {
	return fmt.Sprintf("%s:%s", i.AssetType, i.Ticker)
}

// ExchangeType tags which venue an order or book belongs to. Comparable
// value type; NullExchange is the zero value used when no venue is set.
type ExchangeType struct {
	Name string
}

var NullExchange = ExchangeType{}

func (e ExchangeType) String() string {
	if e.Name == "" {
		return "NULL"
	}
	return e.Name
}
