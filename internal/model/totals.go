package model

import "github.com/shopspring/decimal"

// RunningTotal adds Delta to the cumulative quantity at Height.
type RunningTotal struct {
	Height int32
	Delta  decimal.Decimal
}
