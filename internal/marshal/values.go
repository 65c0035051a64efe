// Package marshal converts between typed fields and the host value model
// shared by every scripting backend.
//
// Host values:
//
//	null of any type        nil
//	STRING                  string
//	INTEGER, LONG           int64
//	FLOAT, DOUBLE           float64
//	BOOLEAN                 bool
//	BYTE_ARRAY              []byte
//	DECIMAL                 Decimal
//	DATE, DATETIME, TIME    Date, Datetime, Time
//	LIST                    *ListView
//	MAP, ORDERED_MAP        *MapView
//
// Views are live: mutating them mutates the field tree they were built from.
package marshal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nfrund/scriptproc/internal/field"
)

// Decimal carries a DECIMAL value through a script without float rounding.
type Decimal struct {
	decimal.Decimal
}

// Date carries a DATE value.
type Date struct {
	time.Time
}

func (d Date) String() string { return field.FormatTime(field.TypeDate, d.Time) }

// Datetime carries a DATETIME value.
type Datetime struct {
	time.Time
}

func (d Datetime) String() string { return field.FormatTime(field.TypeDatetime, d.Time) }

// Time carries a TIME value.
type Time struct {
	time.Time
}

func (t Time) String() string { return field.FormatTime(field.TypeTime, t.Time) }

// Pair is one entry of a script literal mapping, in script order.
type Pair struct {
	Key   string
	Value any
}
