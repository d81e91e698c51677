package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is one product in a user's cart, read together with the product
// columns that order items snapshot.
type CartLine struct {
	ID          int             `json:"id"`
	ProductID   int             `json:"product_id"`
	ProductName string          `json:"product_name"`
	ProductSKU  string          `json:"product_sku"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	AddedAt     time.Time       `json:"added_at"`
}

// LineTotal returns price times quantity.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Cart struct {
	ID     int        `json:"id"`
	UserID int        `json:"user_id"`
	Lines  []CartLine `json:"lines"`
}

// Subtotal sums every line total.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}
