package service

import (
	"fmt"
	"regexp"

	"github.com/microservices-demo/orders/internal/entity"

	"github.com/shopspring/decimal"
)

var (
	shippingCost = decimal.RequireFromString("4.99")

	customerIDPattern = regexp.MustCompile(`[\w-]+$`)
)

// orderTotal is the sum of quantity times unit price over items plus the flat
// shipping charge. Items are taken as the cart returned them.
func orderTotal(items []entity.Item) float64 {
	total := decimal.Zero
	for _, item := range items {
		line := decimal.NewFromFloat(item.UnitPrice).Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(line)
	}
	return total.Add(shippingCost).InexactFloat64()
}

// customerID returns the trailing identifier of a customer self link.
func customerID(href string) (string, error) {
	id := customerIDPattern.FindString(href)
	if id == "" {
		return "", fmt.Errorf("%w: %q", entity.ErrShipmentLinkUnparseable, href)
	}
	return id, nil
}
