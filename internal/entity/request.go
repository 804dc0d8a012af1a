package entity

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// NewOrderRequest references the resources an order is built from. ID
// correlates the request across services and doubles as its idempotency key.
type NewOrderRequest struct {
	ID       uuid.UUID `json:"id"`
	Customer string    `json:"customer"`
	Address  string    `json:"address"`
	Card     string    `json:"card"`
	Items    string    `json:"items"`
}

func (r *NewOrderRequest) Validate() error {
	refs := []struct {
		name  string
		value string
	}{
		{"customer", r.Customer},
		{"address", r.Address},
		{"card", r.Card},
		{"items", r.Items},
	}

	for _, ref := range refs {
		if ref.value == "" {
			return fmt.Errorf(
				"%w: order requires customer, address, card and items; %s is missing",
				ErrInvalidOrder, ref.name,
			)
		}
		u, err := url.Parse(ref.value)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s is not an absolute http url: %q", ErrInvalidOrder, ref.name, ref.value)
		}
	}
	return nil
}
