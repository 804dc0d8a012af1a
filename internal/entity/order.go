package entity

import (
	"time"

	"github.com/google/uuid"
)

type CustomerOrder struct {
	ID         uuid.UUID `json:"id"`
	CustomerID string    `json:"customerId"`
	Customer   Customer  `json:"customer"`
	Address    Address   `json:"address"`
	Card       Card      `json:"card"`
	Items      []Item    `json:"items"`
	Shipment   Shipment  `json:"shipment"`
	Date       time.Time `json:"date"`
	Total      float64   `json:"total"`
}
