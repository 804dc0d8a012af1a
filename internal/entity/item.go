package entity

type Item struct {
	ID        string  `json:"id,omitempty"`
	ItemID    string  `json:"itemId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}
