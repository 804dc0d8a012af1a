package entity

type Shipment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
