package entity

type PaymentRequest struct {
	Address  Address  `json:"address"`
	Card     Card     `json:"card"`
	Customer Customer `json:"customer"`
	Amount   float64  `json:"amount"`
}

type PaymentResponse struct {
	Authorised bool   `json:"authorised"`
	Message    string `json:"message"`
}
