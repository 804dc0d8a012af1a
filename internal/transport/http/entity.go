package httpt

import (
	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/breaker"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ordersResponse keeps the HAL collection shape clients of the order
// listing already parse.
type ordersResponse struct {
	Embedded struct {
		CustomerOrders []*entity.CustomerOrder `json:"customerOrders"`
	} `json:"_embedded"`
}

type (
	healthStatus struct {
		Service string `json:"service"`
		Status  string `json:"status"`
		Date    string `json:"date"`
	}

	healthResponse struct {
		Health []healthStatus `json:"health"`
	}
)

type breakersResponse struct {
	Breakers []breaker.Stats `json:"breakers"`
}
