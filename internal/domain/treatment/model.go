package treatment

import (
	"time"

	"github.com/odonto/payments/pkg/money"
)

type Treatment struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	TotalCost money.Amount `json:"total_cost"`
	CreatedAt time.Time    `json:"created_at"`
}

type TreatmentUpdate struct {
	Name      *string       `json:"name"`
	TotalCost *money.Amount `json:"total_cost"`
}
