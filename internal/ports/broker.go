package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/volbalance/pkg/types"
)

// BrokerOrderRequest is what the engine asks a broker to place.
type BrokerOrderRequest struct {
	PositionID     string
	AssetSymbol    string
	Side           types.OrderSide
	Qty            decimal.Decimal
	IdempotencyKey string
}

// BrokerAck is the broker's immediate acknowledgement of a submitted order.
type BrokerAck struct {
	BrokerOrderID string
	Status        string
}

// BrokerFill describes a fill reported by the broker, either synchronously
// or via reconciliation polling.
type BrokerFill struct {
	BrokerOrderID string
	Qty           decimal.Decimal
	Price         decimal.Decimal
	Commission    decimal.Decimal
}

// BrokerOrderStatus is a reconciliation snapshot of a broker-side order.
type BrokerOrderStatus struct {
	BrokerOrderID string
	Status        string
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Fills         []BrokerFill
}

// Broker is the abstract boundary to an order-execution venue (a stub
// simulator or a real brokerage API). The engine never reaches through it
// for anything but order placement, cancellation, and status polling.
type Broker interface {
	// PlaceOrder submits a new order and returns the broker's acknowledgement.
	PlaceOrder(ctx context.Context, req BrokerOrderRequest) (BrokerAck, error)

	// CancelOrder requests cancellation of a previously placed order.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// OrderStatus polls the current broker-side state of an order, used by
	// the reconciliation worker (C12) to detect drift from local state.
	OrderStatus(ctx context.Context, brokerOrderID string) (BrokerOrderStatus, error)

	// Ping reports whether the broker endpoint is currently reachable.
	Ping(ctx context.Context) error
}
