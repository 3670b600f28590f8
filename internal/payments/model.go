// Package payments owns the funding side of a booking: gateway checkout
// URLs, the reconciliation of gateway callbacks into appointment state, and
// the cash path. Every callback entry point funnels through one reconciler
// so the synchronous browser return and the async server notification can
// never disagree.
package payments

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a payment record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Method distinguishes pay-at-spa cash from the online gateway.
type Method string

const (
	MethodCash    Method = "cash"
	MethodGateway Method = "gateway"
)

// Payment is one funding attempt for an appointment or booking group.
// Failed attempts are kept; a new attempt gets a new order ref.
type Payment struct {
	ID             uuid.UUID
	OrderRef       string
	AppointmentID  uuid.UUID
	BookingGroupID *uuid.UUID
	ClientID       uuid.UUID
	AmountCents    int64
	Method         Method
	Status         Status
	GatewayTxnRef  string
	ResponseCode   string
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
