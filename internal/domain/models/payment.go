package models

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	// PaymentRefundPending marks money collected for a booking that can no
	// longer be honoured. Refunds are settled manually by staff.
	PaymentRefundPending PaymentStatus = "refund_pending"
)

func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

const (
	MethodPending  = "pending"
	MethodMpesaSTK = "mpesa_stk"
	MethodMpesa    = "mpesa"
)

// Payment is one attempt to collect money for a booking or a parcel.
// Exactly one of BookingID and ParcelID is set.
type Payment struct {
	ID            int64         `json:"id"`
	BookingID     int64         `json:"booking_id,omitempty"`
	ParcelID      int64         `json:"parcel_id,omitempty"`
	UserID        int64         `json:"user_id,omitempty"`
	Amount        int64         `json:"amount"`
	Method        string        `json:"payment_method"`
	TransactionID string        `json:"transaction_id,omitempty"`
	ReceiptNumber string        `json:"receipt_number,omitempty"`
	PayerPhone    string        `json:"payer_phone,omitempty"`
	Status        PaymentStatus `json:"status"`
	ResultCode    string        `json:"result_code,omitempty"`
	ResultDesc    string        `json:"result_desc,omitempty"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// PaymentTotal aggregates payments sharing one status.
type PaymentTotal struct {
	Status PaymentStatus `json:"status"`
	Count  int           `json:"count"`
	Amount int64         `json:"amount"`
}
