package models

const (
	ParcelPendingPayment = "pending_payment"
	ParcelCreated        = "created"

	ParcelPaymentUnpaid = "unpaid"
	ParcelPaymentPaid   = "paid"
	ParcelPaymentFailed = "failed"
)

// Parcel is a consignment whose delivery fee is collected through a Payment.
type Parcel struct {
	ID            int64  `json:"id"`
	RefCode       string `json:"ref_code"`
	SenderName    string `json:"sender_name"`
	SenderPhone   string `json:"sender_phone"`
	ReceiverName  string `json:"receiver_name"`
	ReceiverPhone string `json:"receiver_phone"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	Price         int64  `json:"price"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	CreatedBy     int64  `json:"created_by,omitempty"`
}
