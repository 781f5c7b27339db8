package requests

import "time"

// Purchase request statuses. pending moves to accepted or rejected once and never back.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// PurchaseRequest is the item stored in the purchase requests table.
type PurchaseRequest struct {
	RequestID string    `dynamodbav:"request_id" json:"request_id"` // PK
	ItemID    string    `dynamodbav:"item_id" json:"item_id"`
	BuyerID   string    `dynamodbav:"buyer_id" json:"buyer_id"`   // GSI buyer-index
	SellerID  string    `dynamodbav:"seller_id" json:"seller_id"` // GSI seller-index
	Quantity  int       `dynamodbav:"quantity" json:"quantity"`
	Status    string    `dynamodbav:"status" json:"status"`
	Ordered   bool      `dynamodbav:"ordered" json:"ordered"`
	OrderID   string    `dynamodbav:"order_id,omitempty" json:"order_id,omitempty"` // set at settlement
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}
