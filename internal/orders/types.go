package orders

import (
	"sort"
	"time"
)

// Notification statuses. The business fields of an order never change after
// settlement; only this bookkeeping moves, driven by the worker.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Line is one purchased item inside an order. Price and seller are copied from
// the item at settlement time.
type Line struct {
	ItemID            string `dynamodbav:"item_id" json:"item_id"`
	Name              string `dynamodbav:"name" json:"name"`
	Price             int64  `dynamodbav:"price" json:"price"`
	Quantity          int    `dynamodbav:"quantity" json:"quantity"`
	SellerID          string `dynamodbav:"seller_id" json:"seller_id"`
	PurchaseRequestID string `dynamodbav:"purchase_request_id" json:"purchase_request_id"`
}

// Total is price times quantity.
func (l Line) Total() int64 {
	return l.Price * int64(l.Quantity)
}

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID            string    `dynamodbav:"order_id" json:"order_id"` // PK
	OrderNumber        int64     `dynamodbav:"order_number" json:"order_number"`
	UserID             string    `dynamodbav:"user_id" json:"user_id"` // GSI user-index
	Items              []Line    `dynamodbav:"items" json:"items"`
	SellerIDs          []string  `dynamodbav:"seller_ids" json:"seller_ids"`
	TotalPrice         int64     `dynamodbav:"total_price" json:"total_price"`
	DeliveryAddress    string    `dynamodbav:"delivery_address" json:"delivery_address"`
	NotificationStatus string    `dynamodbav:"notification_status" json:"-"`
	Attempts           int       `dynamodbav:"attempts,omitempty" json:"-"`
	CreatedAt          time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt          time.Time `dynamodbav:"updated_at" json:"-"`
}

// BySeller groups the order lines by seller id.
func (o Order) BySeller() map[string][]Line {
	out := make(map[string][]Line)
	for _, l := range o.Items {
		out[l.SellerID] = append(out[l.SellerID], l)
	}
	return out
}

// Subtotals returns what each seller is owed for this order.
func (o Order) Subtotals() map[string]int64 {
	out := make(map[string]int64)
	for _, l := range o.Items {
		out[l.SellerID] += l.Total()
	}
	return out
}

// Sellers returns the distinct seller ids in a stable order.
func (o Order) Sellers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range o.Items {
		if !seen[l.SellerID] {
			seen[l.SellerID] = true
			out = append(out, l.SellerID)
		}
	}
	sort.Strings(out)
	return out
}

// SellerView is an order as seen by one seller: only that seller's lines.
type SellerView struct {
	OrderID     string `json:"order_id"`
	OrderNumber int64  `json:"order_number"`
	Items       []Line `json:"items"`
}
