package validation

// RegisterRequest is the payload for POST /users/register
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Usermail string `json:"usermail" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"` // bcrypt truncates past 72 bytes
}

// LoginRequest is the payload for POST /users/login
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// UpdateUserRequest is the payload for PUT /users/update. Empty fields are left untouched.
type UpdateUserRequest struct {
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"omitempty,min=8,max=72"`
	About    string `json:"about" validate:"omitempty,max=500"`
}

// AddBalanceRequest is the payload for POST /users/add_balance
type AddBalanceRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0,lte=100000"`
}

// CreateItemRequest is the payload for POST /items/add
type CreateItemRequest struct {
	Name      string   `json:"name" validate:"required,max=120"`
	Category  string   `json:"category" validate:"max=60"`
	Condition string   `json:"condition" validate:"max=60"`
	Grade     string   `json:"grade" validate:"max=60"`
	Subject   string   `json:"subject" validate:"max=60"`
	Price     int64    `json:"price" validate:"gte=0"`
	Images    []string `json:"images" validate:"max=10,dive,url"`
}

// UpdateItemRequest is the payload for PUT /items/:id. Nil fields are left untouched.
type UpdateItemRequest struct {
	Name      *string  `json:"name" validate:"omitempty,min=1,max=120"`
	Category  *string  `json:"category" validate:"omitempty,max=60"`
	Condition *string  `json:"condition" validate:"omitempty,max=60"`
	Grade     *string  `json:"grade" validate:"omitempty,max=60"`
	Subject   *string  `json:"subject" validate:"omitempty,max=60"`
	Price     *int64   `json:"price" validate:"omitempty,gte=0"`
	Images    []string `json:"images" validate:"omitempty,max=10,dive,url"`
}

// CommentEntry is one element of an add_comment batch.
type CommentEntry struct {
	ItemID  string `json:"item_id" validate:"required"`
	Comment string `json:"comment" validate:"required,max=1000"`
}

// AddCommentsRequest is the payload for POST /items/add_comment
type AddCommentsRequest struct {
	Comments []CommentEntry `json:"comments" validate:"required,min=1,max=25,dive"`
}

// MakeUnavailableRequest is the payload for PUT /items/make_unavailable
type MakeUnavailableRequest struct {
	ItemIDs []string `json:"item_ids" validate:"required,min=1,max=100,unique,dive,required"`
}

// CreatePurchaseRequest is the payload for POST /purchase-requests.
// SellerID is optional; when present it must match the item owner.
type CreatePurchaseRequest struct {
	ItemID   string `json:"item_id" validate:"required"`
	SellerID string `json:"seller_id"`
	Quantity int    `json:"quantity" validate:"required,min=1,max=100"`
}

// UpdateStatusRequest is the payload for PATCH /purchase-requests/:id/status
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=accepted rejected"`
}

// UpdateOrderedRequest is the payload for PATCH /purchase-requests/:id/ordered
type UpdateOrderedRequest struct {
	Ordered *bool `json:"ordered" validate:"required"`
}

// CartLine is a single line of a checkout cart. Price and seller are resolved server-side.
type CartLine struct {
	ItemID            string `json:"item_id" validate:"required"`
	PurchaseRequestID string `json:"purchase_request_id" validate:"required"`
	Quantity          int    `json:"quantity" validate:"required,min=1,max=100"`
}

// CheckoutRequest is the payload for POST /orders/add
type CheckoutRequest struct {
	Items           []CartLine `json:"items" validate:"required,min=1,max=20,dive"`
	DeliveryAddress string     `json:"delivery_address" validate:"required,max=500"`
}

// AddRatingRequest is the payload for POST /ratings/add
type AddRatingRequest struct {
	SellerID string `json:"seller_id" validate:"required"`
	OrderID  string `json:"order_id" validate:"required"`
	Points   int    `json:"points" validate:"required,min=1,max=5"`
}

// TextEmailRequest is the payload for POST /email/text
type TextEmailRequest struct {
	SellerID string `json:"seller_id" validate:"required"`
	Subject  string `json:"subject" validate:"required,max=200"`
	Text     string `json:"text" validate:"required,max=10000"`
}

// HTMLEmailRequest is the payload for POST /email/html
type HTMLEmailRequest struct {
	SellerID string `json:"seller_id" validate:"required"`
	Subject  string `json:"subject" validate:"required,max=200"`
	HTML     string `json:"html" validate:"required,max=50000"`
}
