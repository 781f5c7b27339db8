package items

import "time"

// Item is a listing stored in the items table. Name is display only; every
// mutation addresses ItemID.
type Item struct {
	ItemID    string    `dynamodbav:"item_id" json:"item_id"` // PK
	Name      string    `dynamodbav:"name" json:"name"`
	Category  string    `dynamodbav:"category,omitempty" json:"category,omitempty"`
	Condition string    `dynamodbav:"condition,omitempty" json:"condition,omitempty"`
	Grade     string    `dynamodbav:"grade,omitempty" json:"grade,omitempty"`
	Subject   string    `dynamodbav:"subject,omitempty" json:"subject,omitempty"`
	Price     int64     `dynamodbav:"price" json:"price"`
	Images    []string  `dynamodbav:"images,omitempty" json:"images"`
	OwnerID   string    `dynamodbav:"owner_id" json:"owner_id"` // GSI owner-index
	Available bool      `dynamodbav:"available" json:"available"`
	Reviews   []string  `dynamodbav:"reviews,omitempty" json:"reviews"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Patch holds the fields an owner may change. Nil pointers are left untouched.
type Patch struct {
	Name      *string
	Category  *string
	Condition *string
	Grade     *string
	Subject   *string
	Price     *int64
	Images    []string
}

// Comment is one entry of a batch comment submission.
type Comment struct {
	ItemID string
	Text   string
}

// CommentResult reports the outcome of a single comment.
type CommentResult struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
