package ratings

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-student-marketplace/internal/orders"
)

// Bounds for a single vote.
const (
	MinPoints = 1
	MaxPoints = 5
)

var (
	ErrInvalidPoints    = fmt.Errorf("points must be between %d and %d", MinPoints, MaxPoints)
	ErrNotYourOrder     = errors.New("order belongs to another user")
	ErrSellerNotInOrder = errors.New("seller has no items in this order")
	ErrSelfRating       = errors.New("users cannot rate themselves")
)

// OrderReader loads orders for eligibility checks.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// Service validates who may rate whom before touching the aggregate.
type Service struct {
	store  *Store
	orders OrderReader
}

func NewService(store *Store, orders OrderReader) *Service {
	return &Service{store: store, orders: orders}
}

// Submit records a rating from the buyer of orderID for one of its sellers.
func (s *Service) Submit(ctx context.Context, raterID, sellerID, orderID string, points int) (Rating, error) {
	if points < MinPoints || points > MaxPoints {
		return Rating{}, ErrInvalidPoints
	}
	if raterID == sellerID {
		return Rating{}, ErrSelfRating
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Rating{}, err
	}
	if o.UserID != raterID {
		return Rating{}, ErrNotYourOrder
	}
	if len(o.BySeller()[sellerID]) == 0 {
		return Rating{}, ErrSellerNotInOrder
	}
	if err := s.store.Add(ctx, raterID, sellerID, orderID, points); err != nil {
		return Rating{}, err
	}
	return s.store.Get(ctx, sellerID)
}

// Get returns the seller's aggregate.
func (s *Service) Get(ctx context.Context, sellerID string) (Rating, error) {
	return s.store.Get(ctx, sellerID)
}
