package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutRequest_Valid(t *testing.T) {
	v := New()

	req := CheckoutRequest{
		Items: []CartLine{
			{ItemID: "i1", PurchaseRequestID: "r1", Quantity: 1},
			{ItemID: "i2", PurchaseRequestID: "r2", Quantity: 2},
		},
		DeliveryAddress: "Hall 4, Room 12",
	}

	assert.NoError(t, v.Struct(req))
}

func TestCheckoutRequest_DuplicateItem(t *testing.T) {
	v := New()

	req := CheckoutRequest{
		Items: []CartLine{
			{ItemID: "i1", PurchaseRequestID: "r1", Quantity: 1},
			{ItemID: "i1", PurchaseRequestID: "r2", Quantity: 1},
		},
		DeliveryAddress: "Hall 4",
	}

	err := v.Struct(req)
	require.Error(t, err)
	assert.Equal(t, "unique_item_id", FieldErrors(err)["items"])
}

func TestCheckoutRequest_DuplicatePurchaseRequest(t *testing.T) {
	v := New()

	req := CheckoutRequest{
		Items: []CartLine{
			{ItemID: "i1", PurchaseRequestID: "r1", Quantity: 1},
			{ItemID: "i2", PurchaseRequestID: "r1", Quantity: 1},
		},
		DeliveryAddress: "Hall 4",
	}

	err := v.Struct(req)
	require.Error(t, err)
	assert.Equal(t, "unique_purchase_request_id", FieldErrors(err)["items"])
}

func TestCheckoutRequest_MissingFields(t *testing.T) {
	v := New()

	err := v.Struct(CheckoutRequest{Items: []CartLine{}})
	require.Error(t, err)
	fields := FieldErrors(err)
	assert.Equal(t, "min", fields["items"])
	assert.Equal(t, "required", fields["delivery_address"])
}

func TestFieldErrors_NestedLinePath(t *testing.T) {
	v := New()

	err := v.Struct(CheckoutRequest{
		Items: []CartLine{
			{ItemID: "i1", PurchaseRequestID: "r1", Quantity: 1},
			{ItemID: "i2", PurchaseRequestID: "r2", Quantity: 101},
		},
		DeliveryAddress: "Hall 4",
	})
	require.Error(t, err)
	assert.Equal(t, map[string]string{"items[1].quantity": "max"}, FieldErrors(err))
}

func TestMakeUnavailableRequest_UniqueIDs(t *testing.T) {
	v := New()

	assert.NoError(t, v.Struct(MakeUnavailableRequest{ItemIDs: []string{"i1", "i2"}}))

	err := v.Struct(MakeUnavailableRequest{ItemIDs: []string{"i1", "i1"}})
	require.Error(t, err)
	assert.Equal(t, "unique", FieldErrors(err)["item_ids"])
}

func TestAddRatingRequest_PointsBounds(t *testing.T) {
	v := New()

	for _, points := range []int{0, 6, -1} {
		err := v.Struct(AddRatingRequest{SellerID: "s", OrderID: "o", Points: points})
		assert.Error(t, err, "points=%d", points)
	}
	assert.NoError(t, v.Struct(AddRatingRequest{SellerID: "s", OrderID: "o", Points: 5}))
}

func TestUpdateStatusRequest_OneOf(t *testing.T) {
	v := New()

	assert.NoError(t, v.Struct(UpdateStatusRequest{Status: "accepted"}))
	assert.NoError(t, v.Struct(UpdateStatusRequest{Status: "rejected"}))
	assert.Error(t, v.Struct(UpdateStatusRequest{Status: "pending"}))
}

func TestBindAndValidate_WritesBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "malformed json", body: `{"username":`, wantCode: "invalid_request_body"},
		{name: "invalid fields", body: `{"username":"ab","usermail":"nope","password":"x"}`, wantCode: "validation_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/users/register", strings.NewReader(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var req RegisterRequest
			err := BindAndValidate(c, &req, New())
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantCode)
		})
	}
}
