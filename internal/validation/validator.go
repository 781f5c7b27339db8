package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a validator that reports fields by their JSON names and
// enforces the cart rules the tags cannot express.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(jsonName)

	// a cart may reference each item and each purchase request at most once
	v.RegisterStructValidation(checkoutStructValidation, CheckoutRequest{})

	return v
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

func checkoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CheckoutRequest)

	items := make(map[string]bool, len(req.Items))
	requests := make(map[string]bool, len(req.Items))
	for _, line := range req.Items {
		if line.ItemID != "" && items[line.ItemID] {
			sl.ReportError(req.Items, "items", "Items", "unique_item_id", line.ItemID)
			return
		}
		if line.PurchaseRequestID != "" && requests[line.PurchaseRequestID] {
			sl.ReportError(req.Items, "items", "Items", "unique_purchase_request_id", line.PurchaseRequestID)
			return
		}
		items[line.ItemID] = true
		requests[line.PurchaseRequestID] = true
	}
}
