// Package validation configures request validation for the HTTP surface.
package validation

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tenisdos/shop-checkout/internal/checkout"
)

// New returns a configured validator with the cart struct-level check
// registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterStructValidation(initiateStructValidation, checkout.InitiateRequest{})
	return v
}

// initiateStructValidation verifies every cart line carries a parseable,
// positive unit price. Quantities and required fields are covered by field
// tags.
func initiateStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(checkout.InitiateRequest)
	for i, ln := range req.Lines {
		price, err := decimal.NewFromString(ln.UnitPrice)
		if err != nil || price.LessThanOrEqual(decimal.Zero) {
			sl.ReportError(ln.UnitPrice, fmt.Sprintf("lines[%d].unit_price", i), "UnitPrice", "positive_decimal", ln.UnitPrice)
		}
	}
}

// BindAndValidate binds the JSON body into out and runs validation. On
// failure it writes a 400 response and returns an error for the handler to
// short-circuit.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request_body",
			"msg":   err.Error(),
		})
		return err
	}
	if err := v.Struct(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"fields": validationErrorsToMap(err),
		})
		return err
	}
	return nil
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	if ve, ok := err.(validatorv10.ValidationErrors); ok {
		for _, fe := range ve {
			out[fe.StructNamespace()] = fe.Error()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}
