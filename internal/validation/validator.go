package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// Validator checks submissions and reports failures keyed by JSON path.
type Validator struct {
	v *validatorv10.Validate
}

// New returns a configured validator with the struct-level rules registered.
func New() *Validator {
	v := validatorv10.New()

	// report fields by their json names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// money fields are structs, which field tags do not reach; check them here
	v.RegisterStructValidation(submissionStructValidation, Submission{})
	v.RegisterStructValidation(snackItemStructValidation, SnackItem{})

	return &Validator{v: v}
}

func submissionStructValidation(sl validatorv10.StructLevel) {
	sub := sl.Current().Interface().(Submission)

	if sub.CustomerName != "" && strings.TrimSpace(sub.CustomerName) == "" {
		sl.ReportError(sub.CustomerName, "customerName", "CustomerName", "notblank", "")
	}
	if sub.TotalAmount != nil && sub.TotalAmount.IsNegative() {
		sl.ReportError(sub.TotalAmount, "totalAmount", "TotalAmount", "nonnegative", "")
	}
}

func snackItemStructValidation(sl validatorv10.StructLevel) {
	it := sl.Current().Interface().(SnackItem)

	if it.Name != "" && strings.TrimSpace(it.Name) == "" {
		sl.ReportError(it.Name, "name", "Name", "notblank", "")
	}
	if it.Price != nil && it.Price.IsNegative() {
		sl.ReportError(it.Price, "price", "Price", "nonnegative", "")
	}
}

// Check validates sub. It returns nil when sub is valid, otherwise a message per failing field.
func (v *Validator) Check(sub Submission) map[string]string {
	err := v.v.Struct(sub)
	if err == nil {
		return nil
	}
	return validationErrorsToMap(err)
}

// Decode parses a raw JSON submission. Type mismatches (a fractional
// quantity, a string total) are reported in the same shape as Check.
func Decode(raw []byte) (Submission, map[string]string) {
	var sub Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			return sub, map[string]string{te.Field: fmt.Sprintf("must be a %s", te.Type)}
		}
		return sub, map[string]string{"body": "invalid JSON: " + err.Error()}
	}
	return sub, nil
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		out["error"] = err.Error()
		return out
	}
	for _, fe := range ve {
		out[fieldPath(fe.Namespace())] = message(fe)
	}
	return out
}

// fieldPath drops the root struct name: "Submission.snackItems[0].name" -> "snackItems[0].name".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "nonnegative":
		return "must not be negative"
	case "notblank":
		return "must not be blank"
	}
	return fe.Error()
}
