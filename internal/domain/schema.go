package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	TableClicks      = "clicks"
	TableCartAdds    = "cart_adds"
	TableOrders      = "orders"
	TableImpressions = "impressions"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// report column names instead of Go field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// ValidateRow checks one input record against its table schema and returns a
// schema error naming the first offending field.
func ValidateRow(table string, row int, rec any) error {
	err := validate.Struct(rec)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ErrSchema(table, row, "", err.Error())
	}

	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return ErrSchema(table, row, field, schemaMessage(field, fe.Tag()))
}

// ValidateTable validates every row of a table, stopping at the first failure.
func ValidateTable[T any](table string, rows []T) error {
	for i := range rows {
		if err := ValidateRow(table, i, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func schemaMessage(field, tag string) string {
	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be a positive identifier", field)
	case "gte":
		return fmt.Sprintf("%s must not be negative", field)
	default:
		return fmt.Sprintf("%s failed %q check", field, tag)
	}
}
