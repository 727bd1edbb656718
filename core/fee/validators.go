package fee

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-billing/core"
)

var (
	centsTag  = "cents"
	centsText = "{0} cannot have more than 2 decimal places"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(centsTag, centsValidation)
	core.RegisterCustomTranslation(validate, translator, centsTag, centsText)
}

// centsValidation rejects amounts finer than a cent. Non-decimal values are left to other tags.
func centsValidation(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return true
	}
	return d.Equal(d.Round(2))
}
