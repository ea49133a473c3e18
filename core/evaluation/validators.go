package evaluation

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/cohortly/cohortly/core"
)

var (
	kindTag  = "evaluationkind"
	kindText = "{0} must be one of mock_call, product_knowledge, soft_skills or final"
)

// InitValidators registers the evaluation validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(kindTag, func(fl validator.FieldLevel) bool {
		return Kind(fl.Field().String()).IsValid()
	})
	core.RegisterCustomTranslation(validate, translator, kindTag, kindText)
}
