package batch

import (
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/cohortly/cohortly/core"
)

var (
	batchStatusTag  = "batchstatus"
	batchStatusText = "{0} must be one of planned, training, nesting, production, completed or cancelled"

	endDateTag  = "enddate"
	endDateText = "end date must not be before start date"
)

// InitValidators registers the batch validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(batchStatusTag, batchStatusValidation)
	core.RegisterCustomTranslation(validate, translator, batchStatusTag, batchStatusText)

	validate.RegisterStructValidation(batchStructValidation, NewBatch{}, UpdateBatch{})
	core.RegisterCustomTranslation(validate, translator, endDateTag, endDateText)
}

func batchStatusValidation(fl validator.FieldLevel) bool {
	return Status(fl.Field().String()).IsValid()
}

func batchStructValidation(sl validator.StructLevel) {
	var start, end time.Time
	switch b := sl.Current().Interface().(type) {
	case NewBatch:
		start, end = b.StartDate, b.EndDate
	case UpdateBatch:
		start, end = b.StartDate, b.EndDate
	}
	if !start.IsZero() && !end.IsZero() && core.Date(end).Before(core.Date(start)) {
		sl.ReportError(end, "end_date", "EndDate", endDateTag, "")
	}
}
