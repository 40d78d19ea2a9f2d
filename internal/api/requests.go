package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"example.com/runhub/internal/activitysync"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateRequest reports the first failing field of a tagged request struct.
func validateRequest(req any) error {
	err := requestValidator().Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Param() != "" {
			return fmt.Errorf("%s failed on '%s=%s' validation", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%s failed on '%s' validation", fe.Field(), fe.Tag())
	}
	return err
}

// ImportRequest is the optional payload for POST /v1/activities/import.
// After is a Unix timestamp in seconds, as Strava expects it.
type ImportRequest struct {
	PerPage int    `json:"per_page" validate:"omitempty,min=1,max=200"`
	Page    int    `json:"page" validate:"omitempty,min=1"`
	After   *int64 `json:"after" validate:"omitempty,gte=0"`
}

// Params converts the request into importer overrides; an empty request keeps the importer's own cursor.
func (r ImportRequest) Params() *activitysync.ImportParams {
	if r.PerPage == 0 && r.Page == 0 && r.After == nil {
		return nil
	}
	params := &activitysync.ImportParams{PerPage: r.PerPage, Page: r.Page}
	if r.After != nil {
		after := time.Unix(*r.After, 0).UTC()
		params.After = &after
	}
	return params
}
