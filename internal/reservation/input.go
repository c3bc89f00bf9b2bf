package reservation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Input carries the caller-supplied values of a create or update.  UserID
// is optional on create and defaults to the acting user; it is ignored on
// update.  An empty Status means RESERVED on create and keeps the current
// status on update.
type Input struct {
	UserID          string    `json:"user_id" validate:"omitempty,max=64"`
	DisplayName     string    `json:"display_name" validate:"required,max=128"`
	ReservedCount   int       `json:"reserved_count" validate:"gt=0"`
	ReservationDate time.Time `json:"reservation_date" validate:"required"`
	Status          string    `json:"status" validate:"omitempty,oneof=PENDING RESERVED CANCELLED"`
	AmountCents     int64     `json:"amount_cents" validate:"gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so messages match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the input and fills defaults.  Every failure wraps
// ErrInvalidInput and names the offending fields.
func (in *Input) Validate() error {
	in.Status = strings.ToUpper(strings.TrimSpace(in.Status))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	in.ReservationDate = normalizeTime(in.ReservationDate)
	return nil
}

// statusOr returns the requested status, or def when none was given.
func (in Input) statusOr(def string) string {
	if in.Status == "" {
		return def
	}
	return in.Status
}

// normalizeTime drops sub-microsecond precision and the location so values
// round-trip through DATETIME(6) columns and JSON unchanged.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
