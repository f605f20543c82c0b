package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var requestValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the structural rules a request must satisfy before dispatch.
func (r *Request) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	if err := requestValidate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid request: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
