package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ELadrimonos/national-document-validator/validators"
	"github.com/ELadrimonos/national-document-validator/validators/es"
)

type contextKey string

const signupRequestKey contextKey = "signupRequest"

// Identity documents are checked against the Spanish DNI rules only.
const documentCountry = "es"

const minFullNameRunes = 3

var (
	emailRe   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	documents = newDocumentValidator()
)

func newDocumentValidator() *validators.Validator {
	v := validators.NewValidator()
	v.Register(documentCountry, &es.ESValidator{})
	return v
}

// ValidateSignupRequest decodes and normalises the signup body, rejecting
// it with 400 unless DNI, full name and email all pass. The accepted
// request travels to next in the request context.
func ValidateSignupRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SignupRequest
		if err := decodeJSON(r, &req); err != nil {
			RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.normalize()

		if err := req.validate(); err != nil {
			RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), signupRequestKey, req)))
	})
}

func signupRequestFrom(ctx context.Context) (SignupRequest, bool) {
	req, ok := ctx.Value(signupRequestKey).(SignupRequest)
	return req, ok
}

func (req *SignupRequest) normalize() {
	req.DNI = strings.ToUpper(strings.TrimSpace(req.DNI))
	req.FullName = strings.Join(strings.Fields(req.FullName), " ")
	req.Email = strings.TrimSpace(req.Email)
}

func (req SignupRequest) validate() error {
	if err := documents.Validate(documentCountry, req.DNI); err != nil {
		return fmt.Errorf("invalid DNI: %w", err)
	}
	if utf8.RuneCountInString(req.FullName) < minFullNameRunes {
		return fmt.Errorf("full name must be at least %d characters long", minFullNameRunes)
	}
	// no email means no notifications
	if req.Email != "" && !emailRe.MatchString(req.Email) {
		return errors.New("invalid email format")
	}
	return nil
}
