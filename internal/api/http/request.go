package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"powerbank-rental-backend/internal/domain"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type startRentalRequest struct {
	StationID int32 `json:"station_id" validate:"required,gt=0"`
	PackageID int32 `json:"package_id" validate:"required,gt=0"`
}

type extendRentalRequest struct {
	PackageID int32 `json:"package_id" validate:"required,gt=0"`
}

type cancelRentalRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when allowEmpty is set.
func decode(r *http.Request, dst any, allowEmpty bool) error {
	const op = "http.decode"
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return domain.NewValidationError(op, "malformed request body: %v", err)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return domain.NewValidationError(op, "%s", describe(err))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

func pathID(r *http.Request, name string) (int32, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("http.pathID", "invalid %s %q", name, raw)
	}
	return int32(id), nil
}

func queryInt(r *http.Request, name string) (int32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v < 0 {
		return 0, domain.NewValidationError("http.queryInt", "invalid %s %q", name, raw)
	}
	return int32(v), nil
}

// pagination reads page and page_size and applies the service defaults.
func pagination(r *http.Request) (int32, int32, error) {
	page, err := queryInt(r, "page")
	if err != nil {
		return 0, 0, err
	}
	size, err := queryInt(r, "page_size")
	if err != nil {
		return 0, 0, err
	}
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size, nil
}
