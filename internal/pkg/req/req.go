// Package req parses request parameters into validated values.
package req

import (
	"net/http"
	"strconv"

	"estatechat/internal/pkg/errs"
)

// IntQuery reads the query parameter key as a non-negative integer.
// An absent or empty parameter yields fallback.
func IntQuery(r *http.Request, key string, fallback int) (int, *errs.CustomError) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errs.NewError(errs.ErrInvalidParams)
	}

	return n, nil
}
