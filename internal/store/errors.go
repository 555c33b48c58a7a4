package store

import (
	"github.com/rotisserie/eris"

	"github.com/contractr/contractr/internal/model"
)

// ErrConflict is returned when an insert would violate a uniqueness rule.
var ErrConflict = eris.New("store: conflict")

func notFound(kind, id string) error {
	return eris.Wrapf(model.ErrNotFound, "store: %s %s", kind, id)
}

// checkRows maps a zero-row update to a not-found error.
func checkRows(n int64, kind, id string) error {
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}
