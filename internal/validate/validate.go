package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"storefront/internal/domain"
)

var (
	reEmail  = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	reReason = regexp.MustCompile(`^[a-z][a-z0-9_]{1,39}$`)
	reSource = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// MaxLineQty caps a single requested line to avoid abuse.
const MaxLineQty = 1000

var ErrItems = errors.New("items must look like 12:3,14:1")

func Email(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 50 {
		return "", false
	}
	return s, reEmail.MatchString(s)
}

// Name validates a displayable name with a reasonable max length.
func Name(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 60 {
		return "", false
	}
	return s, true
}

// ID parses a positive numeric identifier.
func ID(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func Qty(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > MaxLineQty {
		return 0, false
	}
	return n, true
}

// Reason validates a movement reason code (snake_case, 2-40 chars).
func Reason(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, reReason.MatchString(s)
}

// Source validates a reservation source pair from a path.
func Source(typ, id string) (domain.Source, bool) {
	st := domain.SourceType(strings.ToLower(strings.TrimSpace(typ)))
	id = strings.TrimSpace(id)
	if !st.Valid() || !reSource.MatchString(id) {
		return domain.Source{}, false
	}
	return domain.Source{Type: st, ID: id}, true
}

// EventID validates a provider-supplied event id.
func EventID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, reSource.MatchString(s)
}

// Items parses "variant:qty" pairs separated by commas. A repeated variant
// keeps both lines; callers aggregate.
func Items(s string) ([]domain.ReserveItem, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrItems
	}
	parts := strings.Split(s, ",")
	if len(parts) > 100 {
		return nil, fmt.Errorf("%w: too many items", ErrItems)
	}
	out := make([]domain.ReserveItem, 0, len(parts))
	for _, p := range parts {
		id, qty, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok {
			return nil, ErrItems
		}
		vid, okID := ID(id)
		n, okQty := Qty(qty)
		if !okID || !okQty {
			return nil, fmt.Errorf("%w: bad pair %q", ErrItems, p)
		}
		out = append(out, domain.ReserveItem{VariantID: vid, Quantity: n})
	}
	return out, nil
}
