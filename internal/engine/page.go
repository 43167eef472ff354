package engine

import (
	"fmt"
	"strconv"
	"strings"
)

const DefaultPageSize = 30

// ParseMinutes reads a timer duration typed by a user.
func ParseMinutes(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number of minutes", ErrInvalidArgument, s)
	}
	return n, nil
}

// Page returns the 1-based page of items and whether more follow. Pages of
// one snapshot never overlap or reorder.
func Page[T any](items []T, page, size int) ([]T, bool) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}

	// compare page indexes before multiplying so huge inputs cannot overflow
	if len(items) == 0 || page-1 > (len(items)-1)/size {
		return []T{}, false
	}
	start := (page - 1) * size
	end := start + min(size, len(items)-start)
	return items[start:end], end < len(items)
}
