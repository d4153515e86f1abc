package db

import "strings"

// IsUniqueViolation reports whether err is a unique-index violation from
// any of the supported dialects.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"), // sqlite
		strings.Contains(msg, "duplicate key value"), // postgres
		strings.Contains(msg, "Duplicate entry"):     // mysql
		return true
	}
	return false
}
