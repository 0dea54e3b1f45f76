// Package slots decides when scheduled uploads fire: timezone-aware slot
// matching, idempotent trigger keys and daily quota arithmetic.
package slots
