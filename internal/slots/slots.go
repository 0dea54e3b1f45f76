package slots

import (
	"fmt"
	"regexp"
	"strconv"
)

// Default slot times used when configuration is missing or invalid
const (
	DefaultMorning = "09:00"
	DefaultEvening = "18:00"
)

var (
	slotPattern  = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)
	defaultSlots = []string{DefaultMorning, DefaultEvening}
)

// Slot is a labelled time of day
type Slot struct {
	Label string
	Time  string // HH:MM
}

// ValidSlot reports whether raw is a valid HH:MM slot
func ValidSlot(raw string) bool {
	return slotPattern.MatchString(raw)
}

// NormalizeSlot returns raw as zero-padded HH:MM, or fallback if raw is invalid
func NormalizeSlot(raw, fallback string) string {
	m := slotPattern.FindStringSubmatch(raw)
	if m == nil {
		return fallback
	}
	hour, _ := strconv.Atoi(m[1])
	return fmt.Sprintf("%02d:%s", hour, m[2])
}

// SlotLabel names the slot at the given position
func SlotLabel(i int) string {
	switch i {
	case 0:
		return "morning"
	case 1:
		return "evening"
	default:
		return fmt.Sprintf("slot%d", i+1)
	}
}

// EffectiveSlots resolves a mapping's slots against the global defaults.
// Mapping slot i overrides global slot i; positions the mapping leaves unset inherit
// the global slot. An invalid entry falls back to the global slot at the same position,
// then to 09:00/18:00, and is dropped if none exists.
// Slots that resolve to the same time collapse into the first one.
func EffectiveSlots(mappingSlots, globalSlots []string) []Slot {
	base := resolve(globalSlots, defaultSlots)
	times := base
	if len(mappingSlots) > 0 {
		times = resolve(mappingSlots, base)
		if len(mappingSlots) < len(base) {
			times = append(times, base[len(mappingSlots):]...)
		}
	}

	seen := make(map[string]bool, len(times))
	out := make([]Slot, 0, len(times))
	for i, t := range times {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, Slot{Label: SlotLabel(i), Time: t})
	}
	return out
}

func resolve(raw, fallbacks []string) []string {
	if len(raw) == 0 {
		return append([]string(nil), fallbacks...)
	}
	out := make([]string, 0, len(raw))
	for i, r := range raw {
		fallback := ""
		if i < len(fallbacks) {
			fallback = fallbacks[i]
		}
		if t := NormalizeSlot(r, fallback); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// MatchSlots returns the slots whose time equals clock (HH:MM) exactly
func MatchSlots(clock string, slots []Slot) []Slot {
	var matched []Slot
	for _, s := range slots {
		if s.Time == clock {
			matched = append(matched, s)
		}
	}
	return matched
}
