// Package classify decides how hard a chat request is. Classification is a
// pure function over the request shape and the last user message; it never
// touches the network or disk.
package classify

import "fmt"

// Tier is the ordered complexity class of a request. Escalation always moves
// strictly upward.
type Tier int

const (
	Heartbeat Tier = iota
	Simple
	Moderate
	Complex
	Frontier
)

var tierNames = [...]string{"heartbeat", "simple", "moderate", "complex", "frontier"}

func (t Tier) String() string {
	if t < Heartbeat || t > Frontier {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier maps a tier name back to its value.
func ParseTier(s string) (Tier, bool) {
	for i, name := range tierNames {
		if name == s {
			return Tier(i), true
		}
	}
	return 0, false
}

// Tiers lists all tiers in ascending order.
func Tiers() []Tier {
	return []Tier{Heartbeat, Simple, Moderate, Complex, Frontier}
}

// Next returns the next-higher tier and false at the top.
func (t Tier) Next() (Tier, bool) {
	if t >= Frontier {
		return Frontier, false
	}
	return t + 1, true
}
