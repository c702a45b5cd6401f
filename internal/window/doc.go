// Package window defines the point-in-time membership window for a
// logical day and the anti-leak filter over it.
//
// The membership window for day T is (cutoff(T-1), cutoff(T)], where
// cutoff is a fixed wall-clock boundary in the business timezone
// converted to a UTC instant with correct daylight-saving handling.
// Filter is pure and is the single enforcement point for anti-leak
// discipline: every consumer routes through it rather than filtering
// ad hoc.
package window
