package signaling

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parser extracts typed events from the engine's textual output.
//
// The output contract is line oriented. Trunk-level lines:
//
//	register: 200 OK
//	register: 401 Unauthorized
//
// Call events are prefixed with the line identity:
//
//	line 3: call ringing
//	line 3: 180 ringing
//	line 3: call established
//	line 3: call closed: Connection reset
//
// Anything else is unrecognized and must be skipped by the caller —
// the engine is free to print diagnostics we do not understand.
type Parser struct {
	registerOKRe   *regexp.Regexp
	registerFailRe *regexp.Regexp
	lineEventRe    *regexp.Regexp
	closedReasonRe *regexp.Regexp
}

// NewParser compiles the event patterns.
func NewParser() *Parser {
	return &Parser{
		// register: 200 ... (case-insensitive, tolerate surrounding noise)
		registerOKRe: regexp.MustCompile(`(?i)register:\s*200\b`),

		// register: 401/403/404/408/5xx
		registerFailRe: regexp.MustCompile(`(?i)register:\s*(401|403|404|408|5\d\d)\b`),

		// line N: <rest>
		lineEventRe: regexp.MustCompile(`(?i)^line\s+(\d+):\s*(.+)$`),

		// call closed: <reason>
		closedReasonRe: regexp.MustCompile(`(?i)call\s+closed\s*:\s*(.+)$`),
	}
}

// Parse converts one output line into an event. The second return value is
// false for unrecognized lines; those are never an error, a single bad line
// must not stop event monitoring.
func (p *Parser) Parse(raw string) (Event, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Event{}, false
	}

	now := time.Now()

	if p.registerOKRe.MatchString(text) {
		return Event{Type: EventRegistered, Raw: text, Time: now}, true
	}
	if p.registerFailRe.MatchString(text) {
		return Event{Type: EventRegistrationFailed, Raw: text, Time: now}, true
	}

	m := p.lineEventRe.FindStringSubmatch(text)
	if m == nil {
		return Event{}, false
	}

	lineID, err := strconv.Atoi(m[1])
	if err != nil || lineID < 1 {
		return Event{}, false
	}
	rest := strings.ToLower(strings.TrimSpace(m[2]))

	switch {
	case strings.Contains(rest, "call established"):
		return Event{Type: EventAnswered, Line: lineID, Raw: text, Time: now}, true

	case strings.Contains(rest, "call ringing"), strings.Contains(rest, "180 ringing"):
		return Event{Type: EventProgress, Line: lineID, Raw: text, Time: now}, true

	case strings.Contains(rest, "call closed"):
		ev := Event{Type: EventTerminated, Line: lineID, Raw: text, Time: now}
		if rm := p.closedReasonRe.FindStringSubmatch(m[2]); rm != nil {
			ev.Reason = strings.TrimSpace(rm[1])
		}
		return ev, true
	}

	return Event{}, false
}
