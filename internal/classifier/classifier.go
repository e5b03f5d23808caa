// Package classifier turns raw bot output lines into process state
// transitions and counters.
//
// One ordered rule table is shared by every call path (immediate,
// scheduled, bulk) so classification behaves identically everywhere.
// For each line only the first matching rule applies; the markers are
// distinct substrings, so the rules are mutually exclusive by
// construction. A malformed line must never abort the stream: parse
// failures are recovered locally and the line is logged verbatim.
package classifier

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"go.uber.org/zap"
)

// EventKind categorizes what a rule changed on the process.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventCounters EventKind = "counters"
	EventCrashes  EventKind = "crashes"
	EventLog      EventKind = "log"
)

// Event is one applied rule outcome.
type Event struct {
	Kind     EventKind
	Line     string
	Previous types.Status
	Status   types.Status
	Crashes  int
}

type rule struct {
	marker string
	apply  func(c *Classifier, p *types.Process, line string) (Event, bool)
}

// Classifier is a stateless rule engine. It is safe for concurrent use
// as long as callers serialize access to the Process being mutated.
type Classifier struct {
	logger *zap.Logger
	rules  []rule
}

func New(logger *zap.Logger) *Classifier {
	return &Classifier{
		logger: logger,
		rules: []rule{
			{marker: "Next session will start at:", apply: statusRule(types.StatusWaiting)},
			{marker: "-------- START:", apply: startRule},
			{marker: "Hello, @", apply: countersRule},
			{marker: "-------- FINISH:", apply: statusRule(types.StatusFinished)},
			{marker: "Finished.", apply: statusRule(types.StatusFinished)},
			{marker: "This bot is backed with love", apply: statusRule(types.StatusFinished)},
			{marker: "Reached crashes limit.", apply: statusRule(types.StatusStopped)},
			{marker: "Total Crashes:", apply: crashCountRule},
			{marker: "RuntimeError: USB device", apply: fatalRule},
			{marker: "adbutils.errors.AdbError: device", apply: fatalRule},
			{marker: "This kind of exception will stop the bot (no restart).", apply: crashLimitRule},
			{marker: "ERROR | ", apply: logRule},
			{marker: "WARNING | ", apply: logRule},
			{marker: "CRITICAL | ", apply: logRule},
		},
	}
}

// Apply classifies a batch of complete lines against the process.
//
// The caller is responsible for buffering partial lines across chunk
// boundaries; a line only reaches Apply once its terminator was seen.
// Applying the same batch twice is a no-op: the result log and the
// counters end up exactly as after a single application.
func (c *Classifier) Apply(p *types.Process, lines []string) []Event {
	batch := strings.Join(lines, "\n")
	if batch == "" {
		return nil
	}
	// Repeated delivery of an already-recorded segment must not
	// double-count anything.
	if strings.Contains(p.ResultLog, batch) {
		return nil
	}

	var events []Event
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if ev, ok := c.applyLine(p, line); ok {
			events = append(events, ev)
		}
		c.appendLog(p, line)
	}
	return events
}

func (c *Classifier) applyLine(p *types.Process, line string) (Event, bool) {
	for i := range c.rules {
		if strings.Contains(line, c.rules[i].marker) {
			return c.rules[i].apply(c, p, line)
		}
	}
	return Event{}, false
}

// appendLog grows the result log. The log is append-only and a line
// already at the tail is not repeated.
func (c *Classifier) appendLog(p *types.Process, line string) {
	if p.ResultLog != "" && strings.HasSuffix(p.ResultLog, line) {
		return
	}
	if p.ResultLog == "" {
		p.ResultLog = line
		return
	}
	p.ResultLog += "\n" + line
}

func statusRule(target types.Status) func(*Classifier, *types.Process, string) (Event, bool) {
	return func(_ *Classifier, p *types.Process, line string) (Event, bool) {
		prev := p.Status
		p.Status = target
		return Event{Kind: EventStatus, Line: line, Previous: prev, Status: target}, true
	}
}

// startRule marks the session as running and clears a pending schedule
// token: once the bot prints its START banner the deferred launch has
// materialized.
func startRule(_ *Classifier, p *types.Process, line string) (Event, bool) {
	prev := p.Status
	p.Status = types.StatusRunning
	p.Scheduled = ""
	return Event{Kind: EventStatus, Line: line, Previous: prev, Status: types.StatusRunning}, true
}

// countersRule parses the greeting line, e.g.
//
//	... INFO | Hello, @account! You have 1520 followers and 340 following so far.
//
// Follower and following counts sit at fixed whitespace-split token
// positions. A non-numeric token is recoverable: skip the update and
// keep the line.
func countersRule(c *Classifier, p *types.Process, line string) (Event, bool) {
	fields := strings.Fields(line)
	if len(fields) < 10 {
		c.logger.Debug("greeting line too short, keeping verbatim",
			zap.String("account", p.Account),
			zap.String("line", line))
		return Event{}, false
	}
	followers, err1 := strconv.Atoi(fields[6])
	following, err2 := strconv.Atoi(fields[9])
	if err1 != nil || err2 != nil {
		c.logger.Debug("greeting line counters not numeric, keeping verbatim",
			zap.String("account", p.Account),
			zap.String("line", line))
		return Event{}, false
	}
	p.Followers = followers
	p.Following = following
	return Event{Kind: EventCounters, Line: line}, true
}

// crashCountRule handles the session-limit report line
//
//	INFO | - Total Crashes:  OK (k/5)
//
// and records k. The counter only moves up within one process
// lifetime; a fresh create resets it.
func crashCountRule(_ *Classifier, p *types.Process, line string) (Event, bool) {
	for k := types.CrashLimit; k >= 1; k-- {
		if strings.Contains(line, fmt.Sprintf("%d/%d", k, types.CrashLimit)) {
			if k > p.TotalCrashes {
				p.TotalCrashes = k
			}
			return Event{Kind: EventCrashes, Line: line, Crashes: p.TotalCrashes}, true
		}
	}
	return Event{}, false
}

// fatalRule covers non-restartable device failures (USB gone, adb
// lost the device): the run is over, crash counter pegged.
func fatalRule(_ *Classifier, p *types.Process, line string) (Event, bool) {
	prev := p.Status
	p.TotalCrashes = types.CrashLimit
	p.Status = types.StatusStopped
	return Event{Kind: EventStatus, Line: line, Previous: prev, Status: types.StatusStopped, Crashes: types.CrashLimit}, true
}

// crashLimitRule pegs the crash counter without forcing a status: the
// bot announces the stop itself with a later line.
func crashLimitRule(_ *Classifier, p *types.Process, line string) (Event, bool) {
	p.TotalCrashes = types.CrashLimit
	return Event{Kind: EventCrashes, Line: line, Crashes: types.CrashLimit}, true
}

// logRule keeps diagnostic lines without touching the state machine.
func logRule(_ *Classifier, p *types.Process, line string) (Event, bool) {
	return Event{Kind: EventLog, Line: line}, true
}
