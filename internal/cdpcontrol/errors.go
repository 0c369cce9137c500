package cdpcontrol

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
)

// ErrorKind classifies channel failures so callers never match on host text.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindTabNotFound
	KindNotAttached
)

func (k ErrorKind) String() string {
	switch k {
	case KindTabNotFound:
		return "TAB_NOT_FOUND"
	case KindNotAttached:
		return "NOT_ATTACHED"
	default:
		return "OTHER"
	}
}

// ChannelError is the only error type a Channel returns.
type ChannelError struct {
	Kind    ErrorKind
	TabID   tabs.TabID // for NotAttached, the tab the host says lost its session
	Method  string
	Message string
	Cause   error
}

func (e *ChannelError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Method != "" {
		b.WriteString(": ")
		b.WriteString(e.Method)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *ChannelError) Unwrap() error { return e.Cause }

// ProtocolError is an error object returned by the browser for a command.
type ProtocolError struct {
	Method  string
	Code    int64
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rawcdp: %s: %s", e.Method, e.Message)
}

var tabIDPattern = regexp.MustCompile(`(?i)tab(?:\s+with)?(?:\s+id)?\s*[:#]?\s*(\d+)`)

var notAttachedHints = []string{
	"not attached",
	"detached",
	"session with given id not found",
	"no session with given id",
}

var tabGoneHints = []string{
	"no tab with",
	"no target with",
	"target closed",
	"tab closed",
	"tab was closed",
}

// Classify maps host error text to an ErrorKind. tab is the channel's own tab,
// used when a not-attached message does not name one.
func Classify(message string, tab tabs.TabID) (ErrorKind, tabs.TabID) {
	lower := strings.ToLower(message)
	for _, hint := range notAttachedHints {
		if strings.Contains(lower, hint) {
			return KindNotAttached, parseTabID(message, tab)
		}
	}
	for _, hint := range tabGoneHints {
		if strings.Contains(lower, hint) {
			return KindTabNotFound, tab
		}
	}
	return KindOther, tab
}

func parseTabID(message string, fallback tabs.TabID) tabs.TabID {
	m := tabIDPattern.FindStringSubmatch(message)
	if len(m) < 2 {
		return fallback
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return fallback
	}
	return tabs.TabID(n)
}

// classifyErr wraps any transport or protocol failure as a ChannelError.
func classifyErr(method string, err error, tab tabs.TabID) error {
	if err == nil {
		return nil
	}
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ChannelError{Kind: KindOther, TabID: tab, Method: method, Message: err.Error(), Cause: err}
	}
	msg := err.Error()
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		msg = protoErr.Message
	}
	kind, tabID := Classify(msg, tab)
	return &ChannelError{Kind: kind, TabID: tabID, Method: method, Message: msg, Cause: err}
}

// KindOf returns the classification of err, KindOther for foreign errors.
func KindOf(err error) ErrorKind {
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr.Kind
	}
	return KindOther
}
