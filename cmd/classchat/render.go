package main

import (
	"fmt"
	"html"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"classchat/internal/conversation"
	"classchat/pkg/types"
)

// renderer prints conversation views and connection events to a terminal.
// Message and announcement text comes from other users, so it is stripped
// of markup and control characters before printing.
type renderer struct {
	out    io.Writer
	policy *bluemonday.Policy
	selfID int64

	mu        sync.Mutex
	partnerID int64
	printed   int
	typing    bool
	online    bool
	lastErr   error
}

func newRenderer(out io.Writer, selfID int64) *renderer {
	return &renderer{
		out:    out,
		policy: bluemonday.StrictPolicy(),
		selfID: selfID,
	}
}

// sanitize removes HTML and terminal control sequences
func (r *renderer) sanitize(s string) string {
	clean := html.UnescapeString(r.policy.Sanitize(s))
	return strings.Map(func(c rune) rune {
		if c == '\n' || c == '\t' {
			return c
		}
		if unicode.IsControl(c) {
			return -1
		}
		return c
	}, clean)
}

// view prints messages appended since the last call. The list only grows
// in place between selections; a shorter list means it was replaced.
func (r *renderer) view(v conversation.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.PartnerID != r.partnerID {
		r.partnerID = v.PartnerID
		r.printed = 0
		r.typing = false
		r.online = false
		r.lastErr = nil
		if v.PartnerID != 0 {
			fmt.Fprintf(r.out, "== conversation with user %d ==\n", v.PartnerID)
		}
	}
	if len(v.Messages) < r.printed {
		r.printed = 0
	}
	for _, msg := range v.Messages[r.printed:] {
		fmt.Fprintln(r.out, r.formatMessage(msg))
	}
	r.printed = len(v.Messages)

	if v.PartnerOnline != r.online {
		r.online = v.PartnerOnline
		if r.online {
			fmt.Fprintf(r.out, "-- user %d is online\n", v.PartnerID)
		} else {
			fmt.Fprintf(r.out, "-- user %d went offline\n", v.PartnerID)
		}
	}
	if v.PartnerTyping != r.typing {
		r.typing = v.PartnerTyping
		if r.typing {
			fmt.Fprintf(r.out, "-- user %d is typing...\n", v.PartnerID)
		}
	}
	if v.Err != nil && v.Err != r.lastErr {
		fmt.Fprintf(r.out, "!! %v\n", v.Err)
	}
	r.lastErr = v.Err
}

func (r *renderer) formatMessage(msg types.Message) string {
	who := fmt.Sprintf("user %d", msg.SenderID)
	if msg.SenderID == r.selfID {
		who = "you"
	}
	stamp := "--:--"
	if !msg.Timestamp.IsZero() {
		stamp = msg.Timestamp.Local().Format("15:04")
	}
	line := fmt.Sprintf("[%s] %s: %s", stamp, who, r.sanitize(msg.Content))
	if msg.IsSending {
		line += " (sending)"
	}
	if msg.SenderID == r.selfID && msg.IsRead {
		line += " ✓✓"
	}
	return line
}

func (r *renderer) announcement(a types.AnnouncementEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "*** Announcement: %s\n", r.sanitize(a.Content))
}

func (r *renderer) state(ev types.StateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.New {
	case types.StateOpen:
		fmt.Fprintln(r.out, "-- connected")
	case types.StateReconnecting:
		fmt.Fprintf(r.out, "-- reconnect attempt %d in %s\n", ev.Attempt, ev.Delay.Round(time.Millisecond))
	case types.StateClosed:
		switch ev.CloseCode {
		case types.CloseAuthRejected:
			fmt.Fprintln(r.out, "-- credentials rejected, log in again")
		case types.CloseNormal:
		default:
			fmt.Fprintf(r.out, "-- disconnected (code %d)\n", ev.CloseCode)
		}
	}
}
