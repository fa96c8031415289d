// Package domain provides core business rules for the outreach pipeline:
// channels and their stage sequences, follow-up rules, the transition engine
// that keeps channel/status/lead-stage consistent, and the next-action
// scheduler.
package domain

import (
	"fmt"
	"strings"
)

// Channel is a communication medium through which outreach occurs.
// The zero value means no channel has been selected.
type Channel string

const (
	ChannelNone     Channel = ""
	ChannelLinkedIn Channel = "linkedin"
	ChannelEmail    Channel = "email"
	ChannelPhone    Channel = "phone"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// allChannels is the closed channel set in display order.
var allChannels = []Channel{
	ChannelLinkedIn,
	ChannelEmail,
	ChannelPhone,
	ChannelSMS,
	ChannelWhatsApp,
}

// AllChannels returns every known channel in display order.
func AllChannels() []Channel {
	out := make([]Channel, len(allChannels))
	copy(out, allChannels)
	return out
}

// IsKnown reports whether c is a member of the closed channel set.
func (c Channel) IsKnown() bool {
	for _, known := range allChannels {
		if c == known {
			return true
		}
	}
	return false
}

func (c Channel) String() string { return string(c) }

// ParseChannel normalizes raw input into a known channel.
func ParseChannel(raw string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(raw)))
	if !c.IsKnown() {
		return ChannelNone, fmt.Errorf("%w: %q", ErrInvalidChannel, raw)
	}
	return c, nil
}

// Status is a named point in a channel's ordered outreach sequence.
// The zero value means no status has been set.
type Status string

const (
	StatusNone          Status = ""
	StatusRequested     Status = "requested"
	StatusAccepted      Status = "accepted"
	StatusMessaged      Status = "messaged"
	StatusContacted     Status = "contacted"
	StatusOpened        Status = "opened"
	StatusFollowUp      Status = "follow_up"
	StatusReplied       Status = "replied"
	StatusMeetingBooked Status = "meeting_booked"
	StatusNotInterested Status = "not_interested"
)

var knownStatuses = map[Status]struct{}{
	StatusRequested:     {},
	StatusAccepted:      {},
	StatusMessaged:      {},
	StatusContacted:     {},
	StatusOpened:        {},
	StatusFollowUp:      {},
	StatusReplied:       {},
	StatusMeetingBooked: {},
	StatusNotInterested: {},
}

// terminalStatuses end a sequence; there is no conventional next step after them.
var terminalStatuses = map[Status]bool{
	StatusMeetingBooked: true,
	StatusNotInterested: true,
}

// IsKnown reports whether s is a member of the closed status vocabulary.
func (s Status) IsKnown() bool {
	_, ok := knownStatuses[s]
	return ok
}

// IsTerminal reports whether s ends the outreach sequence.
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

func (s Status) String() string { return string(s) }

// ParseStatus normalizes raw input into a known status identifier.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsKnown() {
		return StatusNone, fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}
