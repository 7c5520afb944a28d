// Package delivery resolves symbolic delivery targets and fans content
// out to platform adapters and the local markdown sink.
package delivery

import (
	"errors"
	"strings"

	"github.com/hermesworks/hermes/internal/bus"
)

// ErrUnresolved marks a target spec that could not be mapped to a
// concrete chat: unknown platform, missing home channel, or a channel
// name the directory does not know.
var ErrUnresolved = errors.New("delivery target unresolved")

// TargetSpec is one parsed element of a job's deliver list.
//
//	origin | local | <platform> | <platform>:<chat>
//
// Chat may be a numeric id, "#name", or a bare name.
type TargetSpec struct {
	Origin   bool
	Platform bus.Platform
	Chat     string
}

// ParseSpec parses a raw target spec. Unknown platforms degrade to
// local so misconfigured jobs still log their output somewhere.
func ParseSpec(raw string) TargetSpec {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "origin" {
		return TargetSpec{Origin: true}
	}
	name, chat, _ := strings.Cut(s, ":")
	platform, ok := bus.ParsePlatform(name)
	if !ok {
		return TargetSpec{Platform: bus.PlatformLocal}
	}
	return TargetSpec{Platform: platform, Chat: strings.TrimSpace(chat)}
}

// Target is a fully resolved delivery destination. ChatID is empty
// only for local.
type Target struct {
	Platform   bus.Platform `json:"platform"`
	ChatID     string       `json:"chat_id,omitempty"`
	IsOrigin   bool         `json:"is_origin,omitempty"`
	IsExplicit bool         `json:"is_explicit,omitempty"`
}

// Format renders the canonical spec string for a resolved target.
// Resolving ParseSpec of the output reproduces the target (origin-ness
// and explicitness aside, which are resolution artifacts).
func (t Target) Format() string {
	if t.ChatID == "" {
		return string(t.Platform)
	}
	return string(t.Platform) + ":" + t.ChatID
}

// dedupeKey collapses duplicate destinations.
func (t Target) dedupeKey() string {
	return string(t.Platform) + "\x00" + t.ChatID
}

// Result is the per-target outcome of one delivery.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
	// AttachmentErrors reports image/document failures that did not
	// sink the whole delivery (the text still went out).
	AttachmentErrors []string `json:"attachment_errors,omitempty"`
}
