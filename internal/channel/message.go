// Package channel carries the panel's real-time traffic: events pushed to the
// browser (rendered views, listening state, speech transcripts) and actions
// sent back by it (button presses, chat text, language choice, sort order).
package channel

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies an outbound event channel.
type Kind int

const (
	// Unknown is a channel this version does not know; the raw name is kept.
	Unknown Kind = iota
	// RenderHTML replaces the page body with a rendered view.
	RenderHTML
	// Events carries listening-state changes.
	Events
	// TextTranscript carries the text recognised so far.
	TextTranscript
)

var kindNames = map[Kind]string{
	RenderHTML:     "render_html",
	Events:         "events",
	TextTranscript: "text_transcript",
}

// ParseKind maps a channel name to its Kind.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return Unknown
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Event is one message pushed to the browser. On the wire it is
// {"chan": name, "msg": text}.
type Event struct {
	Kind Kind
	Name string // channel name; authoritative for Unknown
	Msg  string
}

// NewEvent builds an event for a channel name.
func NewEvent(name, msg string) Event {
	return Event{Kind: ParseKind(name), Name: name, Msg: msg}
}

type wireEvent struct {
	Chan string `json:"chan"`
	Msg  string `json:"msg"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	name := e.Name
	if e.Kind != Unknown {
		name = e.Kind.String()
	}
	return json.Marshal(wireEvent{Chan: name, Msg: e.Msg})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = NewEvent(w.Chan, w.Msg)
	return nil
}

// ListeningState is the payload of an Events message.
type ListeningState int

const (
	ListeningUnknown ListeningState = iota
	ListeningStarted
	ListeningDone
)

// Listening interprets an Events payload.
func (e Event) Listening() ListeningState {
	if e.Kind != Events {
		return ListeningUnknown
	}
	switch e.Msg {
	case "ListeningStarted":
		return ListeningStarted
	case "ListeningDone":
		return ListeningDone
	}
	return ListeningUnknown
}

// ActionKind identifies an inbound browser action.
type ActionKind int

const (
	UnknownAction ActionKind = iota
	// BrowserButton is a button press; sort results also use it.
	BrowserButton
	// Chat is free text typed into the chat box.
	Chat
	// AudioLanguage selects the speech recognition language.
	AudioLanguage
	// DialogflowLanguage selects the intent detection language.
	DialogflowLanguage
)

var actionNames = map[ActionKind]string{
	BrowserButton:      "browser_button",
	Chat:               "action_chat",
	AudioLanguage:      "audio_language",
	DialogflowLanguage: "dialogflow_language",
}

func (k ActionKind) String() string {
	if n, ok := actionNames[k]; ok {
		return n
	}
	return "unknown"
}

// Action is one message sent by the browser, framed as "name|value".
type Action struct {
	Kind  ActionKind
	Name  string
	Value string
}

// ParseAction parses an inbound frame. Frames without a separator are
// rejected; unrecognised names parse as UnknownAction.
func ParseAction(frame string) (Action, error) {
	name, value, ok := strings.Cut(frame, "|")
	if !ok || name == "" {
		return Action{}, fmt.Errorf("malformed action frame %q", frame)
	}
	a := Action{Name: name, Value: value}
	for k, n := range actionNames {
		if n == name {
			a.Kind = k
			break
		}
	}
	return a, nil
}

// String renders the action in its wire form.
func (a Action) String() string {
	return a.Name + "|" + a.Value
}

// SortOrder decodes a sort result: a browser_button whose value is a JSON
// array of item ids in the order they were picked.
func (a Action) SortOrder() ([]string, bool) {
	if a.Kind != BrowserButton || !strings.HasPrefix(strings.TrimSpace(a.Value), "[") {
		return nil, false
	}
	var order []string
	if err := json.Unmarshal([]byte(a.Value), &order); err != nil {
		return nil, false
	}
	return order, true
}

// Handlers has one callback per event kind. Nil callbacks ignore their kind.
type Handlers struct {
	RenderHTML func(html string)
	Listening  func(state ListeningState)
	Transcript func(text string)
	Unknown    func(name, msg string)
}

// Dispatch calls the handler for e's kind.
func (h Handlers) Dispatch(e Event) {
	switch e.Kind {
	case RenderHTML:
		if h.RenderHTML != nil {
			h.RenderHTML(e.Msg)
		}
	case Events:
		if h.Listening != nil {
			h.Listening(e.Listening())
		}
	case TextTranscript:
		if h.Transcript != nil {
			h.Transcript(e.Msg)
		}
	case Unknown:
		if h.Unknown != nil {
			h.Unknown(e.Name, e.Msg)
		}
	}
}
