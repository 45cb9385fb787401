package status

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind selects how the indicator is drawn.
type Kind int

const (
	KindReady Kind = iota
	KindInfo
	KindSuccess
	KindError
	KindLoading
	KindWarning
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindInfo:
		return "info"
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	case KindLoading:
		return "loading"
	case KindWarning:
		return "warning"
	}
	return "unknown"
}

// Indicator is the rendered form of a snapshot.
type Indicator struct {
	Kind    Kind
	Message string
}

// Describe maps a snapshot to the indicator shown in the workbench menu bar.
func Describe(s Snapshot) Indicator {
	switch {
	case s.LastError != "":
		return Indicator{Kind: KindWarning, Message: "Connection error: " + s.LastError}
	case !s.Connected && s.Enabled:
		return Indicator{Kind: KindWarning, Message: "Connecting to status updates..."}
	}
	if s.LastEvent == nil {
		if !s.Enabled {
			return Indicator{Kind: KindReady, Message: "No active requests..."}
		}
		return Indicator{Kind: KindInfo, Message: "Waiting for updates..."}
	}
	ev := s.LastEvent
	switch ev.Type {
	case EventJobSent:
		return Indicator{Kind: KindInfo, Message: "Job sent"}
	case EventStatusUpdate:
		msg := ev.Status
		if ev.HasProgress {
			msg += fmt.Sprintf(" (%s%%)", strconv.FormatFloat(ev.Progress, 'f', -1, 64))
		}
		return Indicator{Kind: updateKind(ev), Message: msg}
	case EventConnected:
		msg := ev.Message
		if msg == "" {
			msg = "Connected to status updates"
		}
		return Indicator{Kind: KindInfo, Message: msg}
	}
	return Indicator{Kind: KindInfo, Message: "Waiting for updates..."}
}

func updateKind(ev *Event) Kind {
	switch ev.Code {
	case CodeSuccess:
		return KindSuccess
	case CodeError:
		return KindError
	case CodeLoading:
		return KindLoading
	case CodeNone:
	}
	// Backends without structured codes only send text.
	s := strings.ToLower(ev.Status)
	switch {
	case strings.Contains(s, "success"), strings.Contains(s, "complete"):
		return KindSuccess
	case strings.Contains(s, "error"), strings.Contains(s, "fail"):
		return KindError
	case strings.Contains(s, "loading"), strings.Contains(s, "processing"):
		return KindLoading
	}
	return KindInfo
}
