// internal/agent/action.go
package agent

import "fmt"

// Kind is the wire name of an action, the value of its "action" field.
type Kind string

const (
	KindNavigate  Kind = "navigate"
	KindClick     Kind = "click"
	KindType      Kind = "type"
	KindPressKey  Kind = "press_key"
	KindScroll    Kind = "scroll"
	KindGoBack    Kind = "go_back"
	KindWait      Kind = "wait"
	KindSearchWeb Kind = "search_web"
	KindVerify    Kind = "verify"
	KindComplete  Kind = "complete"
	KindError     Kind = "error"
	// KindUnknown labels every kind the model invented.
	KindUnknown Kind = "unknown"
)

// Action is one decision from the decision oracle. The set of implementations is
// closed: every type below, plus UnknownAction for kinds the model invented.
type Action interface {
	Kind() Kind
	isAction()
}

// NavigateAction loads a URL.
type NavigateAction struct {
	URL string
}

// ClickAction clicks at absolute viewport pixels. Coordinates are passed through
// unchecked.
type ClickAction struct {
	X, Y   int
	Reason string
}

// TypeAction types into the focused element.
type TypeAction struct {
	Text   string
	Reason string
}

// PressKeyAction presses one named key.
type PressKeyAction struct {
	Key    string
	Reason string
}

// ScrollAction scrolls up or down. Zero Amount means the executor default.
type ScrollAction struct {
	Direction string
	Amount    int
	Reason    string
}

// GoBackAction returns to the previous page in the tab history.
type GoBackAction struct {
	Reason string
}

// WaitAction pauses the loop. The controller clamps Seconds.
type WaitAction struct {
	Seconds float64
	Reason  string
}

// SearchWebAction asks the search oracle to resolve a query.
type SearchWebAction struct {
	Query string
}

// VerifyAction asks a yes/no question about the current page.
type VerifyAction struct {
	Question string
	Expected string
}

// CompleteAction ends the run with the model's message.
type CompleteAction struct {
	Message string
	Success bool
}

// ErrorAction ends the run as failed, unless Code marks it as produced locally for
// an unusable reply.
type ErrorAction struct {
	Message string
	// Code is set by the oracle, never read from the wire.
	Code ErrorCode
}

// UnknownAction carries an action name outside the vocabulary. The controller
// records it and moves on.
type UnknownAction struct {
	Name string
}

func (NavigateAction) Kind() Kind  { return KindNavigate }
func (ClickAction) Kind() Kind     { return KindClick }
func (TypeAction) Kind() Kind      { return KindType }
func (PressKeyAction) Kind() Kind  { return KindPressKey }
func (ScrollAction) Kind() Kind    { return KindScroll }
func (GoBackAction) Kind() Kind    { return KindGoBack }
func (WaitAction) Kind() Kind      { return KindWait }
func (SearchWebAction) Kind() Kind { return KindSearchWeb }
func (VerifyAction) Kind() Kind    { return KindVerify }
func (CompleteAction) Kind() Kind  { return KindComplete }
func (ErrorAction) Kind() Kind     { return KindError }
func (a UnknownAction) Kind() Kind { return Kind(a.Name) }

// metricKind folds invented kinds into KindUnknown so label values stay bounded.
func metricKind(a Action) Kind {
	if _, ok := a.(UnknownAction); ok {
		return KindUnknown
	}
	return a.Kind()
}

func (NavigateAction) isAction()  {}
func (ClickAction) isAction()     {}
func (TypeAction) isAction()      {}
func (PressKeyAction) isAction()  {}
func (ScrollAction) isAction()    {}
func (GoBackAction) isAction()    {}
func (WaitAction) isAction()      {}
func (SearchWebAction) isAction() {}
func (VerifyAction) isAction()    {}
func (CompleteAction) isAction()  {}
func (ErrorAction) isAction()     {}
func (UnknownAction) isAction()   {}

// describe renders an action for logs.
func describe(a Action) string {
	switch v := a.(type) {
	case NavigateAction:
		return fmt.Sprintf("navigate %s", v.URL)
	case ClickAction:
		return fmt.Sprintf("click (%d, %d) %s", v.X, v.Y, v.Reason)
	case TypeAction:
		return fmt.Sprintf("type %q", v.Text)
	case PressKeyAction:
		return fmt.Sprintf("press %s", v.Key)
	case ScrollAction:
		return fmt.Sprintf("scroll %s %d", v.Direction, v.Amount)
	case GoBackAction:
		return "go back"
	case WaitAction:
		return fmt.Sprintf("wait %gs", v.Seconds)
	case SearchWebAction:
		return fmt.Sprintf("search %q", v.Query)
	case VerifyAction:
		return fmt.Sprintf("verify %q expecting %q", v.Question, v.Expected)
	case CompleteAction:
		return fmt.Sprintf("complete success=%t %s", v.Success, v.Message)
	case ErrorAction:
		return fmt.Sprintf("error %s", v.Message)
	case UnknownAction:
		return fmt.Sprintf("unknown %q", v.Name)
	default:
		return fmt.Sprintf("%T", a)
	}
}
