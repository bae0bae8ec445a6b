// internal/agent/codec.go
package agent

import (
	"errors"
	"fmt"
	"math"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireAction is the flat JSON object exchanged with the model. Pointers distinguish
// an absent field from a zero value where the two decode differently.
type wireAction struct {
	Action    string   `json:"action"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	URL       string   `json:"url,omitempty"`
	Text      *string  `json:"text,omitempty"`
	Key       *string  `json:"key,omitempty"`
	Seconds   *float64 `json:"seconds,omitempty"`
	Direction string   `json:"direction,omitempty"`
	Amount    *float64 `json:"amount,omitempty"`
	Query     string   `json:"query,omitempty"`
	Question  string   `json:"question,omitempty"`
	Expected  *string  `json:"expected,omitempty"`
	Message   string   `json:"message,omitempty"`
	Success   *bool    `json:"success,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Defaults applied when the model leaves a field out.
const (
	defaultKey      = "Enter"
	defaultExpected = "yes"
	defaultWait     = 2.0
	defaultScroll   = "down"
)

// knownKinds are the action names ParseAction maps to a concrete variant.
var knownKinds = map[Kind]bool{
	KindNavigate: true, KindClick: true, KindType: true, KindPressKey: true, KindScroll: true,
	KindGoBack: true, KindWait: true, KindSearchWeb: true, KindVerify: true, KindComplete: true, KindError: true,
}

// NormalizeAction returns a in the canonical form ParseAction yields for it, so that
// ParseAction(MarshalAction(a)) equals NormalizeAction(a). Actions with no valid
// encoding are an error.
func NormalizeAction(a Action) (Action, error) {
	switch v := a.(type) {
	case NavigateAction:
		v.URL = strings.TrimSpace(v.URL)
		if v.URL == "" {
			return nil, errors.New("navigate requires url")
		}
		return v, nil
	case ScrollAction:
		if v.Direction == "" {
			v.Direction = defaultScroll
		}
		return v, nil
	case SearchWebAction:
		if strings.TrimSpace(v.Query) == "" {
			return nil, errors.New("search_web requires query")
		}
		return v, nil
	case UnknownAction:
		v.Name = strings.TrimSpace(v.Name)
		if v.Name == "" || knownKinds[Kind(strings.ToLower(v.Name))] {
			return nil, fmt.Errorf("invalid unknown action name %q", v.Name)
		}
		return v, nil
	}
	return a, nil
}

// MarshalAction encodes the normalized form of a in the wire format the model is
// asked to produce.
func MarshalAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, errors.New("cannot encode a nil action")
	}
	a, err := NormalizeAction(a)
	if err != nil {
		return nil, err
	}
	w := wireAction{Action: string(a.Kind())}
	switch v := a.(type) {
	case NavigateAction:
		w.URL = v.URL
	case ClickAction:
		w.X, w.Y = floatPtr(float64(v.X)), floatPtr(float64(v.Y))
		w.Reason = v.Reason
	case TypeAction:
		w.Text = &v.Text
		w.Reason = v.Reason
	case PressKeyAction:
		w.Key = &v.Key
		w.Reason = v.Reason
	case ScrollAction:
		w.Direction = v.Direction
		w.Amount = floatPtr(float64(v.Amount))
		w.Reason = v.Reason
	case GoBackAction:
		w.Reason = v.Reason
	case WaitAction:
		w.Seconds = floatPtr(v.Seconds)
		w.Reason = v.Reason
	case SearchWebAction:
		w.Query = v.Query
	case VerifyAction:
		w.Question = v.Question
		w.Expected = &v.Expected
	case CompleteAction:
		w.Message = v.Message
		w.Success = &v.Success
	case ErrorAction:
		w.Message = v.Message
	case UnknownAction:
	default:
		return nil, fmt.Errorf("cannot encode action of type %T", a)
	}
	return json.Marshal(w)
}

// ParseAction decodes one wire object. Unknown action names decode to UnknownAction;
// a missing name or a variant without its required fields is an error.
func ParseAction(data []byte) (Action, error) {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("invalid action json: %w", err)
	}

	name := Kind(strings.ToLower(strings.TrimSpace(w.Action)))
	switch name {
	case "":
		return nil, errors.New("action field is missing")
	case KindNavigate:
		if strings.TrimSpace(w.URL) == "" {
			return nil, errors.New("navigate requires url")
		}
		return NavigateAction{URL: strings.TrimSpace(w.URL)}, nil
	case KindClick:
		if w.X == nil || w.Y == nil {
			return nil, errors.New("click requires x and y")
		}
		return ClickAction{X: roundInt(*w.X), Y: roundInt(*w.Y), Reason: w.Reason}, nil
	case KindType:
		if w.Text == nil {
			return nil, errors.New("type requires text")
		}
		return TypeAction{Text: *w.Text, Reason: w.Reason}, nil
	case KindPressKey:
		key := defaultKey
		if w.Key != nil {
			key = *w.Key
		}
		return PressKeyAction{Key: key, Reason: w.Reason}, nil
	case KindScroll:
		direction := w.Direction
		if w.Direction == "" {
			direction = defaultScroll
		}
		var amount int
		if w.Amount != nil {
			amount = roundInt(*w.Amount)
		}
		return ScrollAction{Direction: direction, Amount: amount, Reason: w.Reason}, nil
	case KindGoBack:
		return GoBackAction{Reason: w.Reason}, nil
	case KindWait:
		seconds := defaultWait
		if w.Seconds != nil {
			seconds = *w.Seconds
		}
		return WaitAction{Seconds: seconds, Reason: w.Reason}, nil
	case KindSearchWeb:
		if strings.TrimSpace(w.Query) == "" {
			return nil, errors.New("search_web requires query")
		}
		return SearchWebAction{Query: w.Query}, nil
	case KindVerify:
		expected := defaultExpected
		if w.Expected != nil {
			expected = *w.Expected
		}
		return VerifyAction{Question: w.Question, Expected: expected}, nil
	case KindComplete:
		success := true
		if w.Success != nil {
			success = *w.Success
		}
		return CompleteAction{Message: w.Message, Success: success}, nil
	case KindError:
		return ErrorAction{Message: w.Message}, nil
	default:
		return UnknownAction{Name: strings.TrimSpace(w.Action)}, nil
	}
}

func floatPtr(f float64) *float64 { return &f }

func roundInt(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(math.Round(f))
}
