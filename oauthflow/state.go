package oauthflow

// State is the position of the Controller in a sign in attempt.
type State int

const (
	Idle State = iota
	AwaitingRedirect
	ExchangeInFlight
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingRedirect:
		return "awaiting_redirect"
	case ExchangeInFlight:
		return "exchange_in_flight"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
