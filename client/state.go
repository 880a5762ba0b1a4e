package client

import "fmt"

// State is the lifecycle state of the client session
type State int

const (
	// Unauthenticated means no session is held
	Unauthenticated State = iota

	// Authenticating means a sign-in, sign-up or OAuth callback is in flight
	Authenticating

	// Authenticated means a session is held and presumed valid
	Authenticated

	// Validating means the held token is being checked with the Auth API
	Validating

	// Refreshing means the held token failed validation and is being exchanged
	Refreshing
)

var stateNames = map[State]string{
	Unauthenticated: "unauthenticated",
	Authenticating:  "authenticating",
	Authenticated:   "authenticated",
	Validating:      "validating",
	Refreshing:      "refreshing",
}

// String returns the lowercase state name
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the states reachable from each state. Teardown may reach
// Unauthenticated from anywhere.
var transitions = map[State][]State{
	Unauthenticated: {Authenticating, Authenticated},
	Authenticating:  {Authenticated, Unauthenticated},
	Authenticated:   {Validating, Unauthenticated},
	Validating:      {Authenticated, Refreshing, Unauthenticated},
	Refreshing:      {Authenticated, Unauthenticated},
}

// CanTransition reports whether the session may move from one state to another
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
