package conversation

import (
	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/session"
)

// edges is the forward edge set of the state machine. EXPIRED has no
// inbound edge: only the retention window moves a session there.
var edges = map[session.State][]session.State{
	session.StateInit:             {session.StateQuestionsAsked},
	session.StateQuestionsAsked:   {session.StateGatheringDetails},
	session.StateGatheringDetails: {session.StateEstimateReady},
	session.StateEstimateReady:    {session.StateQuoteRequested, session.StateSubscribed},
	session.StateQuoteRequested:   {session.StateComplete},
	session.StateSubscribed:       {session.StateComplete},
}

// reachable[from] is the set of states reachable from `from` by following
// one or more edges.
var reachable = closure()

func closure() map[session.State]map[session.State]bool {
	out := make(map[session.State]map[session.State]bool, len(edges))
	for from := range edges {
		seen := map[session.State]bool{}
		stack := append([]session.State(nil), edges[from]...)
		for len(stack) > 0 {
			s := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[s] {
				continue
			}
			seen[s] = true
			stack = append(stack, edges[s]...)
		}
		out[from] = seen
	}
	return out
}

// Reachable reports whether to can be reached from from.
func Reachable(from, to session.State) bool {
	return reachable[from][to]
}

// CheckTransition validates an explicit jump from one state to another.
// QUOTE_REQUESTED and SUBSCRIBED are never explicit targets: they are entered
// only through RequestQuote and Subscribe, which record the lead and notify
// sales.
func CheckTransition(from, to session.State) error {
	switch {
	case to == session.StateExpired:
		return &perrors.TransitionError{From: string(from), To: string(to), Reason: "sessions expire automatically"}
	case to == session.StateQuoteRequested:
		return &perrors.TransitionError{From: string(from), To: string(to), Reason: "use the quote request action"}
	case to == session.StateSubscribed:
		return &perrors.TransitionError{From: string(from), To: string(to), Reason: "use the subscribe action"}
	case from == session.StateComplete:
		return &perrors.TransitionError{From: string(from), To: string(to), Reason: "conversation is complete"}
	case from == session.StateExpired:
		return &perrors.TransitionError{From: string(from), To: string(to), Reason: "session has expired"}
	case from == to:
		return &perrors.TransitionError{From: string(from), To: string(to), Reason: "session is already in this state"}
	case !Reachable(from, to):
		return &perrors.TransitionError{From: string(from), To: string(to), Reason: "state is not reachable from the current state"}
	}
	return nil
}

// Progress milestones.
const (
	progressQuestions = 20
	progressGathering = 40
	progressGathered  = 70
	progressEstimate  = 75
	progressLead      = 90
	progressDone      = 100
)

// progressFor computes progress from state and the number of recorded
// clarifying answers. required is the answer count that completes
// GATHERING_DETAILS.
func progressFor(state session.State, answers, required int) int {
	switch state {
	case session.StateInit:
		return 0
	case session.StateQuestionsAsked:
		return progressQuestions
	case session.StateGatheringDetails:
		if required <= 0 {
			return progressGathered
		}
		if answers > required {
			answers = required
		}
		if answers < 0 {
			answers = 0
		}
		return progressGathering + (progressGathered-progressGathering)*answers/required
	case session.StateEstimateReady:
		return progressEstimate
	case session.StateQuoteRequested, session.StateSubscribed:
		return progressLead
	case session.StateComplete:
		return progressDone
	}
	return 0
}
