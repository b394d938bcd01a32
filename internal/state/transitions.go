package state

// validTransitions lists the allowed moves. Idle and error are reachable from anywhere.
var validTransitions = map[State][]State{
	StateIdle: {
		StateMaterialEditing,
		StatePushTitle,
		StateCategoryName,
		StateUserSearch,
		StateWithdrawalReject,
	},
	StateMaterialEditing: {
		StateMaterialField,
		StateMaterialConfirmDiscard,
	},
	StateMaterialField: {
		StateMaterialEditing,
	},
	StateMaterialConfirmDiscard: {
		StateMaterialEditing,
	},
	StatePushTitle: {
		StatePushBody,
	},
	StatePushBody: {
		StatePushURL,
	},
	StatePushURL: {
		StatePushTarget,
	},
	StatePushTarget: {
		StatePushConfirm,
	},
	StatePushConfirm: {
		StatePushTitle,
	},
}

// IsTransitionAllowed reports whether moving from one state to another is valid.
func IsTransitionAllowed(from, to State) bool {
	if to == StateError || to == StateIdle {
		return true
	}

	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	for _, state := range allowed {
		if state == to {
			return true
		}
	}

	return false
}
