package store

import "clinic/registration-service/internal/models"

const ActionVoid = "void"

// Voided is terminal: no action lists it as an allowed source state.
var transitionMap = map[string][]string{
	ActionVoid: {models.StatusActive},
}

var transitionTargets = map[string]string{
	ActionVoid: models.StatusVoided,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// Apply returns the status reached by action from fromStatus.
func Apply(action, fromStatus string) (string, error) {
	if !ValidTransition(action, fromStatus) {
		if fromStatus == models.StatusVoided {
			return "", ErrAlreadyVoided
		}
		return "", ErrInvalidTransition
	}
	return transitionTargets[action], nil
}
