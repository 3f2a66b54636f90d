package decider

import "errors"

var (
	// ErrEffectApplicationFailed means an immediate effect could not be applied.
	ErrEffectApplicationFailed = errors.New("decider: effect application failed")
	// ErrPreconditionRecheckFailed means the world changed between planning
	// and execution: a precondition no longer holds or the target vanished.
	ErrPreconditionRecheckFailed = errors.New("decider: precondition recheck failed")
	// ErrBehaviorFailed means the node's behavior reported an error.
	ErrBehaviorFailed = errors.New("decider: behavior failed")
	// ErrNoCompletePlan means no eligible drive produced a selectable plan.
	ErrNoCompletePlan = errors.New("decider: no complete plan found")
)
