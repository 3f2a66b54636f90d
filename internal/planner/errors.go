package planner

import "errors"

var (
	// ErrDeadEndBranch marks a branch where a failing precondition has no
	// provider. Handled inside the search and never returned to callers.
	ErrDeadEndBranch = errors.New("planner: dead-end branch")

	// ErrSearchCeilingExceeded means the iteration or decision-path guard
	// tripped. Usually a cyclic or explosive catalog.
	ErrSearchCeilingExceeded = errors.New("planner: search ceiling exceeded")

	// ErrTargetBindingFailed means no entity passed a node's target checks.
	ErrTargetBindingFailed = errors.New("planner: target binding failed")
)
