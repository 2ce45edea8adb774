package conversation

import "errors"

var (
	// ErrPreconditionFailed is returned when the learner has no proficiency level.
	ErrPreconditionFailed = errors.New("proficiency level is required")

	// ErrUpstreamUnavailable wraps transport failures of the generative endpoint.
	ErrUpstreamUnavailable = errors.New("generative model unavailable")

	// ErrUpstreamContractViolation is returned when a response carries neither
	// text nor a recognized safety signal.
	ErrUpstreamContractViolation = errors.New("unexpected generative model response")
)
