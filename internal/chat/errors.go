package chat

import (
	"errors"
	"net/http"

	"github.com/ashureev/tutor-ai/internal/conversation"
	"github.com/ashureev/tutor-ai/internal/prompts"
)

// statusFor maps a Send error to an HTTP status and the fixed message shown
// to the learner. Upstream detail never reaches the client.
func statusFor(err error, msgs prompts.Messages) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrPreconditionFailed):
		return http.StatusBadRequest, msgs.LevelRequired
	case errors.Is(err, conversation.ErrUpstreamUnavailable):
		return http.StatusBadGateway, msgs.UpstreamUnavailable
	default:
		return http.StatusInternalServerError, msgs.GenericFailure
	}
}
