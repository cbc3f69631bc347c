package server

import (
	"errors"

	"github.com/rs/zerolog"

	"yar-rpc/message"
)

// Reporter logs failures turned into EXCEPTION responses. Errors matching an
// entry of dontReport (errors.Is) are still answered but not logged.
type Reporter struct {
	logger     zerolog.Logger
	dontReport []error
}

func NewReporter(logger zerolog.Logger, dontReport ...error) *Reporter {
	return &Reporter{logger: logger, dontReport: dontReport}
}

func (r *Reporter) Report(req *message.Request, err error) {
	if r.shouldntReport(err) {
		return
	}
	r.logger.Error().
		Err(err).
		Uint32("id", req.ID).
		Str("method", req.Method).
		Msg("request failed")
}

func (r *Reporter) shouldntReport(err error) bool {
	for _, target := range r.dontReport {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
