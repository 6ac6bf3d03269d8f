package reject

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	genericUnexpectedError string = "error.generic.unexpected"
	cannotParseParams      string = "error.generic.cannot-parse-params"
	invalidRequest         string = "error.generic.invalid-request-payload"
	cannotParseBody        string = "error.generic.cannot-parse-payload"
	genericNotFound        string = "error.generic.not-found"
	databaseError          string = "error.data.access"
)

func RequestValidationProblem(details ...ProblemDetail) Problem {
	return NewProblem().
		WithTitle("Invalid request payload").
		WithStatus(http.StatusBadRequest).
		WithCode(invalidRequest).
		WithErrors(details).
		Build()
}

func RequestParamsProblem() Problem {
	return NewProblem().
		WithTitle("Invalid request parameters").
		WithStatus(http.StatusBadRequest).
		WithCode(cannotParseParams).
		Build()
}

func BodyParseProblem() Problem {
	return NewProblem().
		WithTitle("Cannot read payload").
		WithStatus(http.StatusBadRequest).
		WithCode(cannotParseBody).
		Build()
}

func NotFoundProblem() Problem {
	return NewProblem().
		WithTitle("Record not found").
		WithStatus(http.StatusNotFound).
		WithCode(genericNotFound).
		Build()
}

func DatabaseProblem(err error) Problem {
	traceId := uuid.NewString()
	log.Warn().Err(err).Str("traceId", traceId).Msg("Database error while handling request")
	return NewProblem().
		WithTitle("Trouble fetching data from database").
		WithStatus(http.StatusInternalServerError).
		WithCode(databaseError).
		WithParam("traceId", traceId).
		Build()
}

func UnexpectedProblem(err error) Problem {
	traceId := uuid.NewString()
	log.Warn().Err(err).Str("traceId", traceId).Msg("Unexpected error while handling request")
	return NewProblem().
		WithTitle("Unexpected error").
		WithStatus(http.StatusInternalServerError).
		WithCode(genericUnexpectedError).
		WithParam("traceId", traceId).
		Build()
}
