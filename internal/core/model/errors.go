package model

import (
	"errors"
	"fmt"
)

// Stage names a step of the answering pipeline.
type Stage string

const (
	StageLinking    Stage = "linking"
	StageRetrieval  Stage = "retrieval"
	StageRanking    Stage = "ranking"
	StageAssembly   Stage = "assembly"
	StageGeneration Stage = "generation"
	StageCitation   Stage = "citation"
)

var (
	ErrLinkingEmpty     = errors.New("no entity in the question could be linked to the graph")
	ErrGraphUnavailable = errors.New("graph store unavailable")
	ErrBudgetExceeded   = errors.New("seed entities exceed the context budget")
	ErrGenerationFailed = errors.New("answer generation failed")
	ErrInvalidWeights   = errors.New("invalid ranking weights")
	ErrNodeNotFound     = errors.New("node not found")
)

// Diagnostic records a failure or degradation and the stage that produced it.
type Diagnostic struct {
	Stage   Stage  `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StageError is returned by pipeline stages.
type StageError struct {
	Stage Stage
	Err   error
}

func NewStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Diagnostic() Diagnostic {
	return Diagnostic{Stage: e.Stage, Code: Code(e.Err), Message: e.Err.Error()}
}

// Code maps an error onto the taxonomy name used in diagnostics.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLinkingEmpty):
		return "LinkingEmpty"
	case errors.Is(err, ErrGraphUnavailable):
		return "GraphUnavailable"
	case errors.Is(err, ErrBudgetExceeded):
		return "BudgetExceeded"
	case errors.Is(err, ErrGenerationFailed):
		return "GenerationFailed"
	case errors.Is(err, ErrInvalidWeights):
		return "InvalidWeights"
	}
	return "Internal"
}

// DiagnosticFor builds a diagnostic for err attributed to stage unless err
// already carries its own stage.
func DiagnosticFor(stage Stage, err error) Diagnostic {
	var se *StageError
	if errors.As(err, &se) {
		return se.Diagnostic()
	}
	return Diagnostic{Stage: stage, Code: Code(err), Message: err.Error()}
}
