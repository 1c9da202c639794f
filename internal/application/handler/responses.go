package handler

import (
	"intake/internal/application/models"
	"intake/internal/resolution"
)

// SubmitResponse returns the saved record with the findings seen at save time.
type SubmitResponse struct {
	Application *models.Application       `json:"application"`
	Findings    []models.DuplicateFinding `json:"findings"`
}

// ReviewResponse is the 409 body for a save held for duplicate review.
type ReviewResponse struct {
	Error            string                    `json:"error"`
	ErrorDescription string                    `json:"error_description"`
	Findings         []models.DuplicateFinding `json:"findings"`
	Threshold        float64                   `json:"threshold"`
}

// FindingsResponse answers a duplicate check. Blocking holds the findings at
// or above the configured threshold.
type FindingsResponse struct {
	Findings  []models.DuplicateFinding `json:"findings"`
	Blocking  []models.DuplicateFinding `json:"blocking"`
	Threshold float64                   `json:"threshold"`
}

type ExistsResponse struct {
	ID     string `json:"id"`
	Exists bool   `json:"exists"`
}

type ListResponse struct {
	Applications []*models.Application `json:"applications"`
	Count        int                   `json:"count"`
}

type DocumentResponse struct {
	Application *models.Application `json:"application"`
	Version     int                 `json:"version"`
}

type ImportResponse struct {
	Submitted int `json:"submitted"`
	Imported  int `json:"imported"`
	Skipped   int `json:"skipped"`
}

type OutcomeResponse struct {
	Survivor  *models.Application `json:"survivor"`
	Loser     *models.Application `json:"loser"`
	Repointed []string            `json:"repointed,omitempty"`
}

func fromOutcome(o *resolution.Outcome) OutcomeResponse {
	return OutcomeResponse{Survivor: o.Survivor, Loser: o.Loser, Repointed: o.Repointed}
}

func nonNil(findings []models.DuplicateFinding) []models.DuplicateFinding {
	if findings == nil {
		return []models.DuplicateFinding{}
	}
	return findings
}
