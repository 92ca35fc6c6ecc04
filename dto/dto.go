package dto

import (
	"github.com/google/uuid"
	"live-monitor/constant"
	"strings"
)

// EvaluateMessage is the body of a poll tick on the evaluation queue.
type EvaluateMessage struct {
	AccountId uuid.UUID `json:"accountId"`
}

type CreateAccountRequest struct {
	Handle string `json:"handle" binding:"required"`
	URL    string `json:"url"`
}

// NormalizedHandle strips whitespace and a leading @.
func (r CreateAccountRequest) NormalizedHandle() string {
	return strings.TrimPrefix(strings.TrimSpace(r.Handle), "@")
}

type ResolveAlertRequest struct {
	Status constant.AlertStatus `json:"status" binding:"required"`
	Notes  string               `json:"notes"`
}
