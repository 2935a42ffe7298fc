package storage

import (
	"context"
	"errors"

	"arithevo/internal/model"
)

// Store persists run telemetry. Learned value tables are never stored.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveRewardHistory(ctx context.Context, runID string, history []float64) error
	GetRewardHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveMasteryEvents(ctx context.Context, runID string, events []model.MasteryEvent) error
	GetMasteryEvents(ctx context.Context, runID string) ([]model.MasteryEvent, bool, error)
}

var errNotInitialized = errors.New("store is not initialized")
