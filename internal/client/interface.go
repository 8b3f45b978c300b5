package client

import (
	"context"

	"github.com/mattjoyce/keybridge/internal/journal"
)

//go:generate mockgen -destination=mocks/mock_journal.go -package=mocks github.com/mattjoyce/keybridge/internal/client Journal

// Journal records finished calls.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}
