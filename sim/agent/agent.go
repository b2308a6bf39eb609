// Package agent implements the concurrent actors of a farm run: farmers moving
// animals from the depot to the fields, buyers draining the fields, and the
// delivery producer refilling the depot.
//
// Every agent paces itself on a sim.TickSource and exposes Run(ctx), which
// returns nil once ctx is cancelled or the clock stops. Any other error is a
// real failure and should end the run.
package agent

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/fernandobusta/farm-concurrency/sim"
)

// Field is the part of a holding area agents use. *sim.HoldingArea implements it.
type Field interface {
	Species() string
	Stock(ctx context.Context, amount int) (int, error)
	TakeOne(ctx context.Context, callerID string) error
	Lock(ctx context.Context) error
	Unlock()
}

// Allocator hands animals to farmers. *sim.Depot implements it.
type Allocator interface {
	Allocate(ctx context.Context, requesterID string, capacity int) (map[string]int, error)
	Available() int
}

// Depositor receives deliveries. *sim.Depot implements it.
type Depositor interface {
	Deposit(delivery map[string]int) error
}

var (
	_ Field     = (*sim.HoldingArea)(nil)
	_ Allocator = (*sim.Depot)(nil)
	_ Depositor = (*sim.Depot)(nil)
)

// exit maps the error that ended an agent loop to the agent's Run result.
func exit(log *logrus.Entry, err error) error {
	if errors.Is(err, sim.ErrCancelled) {
		log.Debug("stopping")
		return nil
	}
	log.WithError(err).Error("agent failed")
	return err
}
