package service

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Task is one long-running loop owned by the supervisor.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor runs the monitor, sweeper and notification dispatcher. The
// first task to return an error (store corruption is the only expected
// cause) cancels the rest and is surfaced to the caller, which terminates
// the process; every store write is atomic so a restart recovers.
type Supervisor struct {
	tasks []Task
}

// NewSupervisor creates a supervisor over the given tasks.
func NewSupervisor(tasks ...Task) *Supervisor {
	return &Supervisor{tasks: tasks}
}

// Run blocks until every task has returned. The first failure cancels the
// other tasks and is the error returned.
func (s *Supervisor) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	for _, task := range s.tasks {
		group.Go(func() error {
			log.Info().Str("task", task.Name).Msg("Task started")
			err := task.Run(ctx)
			if err != nil {
				log.Error().Str("task", task.Name).Err(err).Msg("Task failed")
			} else {
				log.Info().Str("task", task.Name).Msg("Task finished")
			}
			return err
		})
	}

	return group.Wait()
}
