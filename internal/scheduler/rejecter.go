package scheduler

import (
	"github.com/batsched/batsched/internal/common/edccontext"
	"github.com/batsched/batsched/internal/common/edcerrors"
	"github.com/batsched/batsched/internal/scheduler/jobdb"
	"github.com/batsched/batsched/pkg/batprotocol"
)

// Rejecter rejects every submitted job. It never starts anything.
type Rejecter struct{}

func (p *Rejecter) Name() string {
	return string(PolicyRejecter)
}

func (p *Rejecter) Admit(job *jobdb.Job, _ uint32) error {
	return &edcerrors.ErrInvalidJobRequest{JobId: job.Id, Reason: "every job is rejected"}
}

func (p *Rejecter) Schedule(_ *edccontext.Context, _ *Txn, _ float64, _ *batprotocol.MessageBuilder) (*CycleResult, error) {
	return &CycleResult{}, nil
}
