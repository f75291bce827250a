package replay

import (
	"fmt"
	"math"

	"github.com/batsched/batsched/pkg/batprotocol"
)

// Result summarises a replay.
type Result struct {
	RunId             string       `json:"run_id"`
	Platform          string       `json:"platform"`
	Workload          string       `json:"workload"`
	DecisionComponent string       `json:"decision_component"`
	Makespan          float64      `json:"makespan"`
	NumMessages       int          `json:"num_messages"`
	NumDecisions      int          `json:"num_decisions"`
	NumCompleted      int          `json:"num_completed"`
	NumRejected       int          `json:"num_rejected"`
	NumKilled         int          `json:"num_killed"`
	MeanWaitingTime   float64      `json:"mean_waiting_time"`
	MaxWaitingTime    float64      `json:"max_waiting_time"`
	Energy            float64      `json:"energy"`
	Jobs              []*JobResult `json:"jobs"`
}

type JobResult struct {
	Id         string                    `json:"id"`
	State      batprotocol.FinalJobState `json:"state"`
	SubmitTime float64                   `json:"submit_time"`
	// Only set for jobs that ran.
	StartTime    float64                   `json:"start_time,omitempty"`
	FinishTime   float64                   `json:"finish_time"`
	Hosts        string                    `json:"hosts,omitempty"`
	KillProgress *batprotocol.KillProgress `json:"kill_progress,omitempty"`
}

func (result *Result) String() string {
	return fmt.Sprintf(
		"{Makespan: %g, NumCompleted: %d, NumRejected: %d, NumKilled: %d, MeanWaitingTime: %g, Energy: %g, NumMessages: %d}",
		result.Makespan, result.NumCompleted, result.NumRejected, result.NumKilled, result.MeanWaitingTime,
		result.Energy, result.NumMessages,
	)
}

// JobById returns the result of the job with the given id, or nil.
func (result *Result) JobById(jobId string) *JobResult {
	for _, job := range result.Jobs {
		if job.Id == jobId {
			return job
		}
	}
	return nil
}

func (r *Replayer) result() *Result {
	result := &Result{
		RunId:             r.RunId,
		Platform:          r.Platform.Name,
		Workload:          r.Workload.Name,
		DecisionComponent: r.edcName,
		NumMessages:       r.numMessages,
		NumDecisions:      r.numDecisions,
		Jobs:              make([]*JobResult, 0, len(r.jobOrder)),
	}
	started := 0
	totalWaitingTime := 0.0
	for _, record := range r.jobOrder {
		job := &JobResult{
			Id:           record.id,
			State:        record.finalState,
			SubmitTime:   record.submitTime,
			FinishTime:   record.finishTime,
			KillProgress: record.progress,
		}
		switch record.finalState {
		case batprotocol.FinalJobStateRejected:
			result.NumRejected++
		case batprotocol.FinalJobStateCompletedKilled:
			result.NumKilled++
		default:
			result.NumCompleted++
		}
		if !record.hosts.IsEmpty() {
			job.StartTime = record.startTime
			job.Hosts = record.hosts.String()
			waitingTime := record.startTime - record.submitTime
			totalWaitingTime += waitingTime
			result.MaxWaitingTime = math.Max(result.MaxWaitingTime, waitingTime)
			started++
		}
		result.Makespan = math.Max(result.Makespan, record.finishTime)
		result.Jobs = append(result.Jobs, job)
	}
	if started > 0 {
		result.MeanWaitingTime = totalWaitingTime / float64(started)
	}
	result.Energy = r.meter.Total(result.Makespan)
	return result
}
