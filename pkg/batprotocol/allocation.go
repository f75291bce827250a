package batprotocol

import (
	"github.com/pkg/errors"

	"github.com/batsched/batsched/internal/common/edcerrors"
	"github.com/batsched/batsched/pkg/intervalset"
)

// AllocationPlacement is the decoded form of an ExecuteJob decision.
type AllocationPlacement struct {
	Hosts intervalset.Set
	// Set when CustomMapping is nil.
	Strategy PredefinedStrategy
	// Executor index to host id.
	CustomMapping []uint32
	// Placement of the sub-profiles of a composite job, by profile id.
	// Overrides have no overrides or storage mapping of their own.
	ProfileOverrides map[string]*AllocationPlacement
	// Storage name to host id, for data staging profiles.
	StorageMapping map[string]uint32
}

func (p *AllocationPlacement) HasCustomMapping() bool {
	return p.CustomMapping != nil
}

// DecodeAllocation turns the allocation of an ExecuteJob decision into an AllocationPlacement.
// Any malformed part of the decision results in an *edcerrors.ErrProtocolViolation.
func DecodeAllocation(decision *ExecuteJob) (*AllocationPlacement, error) {
	placement, err := decodePlacement(decision.Allocation.HostAllocation, decision.Allocation.ExecutorPlacement)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid allocation for job %s", decision.JobId)
	}
	if len(decision.ProfileAllocationOverride) > 0 {
		placement.ProfileOverrides = make(map[string]*AllocationPlacement, len(decision.ProfileAllocationOverride))
		for _, override := range decision.ProfileAllocationOverride {
			if override.ProfileId == "" {
				return nil, edcerrors.NewProtocolViolation("allocation override for job %s has no profile id", decision.JobId)
			}
			if _, ok := placement.ProfileOverrides[override.ProfileId]; ok {
				return nil, edcerrors.NewProtocolViolation(
					"job %s has several allocation overrides for profile %s", decision.JobId, override.ProfileId,
				)
			}
			overridePlacement, err := decodePlacement(override.HostAllocation, override.ExecutorPlacement)
			if err != nil {
				return nil, errors.WithMessagef(
					err, "invalid allocation override for profile %s of job %s", override.ProfileId, decision.JobId,
				)
			}
			placement.ProfileOverrides[override.ProfileId] = overridePlacement
		}
	}
	if len(decision.StoragePlacement) > 0 {
		placement.StorageMapping = make(map[string]uint32, len(decision.StoragePlacement))
		for _, storage := range decision.StoragePlacement {
			if _, ok := placement.StorageMapping[storage.StorageName]; ok {
				return nil, edcerrors.NewProtocolViolation(
					"job %s places storage %s several times", decision.JobId, storage.StorageName,
				)
			}
			placement.StorageMapping[storage.StorageName] = storage.HostId
		}
	}
	return placement, nil
}

func decodePlacement(hostAllocation string, executorPlacement ExecutorPlacement) (*AllocationPlacement, error) {
	hosts, err := ParseHostRange(hostAllocation)
	if err != nil {
		return nil, edcerrors.NewProtocolViolation("%s", err)
	}
	if hosts.IsEmpty() {
		return nil, edcerrors.NewProtocolViolation("empty host allocation")
	}
	placement := &AllocationPlacement{Hosts: hosts}
	switch executorPlacement.Type {
	case PlacementTypePredefinedStrategy:
		switch executorPlacement.Strategy {
		case StrategySpreadOverHostsFirst, StrategyFillOneHostCoresFirst:
			placement.Strategy = executorPlacement.Strategy
		default:
			return nil, edcerrors.NewProtocolViolation("unknown predefined strategy %q", executorPlacement.Strategy)
		}
	case PlacementTypeCustomMapping:
		if len(executorPlacement.Mapping) == 0 {
			return nil, edcerrors.NewProtocolViolation("empty custom executor mapping")
		}
		placement.CustomMapping = make([]uint32, len(executorPlacement.Mapping))
		copy(placement.CustomMapping, executorPlacement.Mapping)
	case PlacementTypeNone, "":
		return nil, edcerrors.NewProtocolViolation("executor placement type must be %s or %s", PlacementTypePredefinedStrategy, PlacementTypeCustomMapping)
	default:
		return nil, edcerrors.NewProtocolViolation("unknown executor placement type %q", executorPlacement.Type)
	}
	return placement, nil
}

// Validate checks the placement against the job it serves:
// the allocation must have exactly requestedHosts hosts, all hosts must exist on a platform of hostCount hosts,
// and custom mappings may only target allocated hosts.
func (p *AllocationPlacement) Validate(requestedHosts, hostCount uint32) error {
	if p.Hosts.Cardinality() != requestedHosts {
		return edcerrors.NewProtocolViolation(
			"allocation %s has %d hosts but %d were requested", p.Hosts, p.Hosts.Cardinality(), requestedHosts,
		)
	}
	if err := p.validateHosts(hostCount); err != nil {
		return err
	}
	for profileId, override := range p.ProfileOverrides {
		if err := override.validateHosts(hostCount); err != nil {
			return errors.WithMessagef(err, "override for profile %s", profileId)
		}
	}
	for storage, host := range p.StorageMapping {
		if host >= hostCount {
			return edcerrors.NewProtocolViolation("storage %s placed on host %d outside of the platform", storage, host)
		}
	}
	return nil
}

func (p *AllocationPlacement) validateHosts(hostCount uint32) error {
	if highest, ok := p.Hosts.Max(); ok && highest >= hostCount {
		return edcerrors.NewProtocolViolation("allocation %s exceeds platform of %d hosts", p.Hosts, hostCount)
	}
	for executor, host := range p.CustomMapping {
		if !p.Hosts.Contains(host) {
			return edcerrors.NewProtocolViolation(
				"executor %d is mapped to host %d outside of allocation %s", executor, host, p.Hosts,
			)
		}
	}
	return nil
}

// ExecutorHosts returns the host of each of the executorCount executors of the job.
// coresPerHost is only used by StrategyFillOneHostCoresFirst.
func (p *AllocationPlacement) ExecutorHosts(executorCount int, coresPerHost uint32) ([]uint32, error) {
	if p.HasCustomMapping() {
		if len(p.CustomMapping) != executorCount {
			return nil, errors.Errorf("custom mapping has %d executors but %d are needed", len(p.CustomMapping), executorCount)
		}
		rv := make([]uint32, executorCount)
		copy(rv, p.CustomMapping)
		return rv, nil
	}
	hosts := p.Hosts.Hosts()
	rv := make([]uint32, executorCount)
	switch p.Strategy {
	case StrategySpreadOverHostsFirst:
		for i := range rv {
			rv[i] = hosts[i%len(hosts)]
		}
	case StrategyFillOneHostCoresFirst:
		if coresPerHost == 0 {
			return nil, errors.New("hosts have no cores")
		}
		for i := range rv {
			rv[i] = hosts[(i/int(coresPerHost))%len(hosts)]
		}
	default:
		return nil, errors.Errorf("unknown strategy %q", p.Strategy)
	}
	return rv, nil
}
