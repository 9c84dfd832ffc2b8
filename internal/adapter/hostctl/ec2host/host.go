// Package ec2host implements C3's WorkerController port on a single AWS
// EC2 instance: start/stop/describe, mirroring the original's
// start_instance/stop_instance/list_ec2_instances helpers, plus the
// background public-IP cache the orchestrator API keeps purely for
// debugging.
package ec2host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

var stateMap = map[types.InstanceStateName]domain.HostState{
	types.InstanceStateNamePending:      domain.HostPending,
	types.InstanceStateNameRunning:      domain.HostRunning,
	types.InstanceStateNameStopping:     domain.HostStopping,
	types.InstanceStateNameStopped:      domain.HostStopped,
	types.InstanceStateNameShuttingDown: domain.HostShuttingDown,
	types.InstanceStateNameTerminated:   domain.HostTerminated,
}

// Host is a domain.WorkerController for one named EC2 instance.
type Host struct {
	client     *ec2.Client
	instanceID string
	logger     *slog.Logger

	mu       sync.RWMutex
	cachedIP string
}

// New builds a Host for the given instance id.
func New(client *ec2.Client, instanceID string, logger *slog.Logger) *Host {
	return &Host{client: client, instanceID: instanceID, logger: logger}
}

// Start requests the instance power on. It does not wait for the
// instance to reach running; callers needing readiness poll
// HealthyAddress, which only returns ok once a public IP is cached.
func (h *Host) Start(ctx context.Context) error {
	_, err := h.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{h.instanceID},
	})
	if err != nil {
		return fmt.Errorf("start instance %s: %w", h.instanceID, err)
	}
	return nil
}

// Stop requests the instance power off. It tolerates being called
// against an instance already stopped or stopping, matching
// lambda_shutdown's no-op branches.
func (h *Host) Stop(ctx context.Context) error {
	state, err := h.State(ctx)
	if err != nil {
		return err
	}
	if state == domain.HostStopped || state == domain.HostStopping {
		h.logger.Info("stop requested but instance already stopping/stopped", slog.String("instance_id", h.instanceID), slog.String("state", string(state)))
		return nil
	}
	_, err = h.client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{h.instanceID},
	})
	if err != nil {
		return fmt.Errorf("stop instance %s: %w", h.instanceID, err)
	}
	return nil
}

// State describes the instance's current lifecycle state.
func (h *Host) State(ctx context.Context) (domain.HostState, error) {
	out, err := h.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{h.instanceID},
	})
	if err != nil {
		return "", fmt.Errorf("describe instance %s: %w", h.instanceID, err)
	}
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			if inst.State == nil {
				continue
			}
			if state, ok := stateMap[inst.State.Name]; ok {
				if inst.PublicIpAddress != nil {
					h.mu.Lock()
					h.cachedIP = aws.ToString(inst.PublicIpAddress)
					h.mu.Unlock()
				}
				return state, nil
			}
		}
	}
	return "", fmt.Errorf("instance %s: %w", h.instanceID, domain.ErrNotFound)
}

// HealthyAddress returns the last-cached public IP. It is a debugging
// convenience only — nothing in the admission or adapter path depends on
// it — refreshed by RefreshLoop on an interval.
func (h *Host) HealthyAddress(ctx context.Context) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cachedIP, h.cachedIP != ""
}

// RefreshLoop periodically refreshes the cached public IP by calling
// State, mirroring the orchestrator API's background gpu_instance_ip
// refresh task. It blocks until ctx is cancelled.
func (h *Host) RefreshLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.State(ctx); err != nil {
				h.logger.Warn("gpu ip refresh failed", slog.Any("error", err))
			}
		}
	}
}
