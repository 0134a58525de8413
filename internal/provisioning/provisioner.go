package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/voice-orchestrator/pkg/logging"
)

var provisionTracer = otel.Tracer("voice.internal.provisioning")

const defaultProvisionTimeout = 10 * time.Second

// CreateCallRequest identifies the agent a call is created for.
type CreateCallRequest struct {
	AgentID      string `json:"agent_id"`
	AgentVersion int    `json:"agent_version,omitempty"`
}

// CreateCallResponse is the provider's answer to a call creation.
type CreateCallResponse struct {
	AccessToken string     `json:"access_token"`
	CallID      string     `json:"call_id"`
	CallStatus  CallStatus `json:"call_status"`
}

// CallCreator is the external call-creation capability.
type CallCreator interface {
	CreateCall(ctx context.Context, req CreateCallRequest) (*CreateCallResponse, error)
}

// VersionSource supplies the configured version for an agent.
type VersionSource interface {
	Version(agentID string) int
}

type provisionObserver interface {
	ObserveProvision(outcome string, seconds float64)
}

// Provisioner wraps a CallCreator and turns every attempt into a typed Result.
// It makes exactly one attempt per call; retry policy belongs to the caller.
type Provisioner struct {
	creator  CallCreator
	versions VersionSource
	timeout  time.Duration
	metrics  provisionObserver
	logger   *logging.Logger
}

// ProvisionerConfig configures a Provisioner.
type ProvisionerConfig struct {
	Creator CallCreator
	// Versions pins the agent version when a request carries no override.
	Versions VersionSource
	// Timeout bounds a single provider call, independent of session idle timeout.
	Timeout time.Duration
	Metrics provisionObserver
	Logger  *logging.Logger
}

// NewProvisioner builds a provisioner.
func NewProvisioner(cfg ProvisionerConfig) *Provisioner {
	if cfg.Creator == nil {
		panic("provisioning: call creator cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProvisionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Provisioner{
		creator:  cfg.Creator,
		versions: cfg.Versions,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Provision requests a call for agentID. agentVersion overrides the
// directory's configured version when positive.
func (p *Provisioner) Provision(ctx context.Context, agentID string, agentVersion int) Result {
	if agentVersion <= 0 && p.versions != nil {
		agentVersion = p.versions.Version(agentID)
	}

	ctx, span := provisionTracer.Start(ctx, "provisioning.create_call")
	defer span.End()
	span.SetAttributes(
		attribute.String("voice.agent_id", agentID),
		attribute.Int("voice.agent_version", agentVersion),
	)

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.creator.CreateCall(callCtx, CreateCallRequest{AgentID: agentID, AgentVersion: agentVersion})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("provider timed out after %s", p.timeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		p.observe("failed", elapsed)
		p.logger.Warn("provisioning: create call failed", "agent_id", agentID, "error", err)
		return &Failed{Reason: reason}
	}
	if resp == nil || resp.CallID == "" {
		span.SetStatus(codes.Error, "missing call id")
		p.observe("failed", elapsed)
		p.logger.Warn("provisioning: provider returned no call id", "agent_id", agentID)
		return &Failed{Reason: "provider returned no call id"}
	}

	span.SetAttributes(
		attribute.String("voice.call_id", resp.CallID),
		attribute.String("voice.call_status", string(resp.CallStatus)),
	)
	outcome := "provisioned"
	if !resp.CallStatus.Healthy() {
		outcome = "degraded"
		p.logger.Warn("provisioning: call created in unhealthy state",
			"agent_id", agentID,
			"call_id", resp.CallID,
			"call_status", resp.CallStatus,
		)
	}
	p.observe(outcome, elapsed)

	return &Provisioned{
		AccessToken: resp.AccessToken,
		CallID:      resp.CallID,
		CallStatus:  resp.CallStatus,
	}
}

func (p *Provisioner) observe(outcome string, seconds float64) {
	if p.metrics == nil {
		return
	}
	p.metrics.ObserveProvision(outcome, seconds)
}
