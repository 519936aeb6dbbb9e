// Package scenario holds the canned demo storylines. Each scenario is a
// fully deterministic, hand-scripted sequence of pipeline events with
// inter-event pauses; the transport layer is responsible for honoring
// the pauses and for abandoning the remainder on client disconnect.
package scenario

import (
	"time"

	"whitewall/event"
)

// Scenario identifiers accepted by the simulate endpoint.
const (
	AnonBot       = "anon-bot"
	RegisteredBot = "registered-bot"
	VerifiedAgent = "verified-agent"
)

// PresentModeMultiplier slows playback for presentation pacing.
const PresentModeMultiplier = 1.8

// TimedEvent pairs an event with the pause to insert after it.
type TimedEvent struct {
	Event event.Event
	Delay time.Duration // pause before the next event is emitted
}

// ForID returns the script for a scenario id. Unknown ids fall back to
// the anon-bot storyline, matching the endpoint's default.
func ForID(id string, presentMode bool) []TimedEvent {
	switch id {
	case RegisteredBot:
		return registeredBot(presentMode)
	case VerifiedAgent:
		return verifiedAgent(presentMode)
	default:
		return anonBot(presentMode)
	}
}

// script accumulates timed events; the pause helpers attach delays to
// the most recently added event.
type script struct {
	events []TimedEvent
	mult   float64
}

func newScript(presentMode bool) *script {
	mult := 1.0
	if presentMode {
		mult = PresentModeMultiplier
	}
	return &script{mult: mult}
}

func (s *script) add(ev event.Event) *script {
	s.events = append(s.events, TimedEvent{Event: ev})
	return s
}

func (s *script) step(id string, status event.StepStatus) *script {
	return s.add(event.Step{StepID: id, Status: status})
}

func (s *script) stepDetail(id string, status event.StepStatus, detail string, timing int) *script {
	return s.add(event.Step{StepID: id, Status: status, Detail: detail, Timing: timing})
}

func (s *script) log(tag, message string, level event.LogLevel) *script {
	return s.add(event.Terminal{Tag: tag, Message: message, Level: level})
}

// pause sets the delay following the last added event.
func (s *script) pause(ms int) *script {
	if len(s.events) > 0 {
		s.events[len(s.events)-1].Delay = time.Duration(float64(ms)*s.mult) * time.Millisecond
	}
	return s
}

func (s *script) done() []TimedEvent {
	s.add(event.Done{})
	return s.events
}

// preamble is the shared opening: agent submit, payment hold, gateway
// auth, orchestrator start.
func (s *script) preamble() *script {
	s.step("agent", event.StepActive).pause(300)
	s.stepDetail("agent", event.StepPass, "Request sent", 0)

	s.step("payment", event.StepActive)
	s.log("PAY", "Payment hold: $0.50 USDC", event.LevelInfo).pause(400)
	s.stepDetail("payment", event.StepPass, "$0.50 held", 400)
	s.log("PAY", "Payment hold authorized", event.LevelPass)

	s.step("gateway", event.StepActive)
	s.log("GW", "HTTP request received, extracting agent metadata", event.LevelInfo).pause(300)
	s.stepDetail("gateway", event.StepPass, "JWT valid", 300)
	s.log("GW", "JWT verified, forwarding to orchestrator", event.LevelPass)

	s.step("orchestrator", event.StepActive)
	s.log("ORCH", "Request accepted, initiating 4-gate pipeline", event.LevelInfo).pause(500)
	s.stepDetail("orchestrator", event.StepPass, "Pipeline started", 500)
	s.log("ORCH", "Pipeline initialized, starting Gate 1", event.LevelPass)
	return s
}

// refundAndDeny is the shared failure tail: skip the remaining gates,
// refund the payment hold, report denial.
func (s *script) refundAndDeny(afterStep, reason string) []TimedEvent {
	s.add(event.Skip{AfterStepID: afterStep}).pause(200)
	s.log("PAY", "$0.50 USDC refunded to agent wallet", event.LevelWarn)
	s.add(event.Result{Granted: false, Reason: reason})
	return s.done()
}

// anonBot: an unregistered actor rejected at the identity gate.
func anonBot(presentMode bool) []TimedEvent {
	s := newScript(presentMode).preamble()

	s.step("gate1", event.StepActive)
	s.log("GATE 1", "Identity check: ownerOf(agentId) -> ...", event.LevelInfo).pause(600)
	s.stepDetail("gate1", event.StepFail, "NOT REGISTERED", 600)
	s.log("GATE 1", "Identity: ownerOf(agentId) -> 0x0000...0000 (unregistered)", event.LevelFail)
	s.log("ORCH", "Pipeline HALTED at Gate 1 -- agent not registered", event.LevelFail)

	return s.refundAndDeny("gate1", "Agent not registered (no on-chain identity)")
}

// registeredBot: registered but not human-verified, rejected at gate 2.
func registeredBot(presentMode bool) []TimedEvent {
	s := newScript(presentMode).preamble()

	s.step("gate1", event.StepActive)
	s.log("GATE 1", "Identity: ownerOf(42) -> ...", event.LevelInfo).pause(600)
	s.stepDetail("gate1", event.StepPass, "ownerOf(42) -> Alice", 600)
	s.log("GATE 1", "Identity: ownerOf(42) -> 0xAl1c3...cafe (registered)", event.LevelPass)

	s.step("gate2", event.StepActive)
	s.log("GATE 2", "Verification: querying human-verification bond", event.LevelInfo).pause(600)
	s.stepDetail("gate2", event.StepFail, "NOT VERIFIED", 600)
	s.log("GATE 2", "Verification: count=0, avgScore=0 -- no human bond", event.LevelFail)
	s.log("ORCH", "Pipeline HALTED at Gate 2 -- agent not human-verified", event.LevelFail)

	return s.refundAndDeny("gate2", "Agent not human-verified")
}

// verifiedAgent: clears all four gates, reaches consensus, passes
// policy enforcement, and is granted access at tier 2.
func verifiedAgent(presentMode bool) []TimedEvent {
	s := newScript(presentMode).preamble()

	s.step("gate1", event.StepActive)
	s.log("GATE 1", "Identity: ownerOf(42) -> ...", event.LevelInfo).pause(600)
	s.stepDetail("gate1", event.StepPass, "ownerOf(42) -> Alice", 600)
	s.log("GATE 1", "Identity: ownerOf(42) -> 0xAl1c3...cafe (registered)", event.LevelPass)

	s.step("gate2", event.StepActive)
	s.log("GATE 2", "Verification: querying human-verification bond", event.LevelInfo).pause(600)
	s.stepDetail("gate2", event.StepPass, "Human verified", 600)
	s.log("GATE 2", "Verification: count=1, avgScore=2 -- human bond active", event.LevelPass)

	s.step("gate3", event.StepActive)
	s.log("GATE 3", "Liveness: checking verification TTL...", event.LevelInfo).pause(600)
	s.stepDetail("gate3", event.StepPass, "TTL valid", 600)
	s.log("GATE 3", "Liveness: verification valid, expires in 29d", event.LevelPass)

	s.step("gate4", event.StepActive)
	s.log("GATE 4", "Reputation: checking tier >= required...", event.LevelInfo).pause(600)
	s.stepDetail("gate4", event.StepPass, "Tier 2 >= 2", 600)
	s.log("GATE 4", "Reputation: tier 2 >= requiredTier 2", event.LevelPass)

	s.step("consensus", event.StepActive)
	s.log("CONSENSUS", "Submitting verification report for multi-party sign-off...", event.LevelInfo).pause(800)
	s.log("CONSENSUS", "Node 1/3 signed report", event.LevelInfo).pause(400)
	s.log("CONSENSUS", "Node 2/3 signed report", event.LevelInfo).pause(300)
	s.log("CONSENSUS", "Node 3/3 signed report -- consensus reached", event.LevelPass)
	s.stepDetail("consensus", event.StepPass, "3/3 consensus", 1500)

	s.step("policy", event.StepActive)
	s.log("POLICY", "Executing HumanVerifiedPolicy.runPolicy(42)...", event.LevelInfo).pause(600)
	s.stepDetail("policy", event.StepPass, "Policy approved", 600)
	s.log("POLICY", "Policy executed -- AccessGranted(42, 0xAl1c3, tier=2)", event.LevelPass)

	s.step("result", event.StepActive).pause(200)
	s.stepDetail("result", event.StepPass, "Granted", 0)
	s.log("RESULT", "Access GRANTED. accountableHuman: 0xAl1c3...cafe, tier: 2", event.LevelPass)
	s.log("PAY", "$0.50 USDC payment finalized", event.LevelPass)

	s.add(event.Result{
		Granted:          true,
		AccountableHuman: "0xAl1c3000000000000000000000000000000cafe",
		Tier:             2,
	})
	return s.done()
}
