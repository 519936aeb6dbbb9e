package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"whitewall/event"
	"whitewall/feedstore"
	"whitewall/genapi"
	"whitewall/stream"
)

// EventSink receives pipeline events for delivery to one client. The
// transport is fire-and-forget: send failures mean the client is gone
// and never abort the run.
type EventSink interface {
	Send(ev event.Event) error
}

// Verifier answers the on-chain human-verification question.
type Verifier interface {
	IsHumanVerified(ctx context.Context, agentID string) (bool, error)
}

// Generator produces an artifact for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, media genapi.MediaType, onStatus func(status string)) (*genapi.Result, error)
}

// Uploader stores an artifact durably and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// GenerateRequest is one validated live request.
type GenerateRequest struct {
	Prompt       string `json:"prompt"`
	AgentID      string `json:"agentId"`
	OwnerAddress string `json:"ownerAddress"`
}

// mediaParams fixes the per-media rate window and record tier.
type mediaParams struct {
	media     genapi.MediaType
	rateLimit int64
	window    time.Duration
	tier      int
}

var (
	imageParams = mediaParams{media: genapi.MediaImage, rateLimit: ImageRateLimit, window: ImageRateWindow, tier: ImageTier}
	videoParams = mediaParams{media: genapi.MediaVideo, rateLimit: VideoRateLimit, window: VideoRateWindow, tier: VideoTier}
)

// Orchestrator drives the live verification-and-generation pipeline,
// emitting the same event vocabulary as the scenario scripts.
type Orchestrator struct {
	store     *feedstore.Store
	verifier  Verifier
	generator Generator
	uploader  Uploader

	// notify publishes persisted records to live feed watchers; nil
	// disables the push.
	notify func(rec feedstore.Record)

	// newID, now, and keepAliveEvery are swappable for tests
	newID          func() string
	now            func() int64
	keepAliveEvery time.Duration
}

// NewOrchestrator wires the live pipeline's collaborators.
func NewOrchestrator(store *feedstore.Store, verifier Verifier, generator Generator, uploader Uploader, notify func(feedstore.Record)) *Orchestrator {
	return &Orchestrator{
		store:          store,
		verifier:       verifier,
		generator:      generator,
		uploader:       uploader,
		notify:         notify,
		newID:          func() string { return uuid.NewString() },
		now:            func() int64 { return time.Now().UnixMilli() },
		keepAliveEvery: stream.KeepAliveInterval,
	}
}

// RunImage executes one live image request.
func (o *Orchestrator) RunImage(ctx context.Context, sink EventSink, req GenerateRequest) {
	o.run(ctx, sink, req, imageParams)
}

// RunVideo executes one live video request.
func (o *Orchestrator) RunVideo(ctx context.Context, sink EventSink, req GenerateRequest) {
	o.run(ctx, sink, req, videoParams)
}

// run walks the live state machine: rate check, on-chain verification,
// generation, upload, record. Every exit path emits exactly one result
// followed by done. Work started against external services runs on a
// detached context so a vanished client cannot roll back committed
// side effects.
func (o *Orchestrator) run(reqCtx context.Context, sink EventSink, req GenerateRequest, p mediaParams) {
	ctx := context.WithoutCancel(reqCtx)
	owner := strings.ToLower(req.OwnerAddress)

	// Rate limiting counts the request before anything else runs, so a
	// request denied later still consumes a slot.
	o.log(sink, "RATE", fmt.Sprintf("Checking rate limit for %s...", shorten(owner, 8)), event.LevelInfo)
	count, err := o.store.IncrRate(ctx, owner, p.window)
	if err != nil {
		GetLogger().Errorf("rate limit check failed: %v", err)
		o.log(sink, "ERROR", "Rate limit check unavailable", event.LevelFail)
		o.finish(sink, event.Result{Granted: false, Reason: "Rate limit check unavailable"})
		return
	}
	if count > p.rateLimit {
		o.log(sink, "RATE", fmt.Sprintf("Rate limit exceeded (%d/%ds). Try again shortly.", p.rateLimit, int(p.window.Seconds())), event.LevelFail)
		o.finish(sink, event.Result{Granted: false, Reason: "Rate limit exceeded"})
		return
	}
	o.log(sink, "RATE", fmt.Sprintf("Rate limit OK (%d/%d)", count, p.rateLimit), event.LevelPass)

	// On-chain verification, fail-closed: an RPC failure denies exactly
	// like a genuine not-verified answer, with a distinct log line.
	o.log(sink, "VERIFY", fmt.Sprintf("Checking on-chain verification for agent #%s...", req.AgentID), event.LevelInfo)
	o.step(sink, "gate2", event.StepActive, "", 0)

	verified, verifyErr := o.verifier.IsHumanVerified(ctx, req.AgentID)
	if verifyErr != nil {
		verified = false
		o.log(sink, "VERIFY", fmt.Sprintf("Verification lookup failed: %v", verifyErr), event.LevelFail)
		o.step(sink, "gate2", event.StepFail, "RPC error", 0)
	}
	if !verified {
		reason := "Agent is not human-verified"
		if verifyErr != nil {
			reason = "Verification unavailable"
		} else {
			o.log(sink, "VERIFY", fmt.Sprintf("Agent #%s is not human-verified on-chain", req.AgentID), event.LevelFail)
			o.step(sink, "gate2", event.StepFail, "Not verified", 0)
		}
		id := o.persist(ctx, sink, req, p, feedstore.StatusDenied, "", false, reason)
		o.finish(sink, event.Result{Granted: false, Reason: reason, ID: id})
		return
	}
	o.log(sink, "VERIFY", fmt.Sprintf("Agent #%s is human-verified", req.AgentID), event.LevelPass)
	o.step(sink, "gate2", event.StepPass, "Verified", 0)

	// Intake steps mirror the scenario scripts so the client renders
	// live runs with the same pipeline visualization.
	o.log(sink, "GEN", fmt.Sprintf("%s generation requested: %q", mediaTitle(p.media), excerpt(req.Prompt, 60)), event.LevelInfo)
	o.step(sink, "agent", event.StepActive, "", 0)
	time.Sleep(200 * time.Millisecond)
	o.step(sink, "agent", event.StepPass, "Prompt received", 0)

	o.step(sink, "payment", event.StepActive, "", 0)
	o.log(sink, "PAY", "Resource payment: $0.10 USDC held", event.LevelInfo)
	time.Sleep(300 * time.Millisecond)
	o.step(sink, "payment", event.StepPass, "$0.10 held", 300)

	// Generation and upload.
	o.step(sink, "gateway", event.StepActive, "", 0)
	o.log(sink, "GEN", fmt.Sprintf("Submitting %s job to generation service...", p.media), event.LevelInfo)

	// The generation poll can run minutes between real events, so the
	// status callback doubles as the keep-alive pulse for the stream.
	started := time.Now()
	lastWrite := started
	processing := false
	result, err := o.generator.Generate(ctx, req.Prompt, p.media, func(status string) {
		if status == genapi.StatusProcessing && !processing {
			processing = true
			o.log(sink, "GEN", "GPU processing frames...", event.LevelInfo)
			lastWrite = time.Now()
			return
		}
		if time.Since(lastWrite) >= o.keepAliveEvery {
			o.keepAlive(sink)
			lastWrite = time.Now()
		}
	})
	if err == nil {
		o.log(sink, "GEN", fmt.Sprintf("%s generated successfully", mediaTitle(p.media)), event.LevelPass)
		o.log(sink, "BLOB", "Uploading to permanent storage...", event.LevelInfo)
	}

	genID := o.newID()
	var artifactURL string
	if err == nil {
		artifactURL, err = o.uploader.Upload(ctx, artifactPath(genID, result.ContentType), result.Data, result.ContentType)
	}
	if err != nil {
		msg := err.Error()
		o.log(sink, "GEN", fmt.Sprintf("Generation failed: %s", msg), event.LevelFail)
		o.step(sink, "gateway", event.StepFail, "Gen failed", 0)
		id := o.persistWithID(ctx, sink, genID, req, p, feedstore.StatusDenied, "", true, msg)
		o.finish(sink, event.Result{Granted: false, Reason: msg, ID: id})
		return
	}
	o.step(sink, "gateway", event.StepPass, fmt.Sprintf("%s ready", mediaTitle(p.media)), int(time.Since(started).Milliseconds()))
	o.log(sink, "BLOB", "Artifact stored permanently", event.LevelPass)

	// Durable record.
	o.step(sink, "orchestrator", event.StepActive, "", 0)
	o.log(sink, "LEDGER", "Recording license plate in feed...", event.LevelInfo)
	ts := o.now()
	rec := feedstore.Record{
		ID:            genID,
		Prompt:        req.Prompt,
		ArtifactURL:   artifactURL,
		Status:        feedstore.StatusGranted,
		AgentID:       req.AgentID,
		OwnerAddress:  owner,
		HumanVerified: true,
		Tier:          p.tier,
		Timestamp:     ts,
	}
	if err := o.store.SaveDecision(ctx, rec); err != nil {
		// The artifact exists; surface the storage failure as a denial
		// rather than crashing the stream.
		GetLogger().Errorf("record store failed: %v", err)
		o.log(sink, "ERROR", "Record storage failed", event.LevelFail)
		o.finish(sink, event.Result{Granted: false, Reason: "Record storage failed", ArtifactURL: artifactURL})
		return
	}
	o.published(rec)

	o.step(sink, "orchestrator", event.StepPass, "Recorded", 100)
	o.log(sink, "LEDGER", fmt.Sprintf("License plate issued: %s...", shorten(genID, 8)), event.LevelPass)
	o.log(sink, "PAY", "$0.10 USDC payment finalized", event.LevelPass)

	o.finish(sink, event.Result{
		Granted:      true,
		Tier:         p.tier,
		ID:           genID,
		ArtifactURL:  artifactURL,
		Prompt:       req.Prompt,
		AgentID:      req.AgentID,
		OwnerAddress: owner,
		Timestamp:    ts,
	})
}

// persist stores a denial record under a fresh id and returns the id.
func (o *Orchestrator) persist(ctx context.Context, sink EventSink, req GenerateRequest, p mediaParams, status, artifactURL string, verified bool, reason string) string {
	return o.persistWithID(ctx, sink, o.newID(), req, p, status, artifactURL, verified, reason)
}

func (o *Orchestrator) persistWithID(ctx context.Context, sink EventSink, id string, req GenerateRequest, p mediaParams, status, artifactURL string, verified bool, reason string) string {
	rec := feedstore.Record{
		ID:            id,
		Prompt:        req.Prompt,
		ArtifactURL:   artifactURL,
		Status:        status,
		AgentID:       req.AgentID,
		OwnerAddress:  strings.ToLower(req.OwnerAddress),
		HumanVerified: verified,
		Tier:          p.tier,
		Reason:        reason,
		Timestamp:     o.now(),
	}
	if err := o.store.SaveDecision(ctx, rec); err != nil {
		GetLogger().Errorf("record store failed: %v", err)
		o.log(sink, "ERROR", "Record storage failed", event.LevelFail)
		return ""
	}
	o.published(rec)
	return id
}

func (o *Orchestrator) published(rec feedstore.Record) {
	if o.notify != nil {
		o.notify(rec)
	}
}

// finish closes the run: exactly one result, immediately followed by done.
func (o *Orchestrator) finish(sink EventSink, res event.Result) {
	o.send(sink, res)
	o.send(sink, event.Done{})
}

func (o *Orchestrator) step(sink EventSink, id string, status event.StepStatus, detail string, timing int) {
	o.send(sink, event.Step{StepID: id, Status: status, Detail: detail, Timing: timing})
}

func (o *Orchestrator) log(sink EventSink, tag, message string, level event.LogLevel) {
	o.send(sink, event.Terminal{Tag: tag, Message: message, Level: level})
}

// keepAlive pulses transports that support idle-connection comments.
// Sinks without the capability (tests, buffered fan-out) are left alone.
func (o *Orchestrator) keepAlive(sink EventSink) {
	ka, ok := sink.(interface{ KeepAlive() error })
	if !ok {
		return
	}
	if err := ka.KeepAlive(); err != nil {
		GetLogger().Debugf("client gone, dropping keep-alive")
	}
}

// send is fire-and-forget: a write failure means the client is gone,
// and the run carries on to protect committed side effects.
func (o *Orchestrator) send(sink EventSink, ev event.Event) {
	if sink == nil {
		return
	}
	if err := sink.Send(ev); err != nil {
		GetLogger().Debugf("client gone, dropping %s event", ev.Kind())
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func mediaTitle(media genapi.MediaType) string {
	if media == genapi.MediaVideo {
		return "Video"
	}
	return "Image"
}

func artifactPath(id, contentType string) string {
	ext := "png"
	switch {
	case strings.Contains(contentType, "webp"):
		ext = "webp"
	case strings.Contains(contentType, "mp4"):
		ext = "mp4"
	}
	return fmt.Sprintf("generations/%s.%s", id, ext)
}
