package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"whitewall/event"
	"whitewall/feedstore"
	"whitewall/genapi"
)

type captureSink struct {
	events     []event.Event
	keepAlives int
	err        error
}

func (s *captureSink) Send(ev event.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) KeepAlive() error {
	if s.err != nil {
		return s.err
	}
	s.keepAlives++
	return nil
}

func (s *captureSink) result(t *testing.T) event.Result {
	t.Helper()
	var results []event.Result
	for _, ev := range s.events {
		if res, ok := ev.(event.Result); ok {
			results = append(results, res)
		}
	}
	require.Len(t, results, 1, "every run must emit exactly one result")
	return results[0]
}

// assertClosed checks the result/done tail: the result is the
// next-to-last event and done is last.
func (s *captureSink) assertClosed(t *testing.T) {
	t.Helper()
	require.GreaterOrEqual(t, len(s.events), 2)
	last := s.events[len(s.events)-1]
	require.Equal(t, event.KindDone, last.Kind(), "stream must end with done")
	require.Equal(t, event.KindResult, s.events[len(s.events)-2].Kind(), "result must immediately precede done")
}

type fakeVerifier struct {
	verified bool
	err      error
	calls    int
}

func (f *fakeVerifier) IsHumanVerified(ctx context.Context, agentID string) (bool, error) {
	f.calls++
	return f.verified, f.err
}

type fakeGenerator struct {
	result *genapi.Result
	err    error
	calls  int

	// scripted poll statuses with a pause before each, for slow jobs
	statuses    []string
	statusDelay time.Duration
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, media genapi.MediaType, onStatus func(string)) (*genapi.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.statuses) > 0 {
		for _, status := range f.statuses {
			time.Sleep(f.statusDelay)
			if onStatus != nil {
				onStatus(status)
			}
		}
	} else if onStatus != nil {
		onStatus(genapi.StatusProcessing)
	}
	return f.result, nil
}

type fakeUploader struct {
	url      string
	err      error
	calls    int
	lastPath string
}

func (f *fakeUploader) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	f.calls++
	f.lastPath = path
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type orchFixture struct {
	orch      *Orchestrator
	store     *feedstore.Store
	verifier  *fakeVerifier
	generator *fakeGenerator
	uploader  *fakeUploader
	published []feedstore.Record
}

func newOrchFixture(t *testing.T) *orchFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &orchFixture{
		store:     feedstore.New(rdb),
		verifier:  &fakeVerifier{verified: true},
		generator: &fakeGenerator{result: &genapi.Result{Data: []byte("img"), ContentType: "image/webp"}},
		uploader:  &fakeUploader{url: "https://cdn.example/generations/gen-1.webp"},
	}
	f.orch = NewOrchestrator(f.store, f.verifier, f.generator, f.uploader, func(rec feedstore.Record) {
		f.published = append(f.published, rec)
	})
	n := 0
	f.orch.newID = func() string { n++; return fmt.Sprintf("gen-%d", n) }
	f.orch.now = func() int64 { return 1700000000000 }
	return f
}

func testRequest() GenerateRequest {
	return GenerateRequest{Prompt: "a watercolor fox", AgentID: "42", OwnerAddress: "0xOwner"}
}

func (f *orchFixture) fetchAll(t *testing.T) *feedstore.Page {
	t.Helper()
	page, err := f.store.FetchPage(context.Background(), "", "", 50)
	require.NoError(t, err)
	return page
}

func TestRunImageGrantedPath(t *testing.T) {
	f := newOrchFixture(t)
	sink := &captureSink{}

	f.orch.RunImage(context.Background(), sink, testRequest())

	sink.assertClosed(t)
	res := sink.result(t)
	require.True(t, res.Granted)
	require.Equal(t, ImageTier, res.Tier)
	require.Equal(t, "gen-1", res.ID)
	require.Equal(t, f.uploader.url, res.ArtifactURL)
	require.Equal(t, "0xowner", res.OwnerAddress)
	require.Equal(t, int64(1700000000000), res.Timestamp)

	require.Equal(t, "generations/gen-1.webp", f.uploader.lastPath)

	page := f.fetchAll(t)
	require.Len(t, page.Entries, 1)
	rec := page.Entries[0]
	require.Equal(t, feedstore.StatusGranted, rec.Status)
	require.True(t, rec.HumanVerified)
	require.Equal(t, f.uploader.url, rec.ArtifactURL)
	require.Equal(t, int64(1), page.Stats.Granted)

	require.Len(t, f.published, 1)
	require.Equal(t, "gen-1", f.published[0].ID)
}

func TestRunImageDeniesUnverifiedAgent(t *testing.T) {
	f := newOrchFixture(t)
	f.verifier.verified = false
	sink := &captureSink{}

	f.orch.RunImage(context.Background(), sink, testRequest())

	sink.assertClosed(t)
	res := sink.result(t)
	require.False(t, res.Granted)
	require.Equal(t, "Agent is not human-verified", res.Reason)
	require.NotEmpty(t, res.ID, "denials are persisted and carry a record id")
	require.Zero(t, f.generator.calls, "denied requests must not reach the generation service")
	require.Zero(t, f.uploader.calls)

	page := f.fetchAll(t)
	require.Len(t, page.Entries, 1)
	require.Equal(t, feedstore.StatusDenied, page.Entries[0].Status)
	require.Equal(t, int64(1), page.Stats.Denied)
}

func TestRunImageFailsClosedOnRPCError(t *testing.T) {
	f := newOrchFixture(t)
	f.verifier.err = fmt.Errorf("rpc timeout")
	sink := &captureSink{}

	f.orch.RunImage(context.Background(), sink, testRequest())

	sink.assertClosed(t)
	res := sink.result(t)
	require.False(t, res.Granted)
	require.Equal(t, "Verification unavailable", res.Reason)
	require.Zero(t, f.generator.calls, "verification failures must not reach the generation service")

	page := f.fetchAll(t)
	require.Len(t, page.Entries, 1)
	require.Equal(t, "Verification unavailable", page.Entries[0].Reason)
}

func TestRateLimitDeniesFourthImageRequest(t *testing.T) {
	f := newOrchFixture(t)
	// verification failures keep the runs fast but still consume slots
	f.verifier.err = fmt.Errorf("down")

	for i := 0; i < int(ImageRateLimit); i++ {
		f.orch.RunImage(context.Background(), &captureSink{}, testRequest())
	}
	before := len(f.fetchAll(t).Entries)

	sink := &captureSink{}
	f.orch.RunImage(context.Background(), sink, testRequest())

	sink.assertClosed(t)
	res := sink.result(t)
	require.False(t, res.Granted)
	require.Equal(t, "Rate limit exceeded", res.Reason)
	require.Empty(t, res.ID, "rate-limited requests are not recorded in the feed")
	require.Equal(t, before, len(f.fetchAll(t).Entries))
}

func TestRateLimitIsPerOwner(t *testing.T) {
	f := newOrchFixture(t)
	f.verifier.err = fmt.Errorf("down")

	for i := 0; i < int(ImageRateLimit); i++ {
		f.orch.RunImage(context.Background(), &captureSink{}, testRequest())
	}

	other := testRequest()
	other.OwnerAddress = "0xSomeoneElse"
	sink := &captureSink{}
	f.orch.RunImage(context.Background(), sink, other)

	require.Equal(t, "Verification unavailable", sink.result(t).Reason,
		"a different owner must not inherit the exhausted window")
}

func TestGenerationFailureDeniesWithProviderMessage(t *testing.T) {
	f := newOrchFixture(t)
	f.generator.err = fmt.Errorf("gpu pool exhausted")
	sink := &captureSink{}

	f.orch.RunImage(context.Background(), sink, testRequest())

	sink.assertClosed(t)
	res := sink.result(t)
	require.False(t, res.Granted)
	require.Equal(t, "gpu pool exhausted", res.Reason)
	require.Zero(t, f.uploader.calls)

	page := f.fetchAll(t)
	require.Len(t, page.Entries, 1)
	rec := page.Entries[0]
	require.Equal(t, feedstore.StatusDenied, rec.Status)
	require.True(t, rec.HumanVerified, "the agent passed verification before generation failed")
	require.Equal(t, "gpu pool exhausted", rec.Reason)
}

func TestRunVideoUsesVideoTier(t *testing.T) {
	f := newOrchFixture(t)
	f.generator.result = &genapi.Result{Data: []byte("vid"), ContentType: "video/mp4"}
	f.uploader.url = "https://cdn.example/generations/gen-1.mp4"
	sink := &captureSink{}

	f.orch.RunVideo(context.Background(), sink, testRequest())

	res := sink.result(t)
	require.True(t, res.Granted)
	require.Equal(t, VideoTier, res.Tier)
	require.Equal(t, "generations/gen-1.mp4", f.uploader.lastPath)
}

func TestSlowGenerationEmitsKeepAlives(t *testing.T) {
	f := newOrchFixture(t)
	f.orch.keepAliveEvery = time.Millisecond
	f.generator.statuses = []string{
		genapi.StatusProcessing, genapi.StatusProcessing,
		genapi.StatusProcessing, genapi.StatusProcessing,
	}
	f.generator.statusDelay = 5 * time.Millisecond
	sink := &captureSink{}

	f.orch.RunImage(context.Background(), sink, testRequest())

	sink.assertClosed(t)
	require.True(t, sink.result(t).Granted)
	require.GreaterOrEqual(t, sink.keepAlives, 1,
		"long polls must pulse the connection between real events")
}

func TestVanishedClientDoesNotAbortTheRun(t *testing.T) {
	f := newOrchFixture(t)
	f.verifier.verified = false
	sink := &captureSink{err: fmt.Errorf("client gone")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.orch.RunImage(ctx, sink, testRequest())

	page := f.fetchAll(t)
	require.Len(t, page.Entries, 1, "the denial must be recorded even with no client attached")
	require.Equal(t, feedstore.StatusDenied, page.Entries[0].Status)
}
