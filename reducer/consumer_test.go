package reducer

import (
	"strings"
	"testing"

	"whitewall/event"
)

func TestConsumeFoldsStreamAndStopsAtDone(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"step","stepId":"agent","status":"active"}`,
		``,
		`: keepalive`,
		``,
		`data: {"type":"step","stepId":"agent","status":"pass","detail":"Request sent"}`,
		``,
		`data: {"type":"terminal","tag":"GW","message":"hello","level":"info"}`,
		``,
		`data: {"type":"result","granted":true,"tier":2}`,
		``,
		`data: {"type":"done"}`,
		``,
		`data: {"type":"step","stepId":"agent","status":"fail"}`,
		``,
	}, "\n")

	s := Consume(strings.NewReader(body), Start(NewRunState()))

	if s.IsRunning {
		t.Fatalf("done must stop the run")
	}
	got := stepByID(t, s, "agent")
	if got.Status != event.StepPass || got.Detail != "Request sent" {
		t.Fatalf("events after done must be ignored, got %+v", got)
	}
	if len(s.Log) != 1 || s.Log[0].Message != "hello" {
		t.Fatalf("unexpected log %+v", s.Log)
	}
	if s.Result == nil || !s.Result.Granted || s.Result.Tier != 2 {
		t.Fatalf("result not applied: %+v", s.Result)
	}
}

func TestConsumeSkipsMalformedPayloads(t *testing.T) {
	body := strings.Join([]string{
		`data: {not json}`,
		``,
		`data: {"type":"mystery"}`,
		``,
		`data: {"type":"step","stepId":"gate1","status":"active"}`,
		``,
		`data: {"type":"done"}`,
		``,
	}, "\n")

	s := Consume(strings.NewReader(body), Start(NewRunState()))
	if got := stepByID(t, s, "gate1").Status; got != event.StepActive {
		t.Fatalf("valid event after malformed lines not applied: %v", got)
	}
	if len(s.Log) != 0 {
		t.Fatalf("malformed payloads must not produce log entries: %+v", s.Log)
	}
}

func TestConsumeTreatsTruncatedStreamAsFailure(t *testing.T) {
	body := `data: {"type":"step","stepId":"agent","status":"active"}` + "\n"

	s := Consume(strings.NewReader(body), Start(NewRunState()))
	if s.IsRunning {
		t.Fatalf("truncated stream must stop the run")
	}
	if len(s.Log) != 1 || s.Log[0].Tag != "SYSTEM" || s.Log[0].Level != event.LevelFail {
		t.Fatalf("expected synthetic failure entry, got %+v", s.Log)
	}
}
