package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &m); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, b)
	}
	return m
}

func TestSlogBridge_CarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Component: "pipeline"}, &buf)
	l := NewSlog(&zl)

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithLayer(ctx, "buurtwegen")
	l.InfoContext(ctx, "layer loaded", "features", 12, "err", errors.New("x"))

	m := decodeLine(t, buf.Bytes())
	if m["msg"] != "layer loaded" || m["level"] != "info" {
		t.Fatalf("unexpected record %v", m)
	}
	if m["run_id"] != "run-1" || m["layer"] != "buurtwegen" || m["component"] != "pipeline" {
		t.Fatalf("context fields missing: %v", m)
	}
	if m["features"] != float64(12) || m["err"] != "x" {
		t.Fatalf("attrs missing: %v", m)
	}
}

func TestSlogBridge_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	l := NewSlog(&zl)
	t.Cleanup(func() { Build(Config{Level: "info"}, &bytes.Buffer{}) })

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}
	l.Warn("kept")
	if m := decodeLine(t, buf.Bytes()); m["level"] != "warn" {
		t.Fatalf("unexpected record %v", m)
	}
}

func TestSlogBridge_GroupsFlatten(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	l := NewSlog(&zl).WithGroup("wfs").With("layer", "lu:x")

	l.Info("query", "status", 200)
	m := decodeLine(t, buf.Bytes())
	if m["wfs.layer"] != "lu:x" || m["wfs.status"] != float64(200) {
		t.Fatalf("group keys not flattened: %v", m)
	}
}

func TestBuild_StampsServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "bogus", Version: "1.2.3"}, &buf)
	zl.Info().Msg("hello")

	m := decodeLine(t, buf.Bytes())
	if m["service"] != "buurtweg-monitor" || m["version"] != "1.2.3" {
		t.Fatalf("static fields missing: %v", m)
	}
	if m["level"] != "info" {
		t.Fatalf("unknown level must fall back to info: %v", m)
	}
}
