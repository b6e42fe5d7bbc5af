package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/config"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/invalidation/kafkaconsumer"
)

type nopEvictor struct{}

func (nopEvictor) InvalidateLayer(context.Context, string) error { return nil }

func TestWriteOutputs_WritesBothFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	roads := geojson.NewFeatureCollection()
	roads.Append(geojson.NewFeature(orb.LineString{{3.6, 50.8}, {3.61, 50.81}}))
	res := &model.Result{Status: model.StatusOK, Roads: roads, Matches: geojson.NewFeatureCollection()}

	if err := writeOutputs(dir, res); err != nil {
		t.Fatalf("writeOutputs: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, matchesFile))
	if err != nil {
		t.Fatalf("read matches: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("matches not json: %v", err)
	}
	if feats, ok := doc["features"].([]any); !ok || len(feats) != 0 {
		t.Fatalf("expected empty feature array, got %s", b)
	}

	fc, err := os.ReadFile(filepath.Join(dir, roadsFile))
	if err != nil {
		t.Fatalf("read roads: %v", err)
	}
	parsed, err := geojson.UnmarshalFeatureCollection(fc)
	if err != nil || len(parsed.Features) != 1 {
		t.Fatalf("roads file: %v len=%d", err, len(parsed.Features))
	}
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	got := strings.Join(names, ",")
	if !strings.Contains(got, "run") || !strings.Contains(got, "serve") {
		t.Fatalf("subcommands=%s", got)
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.Contains(out.String(), "--days") || !strings.Contains(out.String(), "--out") {
		t.Fatalf("help missing flags: %s", out.String())
	}
}

func TestStartInvalidation_NeedsTopicBrokersAndCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	var lc kafkaconsumer.Evictor = nopEvictor{}

	var cfg config.Config
	if startInvalidation(ctx, cfg, l, lc) {
		t.Fatalf("started without topic or brokers")
	}
	cfg.Kafka = config.KafkaCfg{Brokers: []string{"127.0.0.1:1"}, InvalidationTopic: "road-updates"}
	if startInvalidation(ctx, cfg, l, nil) {
		t.Fatalf("started without a layer cache")
	}
}
