// Command schema emits JSON schemas for the wire and persistence formats, so
// peers written in other languages can validate what they exchange with a
// session.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/scenesync/scenesync/internal/core/catalog"
	"github.com/scenesync/scenesync/internal/core/instance"
	"github.com/scenesync/scenesync/internal/core/protocol"
	"github.com/scenesync/scenesync/internal/core/replication"
	"github.com/scenesync/scenesync/internal/server"
)

type target struct {
	name        string
	title       string
	description string
	value       any
}

func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "", "directory to write the JSON schemas")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	targets := []target{
		{
			name:        "frame",
			title:       "Sync Frame",
			description: "Envelope exchanged between replicas over QUIC and WebSocket.",
			value:       new(protocol.Frame),
		},
		{
			name:        "snapshot",
			title:       "Instance Snapshot",
			description: "Serialized instance table; also the journal keyframe payload.",
			value:       new(instance.Snapshot),
		},
		{
			name:        "journal-entry",
			title:       "Journal Entry",
			description: "One line of the JSON-lines save journal.",
			value:       new(replication.JournalEntry),
		},
		{
			name:        "config",
			title:       "Session Config",
			description: "Server session configuration file.",
			value:       new(server.Config),
		},
		{
			name:        "prefab-manifest",
			title:       "Prefab Manifest",
			description: "Data-authored prefab template set shared by all replicas.",
			value:       new(catalog.Manifest),
		},
	}

	for _, tg := range targets {
		if err := write(outDir, tg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s schema: %v\n", tg.name, err)
			os.Exit(1)
		}
	}
}

func write(outDir string, tg target) error {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(tg.value)
	schema.Title = tg.title
	schema.Description = tg.description

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	outPath := filepath.Join(outDir, tg.name+".schema.json")
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
