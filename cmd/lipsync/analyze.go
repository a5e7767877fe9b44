package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/lipsync-service/internal/timeline"
)

func newAnalyzeCmd() *cobra.Command {
	var chunk float64

	cmd := &cobra.Command{
		Use:   "analyze <audio-file|->",
		Short: "Compute mouth cues for one audio file and print them as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], chunk)
		},
	}

	cmd.Flags().Float64Var(&chunk, "chunk", 0, "maximum segment duration in seconds (default from config)")

	return cmd
}

func runAnalyze(cmd *cobra.Command, input string, chunk float64) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// stdout carries the result
	if cfg.Logging.Output == "stdout" || cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	logger := initLogger(cfg.Logging)

	raw, err := readInput(cmd.InOrStdin(), input)
	if err != nil {
		return err
	}

	application, err := buildApp(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer application.Close()

	if !cmd.Flags().Changed("chunk") {
		chunk = cfg.Audio.ChunkDuration
	}

	cues, err := application.orchestrator.ProcessWithChunk(cmd.Context(), raw, chunk)
	if err != nil {
		return err
	}

	if cues == nil {
		cues = timeline.Timeline{}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		MouthCues timeline.Timeline `json:"mouthCues"`
	}{cues})
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	return data, nil
}
