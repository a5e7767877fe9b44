// Command mock-analyzer serves the remote analyzer protocol using the built-in
// energy analyzer. It is meant for local development of the http backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/lipsync-service/internal/analyzer"
	"github.com/skypro1111/lipsync-service/internal/audio"
	"github.com/skypro1111/lipsync-service/internal/timeline"
	"github.com/skypro1111/lipsync-service/internal/vad"
)

const maxUploadBytes = 32 << 20

type options struct {
	port     int
	delay    time.Duration
	failRate float64
	apiKey   string
	verbose  bool
}

// mockServer answers /analyze requests in Rhubarb's JSON format
type mockServer struct {
	energy   *analyzer.Energy
	delay    time.Duration
	failRate float64
	apiKey   string
	logger   *slog.Logger
}

type analyzeResponse struct {
	Metadata  responseMetadata    `json:"metadata"`
	MouthCues []timeline.MouthCue `json:"mouthCues"`
}

type responseMetadata struct {
	SoundFile string  `json:"soundFile"`
	Duration  float64 `json:"duration"`
}

func newMockServer(opts options, logger *slog.Logger) (*mockServer, error) {
	if opts.failRate < 0 || opts.failRate > 1 {
		return nil, fmt.Errorf("fail rate must be between 0 and 1, got %f", opts.failRate)
	}

	detector, err := vad.NewProcessor(vad.Config{})
	if err != nil {
		return nil, err
	}

	energy, err := analyzer.NewEnergy(detector, logger)
	if err != nil {
		return nil, err
	}

	return &mockServer{
		energy:   energy,
		delay:    opts.delay,
		failRate: opts.failRate,
		apiKey:   opts.apiKey,
		logger:   logger,
	}, nil
}

func (s *mockServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *mockServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ready",
		"stats":  s.energy.GetStats(),
	})
}

func (s *mockServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+s.apiKey {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	index, err := strconv.Atoi(r.FormValue("segment_index"))
	if err != nil {
		http.Error(w, "Invalid segment_index", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	buf, err := audio.DecodeWAV(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Info("Analysis request received",
		slog.Int("segment", index),
		slog.String("file", header.Filename),
		slog.String("recognizer", r.FormValue("recognizer")),
		slog.Float64("duration", buf.Duration()),
		slog.Int("sample_rate", buf.SampleRate()),
	)

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			return
		}
	}

	if s.failRate > 0 && rand.Float64() < s.failRate {
		s.logger.Warn("Injecting analyzer failure", slog.Int("segment", index))
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}

	cues, err := s.energy.Analyze(r.Context(), audio.Segment{Index: index, Audio: buf})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(analyzeResponse{
		Metadata:  responseMetadata{SoundFile: header.Filename, Duration: buf.Duration()},
		MouthCues: cues,
	})
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "mock-analyzer",
		Short:         "Serve the remote analyzer protocol with the energy analyzer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 9000, "listen port")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "artificial processing delay per request")
	cmd.Flags().Float64Var(&opts.failRate, "fail-rate", 0, "fraction of requests answered with HTTP 500")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "require this bearer token")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	return cmd
}

func run(ctx context.Context, opts options) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	srv, err := newMockServer(opts, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.port),
		Handler:      srv.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Mock analyzer starting",
			slog.String("endpoint", fmt.Sprintf("http://localhost:%d/analyze", opts.port)))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("Shutting down mock analyzer")
	return httpServer.Shutdown(shutdownCtx)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
