package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/synaptica-ai/medtriage/pkg/audio"
	"github.com/synaptica-ai/medtriage/pkg/common/config"
	"github.com/synaptica-ai/medtriage/pkg/common/logger"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/export"
	"github.com/synaptica-ai/medtriage/pkg/pipeline"
	"github.com/synaptica-ai/medtriage/pkg/store"
)

const usage = `Usage:
  triage-cli single <audio-file> [-patient-id ID] [-out DIR]
  triage-cli batch <directory> [-mapping patients.json] [-out DIR]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	logger.Init("triage-cli")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "single":
		err = runSingle(ctx, os.Args[2:])
	case "batch":
		err = runBatch(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Log.WithError(err).Error("triage-cli failed")
		os.Exit(1)
	}
}

// parseArgs accepts the positional argument before or after the flags.
func parseArgs(fs *flag.FlagSet, args []string) (string, error) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		if err := fs.Parse(args[1:]); err != nil {
			return "", err
		}
		return args[0], nil
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s: expected exactly one path argument", fs.Name())
	}
	return fs.Arg(0), nil
}

func runSingle(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("single", flag.ContinueOnError)
	patientID := fs.String("patient-id", "", "Patient identifier recorded on the report")
	outDir := fs.String("out", "reports", "Directory for the exported report files")
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	cfg := config.Load()
	validator := audio.NewValidator(cfg.UploadMaxBytes, cfg.UploadAllowedFormats)
	req, err := loadRequest(validator, path, strings.TrimSpace(*patientID))
	if err != nil {
		return err
	}

	pool, err := newPool(cfg, 1)
	if err != nil {
		return err
	}
	defer pool.Close(context.Background())

	_, done, err := pool.Submit(ctx, req)
	if err != nil {
		return err
	}
	res := <-done
	if res.Err != nil {
		return fmt.Errorf("session %s: %w", res.SessionID, res.Err)
	}

	files, err := writeExports(*outDir, res.Report)
	if err != nil {
		return err
	}
	logger.ForSession(res.SessionID).WithFields(map[string]interface{}{
		"level":    res.Report.Triage.Level.String(),
		"degraded": res.Report.Metadata.Degraded,
		"files":    files,
	}).Info("Report written")
	return nil
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	mappingPath := fs.String("mapping", "", "JSON object mapping audio file names to patient ids")
	outDir := fs.String("out", "reports", "Directory for the exported report files")
	dir, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	cfg := config.Load()
	mapping, err := loadMapping(*mappingPath)
	if err != nil {
		return err
	}
	validator := audio.NewValidator(cfg.UploadMaxBytes, cfg.UploadAllowedFormats)
	reqs, rejected, err := collectRequests(validator, dir, cfg.UploadAllowedFormats, mapping)
	if err != nil {
		return err
	}
	if len(reqs) == 0 && len(rejected) == 0 {
		return fmt.Errorf("no audio files found in %s", dir)
	}

	pool, err := newPool(cfg, cfg.PipelineWorkers)
	if err != nil {
		return err
	}
	defer pool.Close(context.Background())

	results := append(pool.ProcessBatch(ctx, reqs), rejected...)
	for _, res := range results {
		log := logger.ForSession(res.SessionID)
		if res.Err != nil {
			log.WithError(res.Err).Warn("Session failed")
			continue
		}
		if _, err := writeExports(filepath.Join(*outDir, res.SessionID), res.Report); err != nil {
			return err
		}
		log.WithField("level", res.Report.Triage.Level.String()).Info("Report written")
	}

	summary := pipeline.Summarize(results)
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch summary: %w", err)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(*outDir, "batch_summary.json"), data, 0o644); err != nil {
		return fmt.Errorf("write batch summary: %w", err)
	}
	logger.Log.WithFields(map[string]interface{}{
		"total":        summary.Total,
		"successful":   summary.Successful,
		"failed":       summary.Failed,
		"success_rate": summary.SuccessRate,
	}).Info("Batch complete")
	return nil
}

// newPool runs the pipeline against in-memory stores. Events are not
// published from the command line.
func newPool(cfg *config.Config, workers int) (*pipeline.Pool, error) {
	orch, err := pipeline.FromConfig(cfg, pipeline.Backends{
		Reports:  store.NewMemoryReportStore(),
		Sessions: store.NewMemorySessionStore(),
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return pipeline.NewPool(orch, workers, cfg.PipelineQueueSize), nil
}

func loadRequest(validator *audio.Validator, path, patientID string) (pipeline.Request, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("read %s: %w", path, err)
	}
	payload, err := validator.Validate(filepath.Base(path), data)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{PatientID: patientID, Payload: payload}, nil
}

func loadMapping(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	return mapping, nil
}

// collectRequests loads every file in dir with an allowed extension, in
// name order. Files that fail validation become failed results so they are
// counted in the batch summary.
func collectRequests(validator *audio.Validator, dir string, formats []string, mapping map[string]string) ([]pipeline.Request, []pipeline.Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", dir, err)
	}
	allowed := make(map[string]bool, len(formats))
	for _, f := range formats {
		allowed["."+strings.ToLower(strings.TrimPrefix(f, "."))] = true
	}

	var reqs []pipeline.Request
	var rejected []pipeline.Result
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !allowed[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		req, err := loadRequest(validator, filepath.Join(dir, name), mapping[name])
		if err != nil {
			if !models.IsInputError(err) {
				err = models.InputError("load "+name, err)
			}
			rejected = append(rejected, pipeline.Result{SessionID: sessionName(name), Err: err})
			continue
		}
		req.SessionID = sessionName(name)
		reqs = append(reqs, req)
	}
	return reqs, rejected, nil
}

// sessionName derives a stable session id from the file name so exports
// of a re-run land in the same place.
func sessionName(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

func writeExports(dir string, report *models.Report) ([]string, error) {
	if report == nil {
		return nil, errors.New("no report to export")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	var files []string
	for _, f := range export.Formats() {
		data, err := export.Bytes(f, report)
		if err != nil {
			return files, fmt.Errorf("render %s: %w", f, err)
		}
		path := filepath.Join(dir, "triage_report."+f.Extension())
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return files, fmt.Errorf("write %s: %w", path, err)
		}
		files = append(files, path)
	}
	return files, nil
}
