// Package pipeline runs the model processor for uploaded files, caching
// results in a manifest next to the outputs.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/modelprep/internal/logger"
	"github.com/Faultbox/modelprep/internal/processor"
)

// DefaultManifestName is the cache manifest written into each output
// directory.
const DefaultManifestName = "manifest.json"

// ErrNoProcessor is returned when no processor handles the file extension.
var ErrNoProcessor = errors.New("no processor for file")

// Status callback values.
const (
	StatusProcessing     = "processing"
	StatusProcessingDone = "processing_done"
)

// StatusFunc receives progress updates: a status and a human readable detail.
type StatusFunc func(status, detail string)

// Manifest is the cached record of a successful run.
type Manifest struct {
	SourceFilename string              `json:"source_filename"`
	ProcessorName  string              `json:"processor_name"`
	Status         processor.Status    `json:"status"`
	SourceSize     int64               `json:"source_size"`
	Outputs        []processor.Output  `json:"outputs"`
	Metadata       *processor.Metadata `json:"metadata"`
	Warnings       []string            `json:"warnings"`
}

// Result rebuilds the processor result recorded in the manifest.
func (m *Manifest) Result() *processor.Result {
	return &processor.Result{
		SourceFilename: m.SourceFilename,
		ProcessorName:  m.ProcessorName,
		Status:         m.Status,
		Outputs:        append([]processor.Output{}, m.Outputs...),
		Metadata:       m.Metadata,
		Warnings:       append([]string{}, m.Warnings...),
	}
}

// Options configures a Runner.
type Options struct {
	ManifestName string
	// Cache enables manifest reuse when the source size is unchanged.
	Cache bool
}

// Runner processes files into output directories. Runs targeting the same
// directory are serialized.
type Runner struct {
	proc         *processor.Processor
	manifestName string
	cache        *Cache

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRunner creates a runner around proc.
func NewRunner(proc *processor.Processor, opts Options) *Runner {
	r := &Runner{
		proc:         proc,
		manifestName: opts.ManifestName,
		locks:        make(map[string]*sync.Mutex),
	}
	if r.manifestName == "" {
		r.manifestName = DefaultManifestName
	}
	if opts.Cache {
		r.cache = NewCache()
	}
	return r
}

// CacheStats returns the in-memory manifest cache statistics.
func (r *Runner) CacheStats() (hits, misses int) {
	if r.cache == nil {
		return 0, 0
	}
	return r.cache.Stats()
}

// lockDir acquires the lock for dir and returns its release function.
func (r *Runner) lockDir(dir string) func() {
	key, err := filepath.Abs(dir)
	if err != nil {
		key = filepath.Clean(dir)
	}

	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Run processes source into outDir. filename is the user-facing name used
// for dispatch and reporting. A cached result is returned when outDir holds
// a manifest for a source of the same size. onStatus may be nil.
func (r *Runner) Run(ctx context.Context, source, outDir, filename string, onStatus StatusFunc) (*processor.Result, error) {
	log := logger.Named("pipeline")

	if !processor.Supports(filename) {
		return nil, fmt.Errorf("%w: %s", ErrNoProcessor, filename)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("reading source %s: %w", filename, err)
	}

	unlock := r.lockDir(outDir)
	handedOff := false
	defer func() {
		if !handedOff {
			unlock()
		}
	}()

	manifestPath := filepath.Join(outDir, r.manifestName)
	if m, ok := r.cachedManifest(manifestPath, info.Size()); ok {
		log.Info("cache hit, skipping processing", zap.String("file", filename))
		return m.Result(), nil
	}

	notify(onStatus, StatusProcessing, fmt.Sprintf("Processing %s with %s...", filename, processor.Name))

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	done := make(chan *processor.Result, 1)
	go func() {
		done <- r.proc.Process(source, outDir, filename)
	}()

	var res *processor.Result
	select {
	case res = <-done:
	case <-ctx.Done():
		// The decoder cannot be interrupted; keep the directory locked
		// until it finishes writing.
		handedOff = true
		go func() {
			<-done
			unlock()
		}()
		return nil, ctx.Err()
	}

	if res.Status == processor.StatusError {
		log.Error("processor failed",
			zap.String("processor", res.ProcessorName),
			zap.String("file", filename),
			zap.String("error", res.Error))
	}

	for i := range res.Outputs {
		if st, err := os.Stat(filepath.Join(outDir, res.Outputs[i].Filename)); err == nil {
			res.Outputs[i].Size = st.Size()
		}
	}

	if res.Status == processor.StatusSuccess || res.Status == processor.StatusPartial {
		m := &Manifest{
			SourceFilename: res.SourceFilename,
			ProcessorName:  res.ProcessorName,
			Status:         res.Status,
			SourceSize:     info.Size(),
			Outputs:        res.Outputs,
			Metadata:       res.Metadata,
			Warnings:       res.Warnings,
		}
		if err := writeManifest(manifestPath, m); err != nil {
			log.Warn("writing manifest failed", zap.String("file", filename), zap.Error(err))
		} else if r.cache != nil {
			r.cache.Set(manifestPath, m)
		}
	}

	detail := fmt.Sprintf("%s: %s", res.ProcessorName, res.Status)
	if res.Error != "" {
		detail += " (" + res.Error + ")"
	}
	notify(onStatus, StatusProcessingDone, detail)

	return res, nil
}

// cachedManifest returns a manifest for a source of the given size, from
// memory or from disk.
func (r *Runner) cachedManifest(path string, sourceSize int64) (*Manifest, bool) {
	if r.cache == nil {
		return nil, false
	}
	if m, ok := r.cache.Get(path, sourceSize); ok {
		if _, err := os.Stat(path); err == nil {
			return m, true
		}
		r.cache.Delete(path)
	}

	m, err := readManifest(path)
	if err != nil || m.SourceSize != sourceSize {
		return nil, false
	}
	r.cache.Set(path, m)
	return m, true
}

func notify(fn StatusFunc, status, detail string) {
	if fn != nil {
		fn(status, detail)
	}
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

func writeManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
