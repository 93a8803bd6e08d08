// modelprep converts 3D model uploads (OBJ, FBX, glTF, GLB) into geometry
// JSON and texture files.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/modelprep/internal/config"
	"github.com/Faultbox/modelprep/internal/logger"
	"github.com/Faultbox/modelprep/internal/pipeline"
	"github.com/Faultbox/modelprep/internal/processor"
	"github.com/Faultbox/modelprep/pkg/fbx"
)

func main() {
	config.ParseFlags()

	args := config.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Debug("config loaded",
		zap.Int("max_vertices", cfg.Limits.MaxVertices),
		zap.Int("max_bones", cfg.Limits.MaxBones),
		zap.Int("max_keyframes", cfg.Limits.MaxKeyframes),
		zap.Bool("cache", cfg.Pipeline.Cache))

	command := args[0]
	args = args[1:]

	var cmdErr error
	switch command {
	case "process", "p":
		cmdErr = cmdProcess(cfg, args)
	case "info":
		cmdErr = cmdInfo(cfg, args)
	case "inspect":
		cmdErr = cmdInspect(args)
	case "formats":
		cmdFormats()
	case "config":
		cmdErr = cmdConfig(cfg, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if cmdErr != nil {
		for _, err := range multierr.Errors(cmdErr) {
			logger.Error("command failed", zap.String("command", command), zap.Error(err))
		}
		logger.Sync()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`modelprep - 3D model derivative extractor

Usage:
  modelprep [flags] <command> [options]

Commands:
  process <file>... <outdir>   Extract geometry.json and textures
  info <file>                  Decode a model and print its metadata
  inspect <file.fbx>           Dump the raw FBX node tree
  formats                      List supported file extensions
  config [-save path|-install] Print or save the effective configuration

Flags:
  -config <path>       Config file (default ./modelprep.yaml)
  -debug               Enable debug logging
  -max-vertices <n>    Vertex ceiling per model
  -max-bones <n>       Bone ceiling per skeleton
  -max-keyframes <n>   Keyframe ceiling per animation track
  -no-cache            Ignore cached manifests
  -log-file <path>     Also log to a rotating file

Examples:
  modelprep process character.fbx ./derived
  modelprep -max-vertices 20000 process a.obj b.glb ./derived
  modelprep info scene.gltf
  modelprep inspect character.fbx`)
}

func newProcessor(cfg *config.Config) *processor.Processor {
	proc := processor.New(cfg.DecodeLimits())
	proc.GeometryName = cfg.Pipeline.GeometryName
	return proc
}

func cmdProcess(cfg *config.Config, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: modelprep process <file>... <outdir>")
	}
	sources := args[:len(args)-1]
	outDir := args[len(args)-1]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runner := pipeline.NewRunner(newProcessor(cfg), pipeline.Options{
		ManifestName: cfg.Pipeline.ManifestName,
		Cache:        cfg.Pipeline.Cache,
	})
	log := logger.Named("cli")
	onStatus := func(status, detail string) {
		log.Info(detail, zap.String("status", status))
	}

	var errs error
	var results []*processor.Result
	for i, src := range sources {
		dest := outDir
		if len(sources) > 1 {
			// One subdirectory per source keeps texture names from colliding.
			base := filepath.Base(src)
			dest = filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base)))
		}

		res, err := runner.Run(ctx, src, dest, filepath.Base(src), onStatus)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", src, err))
			if ctx.Err() != nil {
				logger.Warn("interrupted, remaining files skipped", zap.Int("pending", len(sources)-i-1))
				break
			}
			continue
		}
		if res.Status == processor.StatusError {
			errs = multierr.Append(errs, fmt.Errorf("%s: %s", src, res.Error))
		}
		results = append(results, res)
	}

	if hits, misses := runner.CacheStats(); hits+misses > 0 {
		log.Debug("manifest cache", zap.Int("hits", hits), zap.Int("misses", misses))
	}

	if len(results) > 0 {
		var out any = results
		if len(results) == 1 {
			out = results[0]
		}
		if err := printJSON(out); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func cmdInfo(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: modelprep info <file>")
	}
	path := args[0]

	tmpDir, err := os.MkdirTemp("", "modelprep-info")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	res := newProcessor(cfg).Process(path, tmpDir, filepath.Base(path))
	logger.Sugar.Debugf("decoded %s into %s with %d outputs", path, tmpDir, len(res.Outputs))
	if res.Status == processor.StatusError {
		return fmt.Errorf("%s: %s", path, res.Error)
	}

	md := res.Metadata
	fmt.Printf("File:       %s\n", path)
	fmt.Printf("Status:     %s\n", res.Status)
	fmt.Printf("Vertices:   %d\n", md.VertexCount)
	fmt.Printf("Faces:      %d\n", md.FaceCount)
	fmt.Printf("Normals:    %v\n", md.HasNormals)
	fmt.Printf("UVs:        %v\n", md.HasUVs)
	fmt.Printf("Materials:  %v\n", md.HasMaterials)
	if md.BoneCount != nil {
		fmt.Printf("Bones:      %d\n", *md.BoneCount)
	}
	if md.AnimationCount != nil {
		fmt.Printf("Animations: %d\n", *md.AnimationCount)
	}
	if n := len(res.Outputs) - 1; n > 0 {
		fmt.Printf("Textures:   %d\n", n)
	}
	if len(res.Warnings) > 0 {
		fmt.Println()
		fmt.Println("Warnings:")
		for _, w := range res.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
	return nil
}

func cmdInspect(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: modelprep inspect <file.fbx>")
	}

	doc, err := fbx.ParseFile(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("FBX version %d (64-bit offsets: %v)\n", doc.Version, doc.Is64())
	for _, n := range doc.Root.Children {
		n.Dump(os.Stdout, 0)
	}
	return nil
}

func cmdFormats() {
	for _, ext := range processor.Extensions() {
		fmt.Println(ext)
	}
}

func cmdConfig(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	save := fs.String("save", "", "Write the effective config to this path")
	install := fs.Bool("install", false, "Write the effective config to the user config directory")
	fs.Parse(args)

	if *install {
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		logger.Info("config saved", zap.String("path", filepath.Join(config.ConfigDir(), "config.yaml")))
		return nil
	}
	if *save != "" {
		if err := cfg.SaveTo(*save); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		logger.Info("config saved", zap.String("path", *save))
		return nil
	}

	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
