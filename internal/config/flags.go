package config

import "flag"

var (
	flagConfig       = flag.String("config", "", "Path to config file")
	flagDebug        = flag.Bool("debug", false, "Enable debug logging")
	flagMaxVertices  = flag.Int("max-vertices", 0, "Vertex ceiling per model")
	flagMaxBones     = flag.Int("max-bones", 0, "Bone ceiling per skeleton")
	flagMaxKeyframes = flag.Int("max-keyframes", 0, "Keyframe ceiling per animation track")
	flagNoCache      = flag.Bool("no-cache", false, "Always decode, ignoring cached manifests")
	flagLogFile      = flag.String("log-file", "", "Write logs to this file as well")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// Args returns the non-flag command-line arguments.
func Args() []string {
	return flag.Args()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagMaxVertices > 0 {
		cfg.Limits.MaxVertices = *flagMaxVertices
	}
	if *flagMaxBones > 0 {
		cfg.Limits.MaxBones = *flagMaxBones
	}
	if *flagMaxKeyframes > 0 {
		cfg.Limits.MaxKeyframes = *flagMaxKeyframes
	}
	if *flagNoCache {
		cfg.Pipeline.Cache = false
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
}
