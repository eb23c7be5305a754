package config

const (
	DefaultPort      = 3000
	DefaultWorkers   = 4
	DefaultQueueSize = 100
	DefaultMaxSteps  = 10
	DefaultMaxTokens = 4096
	DefaultDedupTTL  = 24 * 60 // minutes
	DefaultMaxBody   = 10 << 20
)

func Defaults() *Config {
	return &Config{
		Sources: []Descriptor{},
		Actions: []Descriptor{},
		Server: ServerConfig{
			Port:         DefaultPort,
			Workers:      DefaultWorkers,
			QueueSize:    DefaultQueueSize,
			MaxBodyBytes: DefaultMaxBody,
			Dedup: DedupConfig{
				TTLMinutes: DefaultDedupTTL,
			},
		},
		Engine: EngineConfig{
			MaxSteps:  DefaultMaxSteps,
			MaxTokens: DefaultMaxTokens,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}
