package logger

type Config struct {
	Level            string       `json:"level"`
	OutputPaths      []string     `json:"outputPaths"`
	ErrorOutputPaths []string     `json:"errorOutputPaths"`
	Development      bool         `json:"development"`
	LogToConsole     bool         `json:"logToConsole"`
	Sampling         Sampling     `json:"sampling"`
	Encoding         Encoding     `json:"encodingConfig"`
	LogRotation      LogRotation  `json:"logRotation"`
	Sanitization     Sanitization `json:"sanitization"`
}

// Sampling caps repeated messages per second. Zero disables sampling.
type Sampling struct {
	Initial    int `json:"initial"`
	Thereafter int `json:"thereafter"`
}

type Encoding struct {
	TimeKey         string `json:"timeKey"`
	LevelKey        string `json:"levelKey"`
	NameKey         string `json:"nameKey"`
	CallerKey       string `json:"callerKey"`
	MessageKey      string `json:"messageKey"`
	StacktraceKey   string `json:"stacktraceKey"`
	LineEnding      string `json:"lineEnding"`
	LevelEncoder    string `json:"levelEncoder"`
	TimeEncoder     string `json:"timeEncoder"`
	DurationEncoder string `json:"durationEncoder"`
	CallerEncoder   string `json:"callerEncoder"`
}

type LogRotation struct {
	Enabled    bool `json:"enabled"`
	MaxSizeMB  int  `json:"maxSizeMB"`
	MaxBackups int  `json:"maxBackups"`
	MaxAgeDays int  `json:"maxAgeDays"`
	Compress   bool `json:"compress"`
}

// Sanitization configures sensitive field sanitization.
type Sanitization struct {
	SensitiveFields []string `json:"sensitiveFields"`
	Mask            string   `json:"mask"`
}

// SensitiveFields are masked in every logger, whatever log.config.json says.
var SensitiveFields = []string{
	"password",
	"password_hash",
	"new_password",
	"old_password",
	"token",
	"session_id",
	"jwt_secret",
	"authorization",
}

// DefaultConfig provides fallback logging settings for any logger not specified in log.config.json.
var DefaultConfig = Config{
	Level:            "info",
	OutputPaths:      []string{"stdout"},
	ErrorOutputPaths: []string{"stderr"},
	Sampling: Sampling{
		Initial:    100,
		Thereafter: 100,
	},
	Encoding: Encoding{
		TimeKey:         "time",
		LevelKey:        "level",
		NameKey:         "logger",
		CallerKey:       "caller",
		MessageKey:      "msg",
		StacktraceKey:   "stacktrace",
		LineEnding:      "\n",
		LevelEncoder:    "lowercase",
		TimeEncoder:     "iso8601",
		DurationEncoder: "string",
		CallerEncoder:   "short",
	},
	LogRotation: LogRotation{
		Enabled:    true,
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 30,
		Compress:   true,
	},
	Sanitization: Sanitization{
		SensitiveFields: SensitiveFields,
		Mask:            "****",
	},
}

func assignDefaultValues(cfg *Config) {
	d := DefaultConfig
	if cfg.Level == "" {
		cfg.Level = d.Level
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = d.OutputPaths
	}
	if len(cfg.ErrorOutputPaths) == 0 {
		cfg.ErrorOutputPaths = d.ErrorOutputPaths
	}

	enc := &cfg.Encoding
	if enc.TimeKey == "" {
		enc.TimeKey = d.Encoding.TimeKey
	}
	if enc.LevelKey == "" {
		enc.LevelKey = d.Encoding.LevelKey
	}
	if enc.NameKey == "" {
		enc.NameKey = d.Encoding.NameKey
	}
	if enc.CallerKey == "" {
		enc.CallerKey = d.Encoding.CallerKey
	}
	if enc.MessageKey == "" {
		enc.MessageKey = d.Encoding.MessageKey
	}
	if enc.StacktraceKey == "" {
		enc.StacktraceKey = d.Encoding.StacktraceKey
	}
	if enc.LineEnding == "" {
		enc.LineEnding = d.Encoding.LineEnding
	}
	if enc.LevelEncoder == "" {
		enc.LevelEncoder = d.Encoding.LevelEncoder
	}
	if enc.TimeEncoder == "" {
		enc.TimeEncoder = d.Encoding.TimeEncoder
	}
	if enc.DurationEncoder == "" {
		enc.DurationEncoder = d.Encoding.DurationEncoder
	}
	if enc.CallerEncoder == "" {
		enc.CallerEncoder = d.Encoding.CallerEncoder
	}

	if cfg.LogRotation.MaxSizeMB == 0 {
		cfg.LogRotation.MaxSizeMB = d.LogRotation.MaxSizeMB
	}
	if cfg.LogRotation.MaxBackups == 0 {
		cfg.LogRotation.MaxBackups = d.LogRotation.MaxBackups
	}
	if cfg.LogRotation.MaxAgeDays == 0 {
		cfg.LogRotation.MaxAgeDays = d.LogRotation.MaxAgeDays
	}

	if cfg.Sanitization.Mask == "" {
		cfg.Sanitization.Mask = d.Sanitization.Mask
	}
	cfg.Sanitization.SensitiveFields = mergeFields(cfg.Sanitization.SensitiveFields, SensitiveFields)
}

func mergeFields(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, f := range list {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}
