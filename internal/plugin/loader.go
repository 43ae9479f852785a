package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"time"

	"conveyor/internal/logging"
	"conveyor/internal/services"
)

var commandContext = exec.CommandContext

// Instance is a loaded plugin ready for one execution.
type Instance interface {
	Execute(ctx context.Context, filePath string) error
}

// Loader turns a resolved descriptor into an executable instance.
type Loader interface {
	Load(desc Descriptor) (Instance, error)
}

// Request is the initialization payload handed to a plugin process on
// stdin: the shared services (settings access, log destination, time) plus
// the file to process.
type Request struct {
	Plugin     string    `json:"plugin"`
	Version    string    `json:"version"`
	ConfigPath string    `json:"config_path"`
	LogDir     string    `json:"log_dir"`
	InvokedAt  time.Time `json:"invoked_at"`
	FilePath   string    `json:"file_path"`
}

// ExecLoader launches plugin artifacts as subprocesses. Each Load returns a
// fresh instance; no process or file handle outlives Execute.
type ExecLoader struct {
	configPath string
	logDir     string
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecLoader constructs the subprocess loader. configPath and logDir are
// forwarded to plugins as their shared-services handle.
func NewExecLoader(configPath, logDir string, logger *slog.Logger) *ExecLoader {
	return &ExecLoader{
		configPath: configPath,
		logDir:     logDir,
		logger:     logging.NewComponentLogger(logger, "plugin"),
		now:        time.Now,
	}
}

// Load validates nothing beyond the descriptor itself; artifact existence
// was checked at Resolve time, and the launch below re-fails cleanly if the
// artifact vanished in between.
func (l *ExecLoader) Load(desc Descriptor) (Instance, error) {
	return &processInstance{loader: l, desc: desc}, nil
}

type processInstance struct {
	loader *ExecLoader
	desc   Descriptor
}

// Execute runs the plugin binary once, feeding the initialization request on
// stdin. A non-zero exit or launch failure surfaces as an external tool
// error; the queue's boundary swallows it.
func (p *processInstance) Execute(ctx context.Context, filePath string) error {
	l := p.loader
	req := Request{
		Plugin:     p.desc.Name,
		Version:    p.desc.Version,
		ConfigPath: l.configPath,
		LogDir:     l.logDir,
		InvokedAt:  l.now().UTC(),
		FilePath:   filePath,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "plugin", "encode request", p.desc.Name, err)
	}

	cmd := commandContext(ctx, p.desc.Location) //nolint:gosec
	cmd.Stdin = bytes.NewReader(payload)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "plugin", "execute", p.desc.Name+": "+string(bytes.TrimSpace(output)), err)
	}
	if len(bytes.TrimSpace(output)) > 0 {
		l.logger.Debug("plugin output",
			logging.String(logging.FieldPlugin, p.desc.Name),
			logging.String("output", string(bytes.TrimSpace(output))))
	}
	return nil
}
