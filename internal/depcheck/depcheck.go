package depcheck

import (
	"context"
	"os/exec"
	"time"

	"pkt.systems/pslog"
)

// probeTimeout bounds a single binary probe.
const probeTimeout = 5 * time.Second

// Checker probes for the external binaries the application shells out to.
type Checker struct {
	binaries []string
	log      pslog.Logger
}

// New constructs a Checker for the given binaries.
func New(logger pslog.Logger, binaries ...string) *Checker {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Checker{binaries: binaries, log: logger}
}

// Missing returns the binaries that cannot be resolved or executed. Each probe
// is bounded; a wedged binary counts as missing.
func (c *Checker) Missing(ctx context.Context) []string {
	missing := make([]string, 0)
	for _, binary := range c.binaries {
		if !c.available(ctx, binary) {
			missing = append(missing, binary)
		}
	}
	if len(missing) > 0 {
		c.log.Warn("missing dependencies", "binaries", missing)
	}
	return missing
}

func (c *Checker) available(ctx context.Context, binary string) bool {
	path, err := exec.LookPath(binary)
	if err != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	// A resolvable binary that cannot even print its version is treated as
	// missing; exit status is irrelevant as long as it runs.
	cmd := exec.CommandContext(probeCtx, path, "--version")
	if err := cmd.Run(); err != nil && probeCtx.Err() != nil {
		c.log.Debug("dependency probe timed out", "binary", binary)
		return false
	}
	return true
}
