package stub

import (
	"os"
	"runtime"
	"time"

	"github.com/srgg/ptyhalfduplex/pkg/config"
)

func stubSelfPid() int {
	return os.Getpid()
}

// initialLag picks the kernel-family-appropriate starting lag (spec.md
// §4.2's rationale: BSD charges a background reader a much coarser delay per
// attempt than Linux does).
func initialLag(cfg *config.Config) time.Duration {
	if runtime.GOOS == "linux" {
		return cfg.InitialLagLinux
	}
	return cfg.InitialLagBSD
}
