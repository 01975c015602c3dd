package checks

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charlesng35/flowcache/internal/monitoring"
)

// CacheDir verifies the file cache directory exists and accepts writes.
func CacheDir(dir string) monitoring.Check {
	return monitoring.NewCheck("cache_dir", func(context.Context) monitoring.ProbeResult {
		start := time.Now()

		info, err := os.Stat(dir)
		if err != nil {
			return monitoring.ResultFromError("cache_dir", err, time.Since(start))
		}
		if !info.IsDir() {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  fmt.Sprintf("%s is not a directory", dir),
				Duration: time.Since(start),
			}
		}

		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return monitoring.ResultFromError("cache_dir", err, time.Since(start))
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)

		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}
