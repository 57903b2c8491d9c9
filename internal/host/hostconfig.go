package host

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"browser-efficiency/internal/logging"

	"github.com/shirou/gopsutil/v3/cpu"
	gopshost "github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// HostConfig describes the machine the benchmark runs on. It is collected
// once and attached to every results artifact.
type HostConfig struct {
	// CPU Information
	CPUVendor    string  `json:"cpu_vendor"`
	CPUModel     string  `json:"cpu_model"`
	CPUMhz       float64 `json:"cpu_mhz"`
	TotalCores   int     `json:"total_cores"`
	TotalThreads int     `json:"total_threads"`
	NumSockets   int     `json:"num_sockets"`

	// Memory
	MemoryTotalBytes uint64 `json:"memory_total_bytes"`

	// System Information
	Hostname        string `json:"hostname"`
	OSInfo          string `json:"os_info"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
}

var (
	globalHostConfig *HostConfig
	hostConfigErr    error
	hostConfigOnce   sync.Once
)

// GetHostConfig returns the host configuration, collecting it on first call.
func GetHostConfig() (*HostConfig, error) {
	hostConfigOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		globalHostConfig, hostConfigErr = initializeHostConfig(ctx)
	})
	return globalHostConfig, hostConfigErr
}

func initializeHostConfig(ctx context.Context) (*HostConfig, error) {
	logger := logging.GetLogger()
	logger.Debug("Initializing host configuration")

	config := &HostConfig{}

	if err := config.initSystemInfo(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize system info: %w", err)
	}

	if err := config.initCPUInfo(ctx); err != nil {
		logger.WithError(err).Warn("Failed to read CPU info, using defaults")
		config.setDefaultCPUInfo()
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		config.MemoryTotalBytes = vm.Total
	} else {
		logger.WithError(err).Warn("Failed to read memory info")
	}

	logger.WithFields(logrus.Fields{
		"hostname":    config.Hostname,
		"platform":    config.Platform,
		"cpu_model":   config.CPUModel,
		"total_cores": config.TotalCores,
		"memory_gb":   config.MemoryTotalBytes >> 30,
	}).Info("Host configuration initialized")

	return config, nil
}

func (hc *HostConfig) initSystemInfo(ctx context.Context) error {
	hc.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	info, err := gopshost.InfoWithContext(ctx)
	if err != nil {
		hostname, hostErr := os.Hostname()
		if hostErr != nil {
			return fmt.Errorf("failed to get hostname: %w", hostErr)
		}
		hc.Hostname = hostname
		hc.Platform = "unknown"
		hc.KernelVersion = "unknown"
		return nil
	}

	hc.Hostname = info.Hostname
	hc.Platform = info.Platform
	hc.PlatformVersion = info.PlatformVersion
	hc.KernelVersion = info.KernelVersion
	if hc.KernelVersion == "" {
		hc.KernelVersion = "unknown"
	}
	return nil
}

func (hc *HostConfig) initCPUInfo(ctx context.Context) error {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return fmt.Errorf("no CPU information available")
	}

	hc.CPUVendor = infos[0].VendorID
	hc.CPUModel = infos[0].ModelName
	hc.CPUMhz = infos[0].Mhz

	sockets := make(map[string]bool)
	for _, info := range infos {
		sockets[info.PhysicalID] = true
	}
	hc.NumSockets = len(sockets)

	if cores, err := cpu.CountsWithContext(ctx, false); err == nil && cores > 0 {
		hc.TotalCores = cores
	} else {
		hc.TotalCores = runtime.NumCPU()
	}
	if threads, err := cpu.CountsWithContext(ctx, true); err == nil && threads > 0 {
		hc.TotalThreads = threads
	} else {
		hc.TotalThreads = runtime.NumCPU()
	}

	if hc.CPUVendor == "" {
		hc.CPUVendor = "unknown"
	}
	if hc.CPUModel == "" {
		hc.CPUModel = "unknown"
	}
	return nil
}

func (hc *HostConfig) setDefaultCPUInfo() {
	hc.CPUVendor = "unknown"
	hc.CPUModel = "unknown"
	hc.TotalCores = runtime.NumCPU()
	hc.TotalThreads = runtime.NumCPU()
	hc.NumSockets = 1
}

// Tags returns the host attributes used to label exported results.
func (hc *HostConfig) Tags() map[string]string {
	return map[string]string{
		"hostname":  hc.Hostname,
		"platform":  hc.Platform,
		"cpu_model": hc.CPUModel,
	}
}
