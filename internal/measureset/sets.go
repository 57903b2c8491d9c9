package measureset

import (
	"browser-efficiency/internal/protocol"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CPUUsage reports total CPU utilization and each browser's share of it.
type CPUUsage struct {
	definition
}

func NewCPUUsage() *CPUUsage {
	return &CPUUsage{definition{
		name:        "cpuUsage",
		wprProfile:  "cpuUsage",
		mode:        protocol.TraceModeFile,
		wpaProfile:  "CpuUsage.wpaProfile",
		exportFiles: []string{"CPU_Usage_(Attributed)_CPU_UsageTime_ByProcess.csv"},
	}}
}

// CalculateMetrics divides by the CPU time of every process, browsers or
// not. The total is omitted when there is no Idle row.
func (c *CPUUsage) CalculateMetrics(data CSVData) Metrics {
	metrics := make(Metrics)

	byProcess := aggregate(c.rows(data), column{name: 0, value: 1})
	total := byProcess.sum()
	if total.IsZero() {
		return metrics
	}

	if idle, ok := byProcess["idle"]; ok {
		busy := total.Sub(idle)
		metrics["CPU Total Utilization %"] = FormatDecimal(busy.Div(total).Mul(hundred))
	}

	for _, name := range byProcess.names() {
		if !IsBrowserProcess(name) {
			continue
		}
		share := byProcess[name].Div(total).Mul(hundred)
		metrics["CPU "+name+" Utilization %"] = FormatDecimal(share)
	}

	return metrics
}

// DiskIO reports disk IO time, size and service time per browser.
type DiskIO struct {
	definition
}

func NewDiskIO() *DiskIO {
	return &DiskIO{definition{
		name:        "diskIo",
		wprProfile:  "diskIo",
		mode:        protocol.TraceModeFile,
		wpaProfile:  "diskIo.wpaProfile",
		exportFiles: []string{"Disk_Usage_Service_Time_by_Process,_Path_Name,_Stack.csv"},
	}}
}

func (d *DiskIO) CalculateMetrics(data CSVData) Metrics {
	rows := d.rows(data)
	metrics := make(Metrics)
	aggregate(rows, column{name: 0, value: 4, divisor: 1000}).emit(metrics, "Disk IO Time %s (μs)")
	aggregate(rows, column{name: 0, value: 6}).emit(metrics, "Disk IO Size %s")
	aggregate(rows, column{name: 0, value: 9, divisor: 1000}).emit(metrics, "Disk Service Time %s (μs)")
	return metrics
}

// FileIO reports file IO duration and size per browser.
type FileIO struct {
	definition
}

func NewFileIO() *FileIO {
	return &FileIO{definition{
		name:        "fileIo",
		wprProfile:  "fileIo",
		mode:        protocol.TraceModeFile,
		wpaProfile:  "FileIo.wpaProfile",
		exportFiles: []string{"File_I_O_Activity_by_Process,_Thread,_Type.csv"},
	}}
}

func (f *FileIO) CalculateMetrics(data CSVData) Metrics {
	rows := f.rows(data)
	metrics := make(Metrics)
	aggregate(rows, column{name: 0, value: 4, divisor: 1000}).emit(metrics, "File IO Duration Time %s (μs)")
	aggregate(rows, column{name: 0, value: 7}).emit(metrics, "File IO Size %s")
	return metrics
}

// GPUUsage reports GPU packets, utilization and time per browser. The
// export carries the bare image name in field 0 and "name (pid)" in field 1.
type GPUUsage struct {
	definition
}

func NewGPUUsage() *GPUUsage {
	return &GPUUsage{definition{
		name:        "gpuUsage",
		wprProfile:  "gpuUsage",
		mode:        protocol.TraceModeFile,
		wpaProfile:  "GpuUsage.wpaProfile",
		exportFiles: []string{"GPU_Utilization_Table_GPU_by_Process.csv"},
	}}
}

func (g *GPUUsage) CalculateMetrics(data CSVData) Metrics {
	rows := g.rows(data)
	metrics := make(Metrics)
	aggregate(rows, column{name: 1, value: 3}).emit(metrics, "GPU Packets %s")
	aggregate(rows, column{name: 1, value: 10, divisor: 100}).emit(metrics, "GPU Percentage %s (%%)")
	aggregate(rows, column{name: 1, value: 11, divisor: 1000}).emit(metrics, "GPU Time %s (μs)")
	return metrics
}

// MemSet reports working set, private working set and virtual size per browser.
type MemSet struct {
	definition
}

func NewMemSet() *MemSet {
	return &MemSet{definition{
		name:        "memSet",
		wprProfile:  "memSet",
		mode:        protocol.TraceModeFile,
		wpaProfile:  "MemSet.wpaProfile",
		exportFiles: []string{"Virtual_Memory_Snapshots_Default.csv"},
	}}
}

func (m *MemSet) CalculateMetrics(data CSVData) Metrics {
	rows := m.rows(data)
	metrics := make(Metrics)
	aggregate(rows, column{name: 0, value: 1}).emit(metrics, "WorkingSet %s (B)")
	aggregate(rows, column{name: 0, value: 2}).emit(metrics, "PrivateWorkingSet %s (B)")
	aggregate(rows, column{name: 0, value: 3}).emit(metrics, "VirtualSize %s (B)")
	return metrics
}
