// Package hostenv collects the host and process context attached to every
// failure record. Collection runs once at SDK start; the crash path only
// ever reads the cached result, so no hardware is probed while the
// process is dying.
package hostenv

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/faultline-io/faultline/internal/logging"
)

// Info is the one-shot host and process snapshot.
type Info struct {
	Hostname  string
	OS        string
	OSVersion string
	Arch      string
	GoVersion string

	CPUModel   string
	CPUCores   int
	CPUThreads int
	MemTotalMB uint64

	ProductVendor string
	ProductName   string
	GPUName       string

	PID          int
	ProcessStart time.Time
	CollectedAt  time.Time
}

// Collect gathers the snapshot. Every probe is best-effort; partial
// results are normal and logged at debug only.
func Collect(logger *logging.Logger) *Info {
	info := &Info{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GoVersion:   runtime.Version(),
		PID:         os.Getpid(),
		CollectedAt: time.Now(),
	}

	if hn, err := os.Hostname(); err == nil {
		info.Hostname = hn
	}

	if hi, err := host.Info(); err == nil {
		info.OSVersion = strings.TrimSpace(hi.Platform + " " + hi.PlatformVersion)
	} else {
		logger.Debug("host info unavailable", "error", err)
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		info.CPUModel = strings.TrimSpace(infos[0].ModelName)
	}
	if cores, err := cpu.Counts(false); err == nil {
		info.CPUCores = cores
	}
	if threads, err := cpu.Counts(true); err == nil {
		info.CPUThreads = threads
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemTotalMB = vm.Total / 1024 / 1024
	}

	if product, err := ghw.Product(); err == nil && product != nil {
		info.ProductVendor = cleanDMI(product.Vendor)
		info.ProductName = cleanDMI(product.Name)
	} else if err != nil {
		logger.Debug("product info unavailable", "error", err)
	}

	if gpu, err := ghw.GPU(); err == nil && gpu != nil && len(gpu.GraphicsCards) > 0 {
		if dev := gpu.GraphicsCards[0].DeviceInfo; dev != nil && dev.Product != nil {
			info.GPUName = dev.Product.Name
		}
	}

	if proc, err := process.NewProcess(int32(info.PID)); err == nil {
		if created, err := proc.CreateTime(); err == nil {
			info.ProcessStart = time.UnixMilli(created)
		}
	}

	return info
}

// cleanDMI drops the placeholder strings firmware vendors ship instead of
// real identifiers.
func cleanDMI(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "unknown", "to be filled by o.e.m.", "default string", "system product name", "system manufacturer":
		return ""
	}
	return s
}

// Blocks renders the snapshot as named context blocks for a record.
func (i *Info) Blocks() map[string]map[string]any {
	blocks := map[string]map[string]any{
		"os": {
			"name":    i.OS,
			"version": i.OSVersion,
		},
		"runtime": {
			"name":    "go",
			"version": i.GoVersion,
		},
		"process": {
			"pid": i.PID,
		},
	}
	if !i.ProcessStart.IsZero() {
		blocks["process"]["start_time"] = i.ProcessStart.UTC().Format(time.RFC3339)
	}

	device := map[string]any{
		"arch": i.Arch,
	}
	if i.Hostname != "" {
		device["hostname"] = i.Hostname
	}
	if i.CPUModel != "" {
		device["cpu_model"] = i.CPUModel
	}
	if i.CPUCores > 0 {
		device["cpu_cores"] = i.CPUCores
	}
	if i.CPUThreads > 0 {
		device["cpu_threads"] = i.CPUThreads
	}
	if i.MemTotalMB > 0 {
		device["memory_total_mb"] = i.MemTotalMB
	}
	if i.ProductVendor != "" {
		device["vendor"] = i.ProductVendor
	}
	if i.ProductName != "" {
		device["model"] = i.ProductName
	}
	if i.GPUName != "" {
		device["gpu"] = i.GPUName
	}
	blocks["device"] = device

	return blocks
}
