package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// healthResponse reports process-level vitals alongside the worker-pool
// configuration, since this is a CPU-bound numerical service where a
// flat "ok" tells an operator nothing about whether a batch is about to
// saturate the machine.
type healthResponse struct {
	Status        string  `json:"status"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Workers       int     `json:"workers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read CPU percentage")
		cpuPercent = []float64{0}
	}
	var cpuAvg float64
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	var memPercent float64
	if memStat, err := mem.VirtualMemory(); err != nil {
		s.log.Warn().Err(err).Msg("failed to read memory statistics")
	} else {
		memPercent = memStat.UsedPercent
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		CPUPercent:    cpuAvg,
		MemoryPercent: memPercent,
		Workers:       s.cfg.Workers,
	})
}
