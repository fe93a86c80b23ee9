package httpserver

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	gpuProbeTimeout = 3 * time.Second
	gpuUnavailable  = "unavailable"
)

// ProbeGPU reports the GPU name and memory via nvidia-smi, or "unavailable".
func ProbeGPU(ctx context.Context) string {
	probeCtx, cancel := context.WithTimeout(ctx, gpuProbeTimeout)
	defer cancel()

	output, err := exec.CommandContext(
		probeCtx,
		"nvidia-smi",
		"--query-gpu=name,memory.total",
		"--format=csv,noheader",
	).Output()
	if err != nil {
		return gpuUnavailable
	}

	return strings.TrimSpace(string(output))
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"gpu":    s.deps.GPUProbe(c.UserContext()),
	})
}
