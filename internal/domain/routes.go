package domain

// cpuJobTypes is the closed set of job types processed on the CPU lane.
// Anything not in this set is routed to the GPU lane by default, mirroring
// the orchestrator's CPU_TASK_TYPES allowlist: CPU routes are the
// exception, GPU is the default.
var cpuJobTypes = map[string]bool{
	"face-mask":       true,
	"full-face-swap":  true,
}

// LaneForJobType resolves which queue a job type is enqueued on.
func LaneForJobType(jobType string) Lane {
	if cpuJobTypes[jobType] {
		return LaneCPU
	}
	return LaneGPU
}

// KnownJobTypes lists every job type this orchestrator accepts on
// submission, independent of lane. Validation rejects anything outside
// this set with ErrInvalidArgument.
var KnownJobTypes = map[string]bool{
	"camera-angle":     true,
	"qwen-image-edit":  true,
	"face-swap":        true,
	"face-mask":        true,
	"full-face-swap":   true,
}
