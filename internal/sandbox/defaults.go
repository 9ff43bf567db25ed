package sandbox

import (
	"regexp"
	"time"
)

// Canonical language keys.
const (
	JavaScript = "javascript"
	TypeScript = "typescript"
	Python     = "python"
	C          = "c"
	Go         = "go"
)

// NoiseMarkers identify image-provisioning chatter the container runtime writes to stderr.
var NoiseMarkers = []string{
	"Unable to find image",
	"Pulling from library",
	"Pulling fs layer",
	"Downloading",
	"Download complete",
	"Extracting",
	"Pull complete",
	"Digest: sha256",
	"Status: Downloaded newer image",
	"Verifying Checksum",
	"alpine: Pulling",
}

func defaultLimits(memory string, cpus float64, cpuTime int64) Limits {
	return Limits{
		Memory:     memory,
		MemorySwap: memory,
		CPUs:       cpus,
		Pids:       50,
		CPUTime:    cpuTime,
		NoFile:     64,
		Network:    "none",
	}
}

// DefaultProfiles returns the built-in profile of every language that runs in a sandbox.
// TypeScript has no profile of its own: it is checked, transpiled and run as JavaScript.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		C: {
			Name:  "C",
			Image: "c-runner",
			Command: []string{
				"sh", "-c",
				"cat > /tmp/code.c && gcc -Wall -Wextra -o /tmp/code.out /tmp/code.c 2>&1 && timeout 8s /tmp/code.out",
			},
			Delivery:  DeliverStdin,
			Limits:    defaultLimits("256m", 0.5, 10),
			Timeout:   15 * time.Second,
			MaxOutput: DefaultMaxOutput,
			Rules: ErrorRules{
				MemoryExitCodes: []int{137},
				MemoryMarkers:   []string{"Killed"},
				Crashes: []CrashRule{{
					Marker: "Segmentation fault",
					Prefix: "Runtime Error: Segmentation fault (invalid memory access)\n",
				}},
				SourcePaths: []string{"/tmp/code.c:"},
			},
		},
		Go: {
			Name:      "Go",
			Image:     "go-runner",
			Command:   []string{"sh", "-c", "cat > /tmp/main.go && cd /tmp && timeout 18s go run main.go"},
			Delivery:  DeliverStdin,
			Limits:    defaultLimits("512m", 1.0, 15),
			Timeout:   20 * time.Second,
			MaxOutput: DefaultMaxOutput,
			Rules: ErrorRules{
				MemoryExitCodes: []int{137},
				MemoryMarkers:   []string{"signal: killed"},
				Crashes: []CrashRule{{
					Pattern: regexp.MustCompile(`panic: runtime error: (.+)`),
					Prefix:  "Runtime Error: %s\n\n",
				}},
				SourcePaths: []string{"/tmp/main.go:"},
			},
		},
		Python: {
			Name:      "Python",
			Image:     "python:alpine",
			Command:   []string{"python3", "-c"},
			Delivery:  DeliverArgument,
			Limits:    defaultLimits("128m", 0.5, 10),
			Timeout:   10 * time.Second,
			MaxOutput: DefaultMaxOutput,
			Rules: ErrorRules{
				MemoryExitCodes: []int{137},
				MemoryMarkers:   []string{"MemoryError"},
				SourcePaths:     []string{`File "<string>", line `},
			},
		},
		JavaScript: {
			Name:      "JavaScript",
			Image:     "node:alpine",
			Command:   []string{"node", "-"},
			Delivery:  DeliverStdin,
			Limits:    defaultLimits("256m", 0.5, 10),
			Timeout:   10 * time.Second,
			MaxOutput: DefaultMaxOutput,
			Rules: ErrorRules{
				MemoryExitCodes: []int{137},
				MemoryMarkers:   []string{"heap out of memory"},
				SourcePaths:     []string{"[stdin]:"},
			},
		},
	}
}
