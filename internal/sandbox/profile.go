package sandbox

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
)

// Delivery selects how source code reaches the sandbox process.
type Delivery string

const (
	// DeliverStdin writes the code to the process input stream and closes it.
	DeliverStdin Delivery = "stdin"
	// DeliverArgument appends the code to the command and closes an empty input stream.
	DeliverArgument Delivery = "argument"
)

// DefaultMaxOutput caps stdout and stderr independently.
const DefaultMaxOutput = 1024 * 1024

// Limits are the declarative constraints applied to a sandbox process.
type Limits struct {
	Memory     string  `yaml:"memory"`      // docker size, e.g. "256m"
	MemorySwap string  `yaml:"memory_swap"` // equal to Memory disables swap
	CPUs       float64 `yaml:"cpus"`
	Pids       int64   `yaml:"pids"`
	CPUTime    int64   `yaml:"cpu_time"` // seconds
	NoFile     int64   `yaml:"nofile"`
	Network    string  `yaml:"network"`
}

// MemoryBytes parses Memory.
func (l Limits) MemoryBytes() (int64, error) {
	return units.RAMInBytes(l.Memory)
}

// MemorySwapBytes parses MemorySwap, falling back to Memory.
func (l Limits) MemorySwapBytes() (int64, error) {
	if l.MemorySwap == "" {
		return l.MemoryBytes()
	}
	return units.RAMInBytes(l.MemorySwap)
}

// Profile is the fixed, per-language execution configuration.
// It is read-only at runtime and never derived from request content.
type Profile struct {
	Name      string        `yaml:"name"` // reported in CompilationResult.Language
	Image     string        `yaml:"image"`
	Command   []string      `yaml:"command"`
	Delivery  Delivery      `yaml:"delivery"`
	Limits    Limits        `yaml:"limits"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxOutput int           `yaml:"max_output"`
	Disabled  bool          `yaml:"disabled"`

	Rules ErrorRules `yaml:"-"`
}

// Validate checks that the profile can launch anything at all.
func (p Profile) Validate() error {
	if p.Image == "" {
		return fmt.Errorf("profile %q: image is required", p.Name)
	}
	if len(p.Command) == 0 {
		return fmt.Errorf("profile %q: command is required", p.Name)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("profile %q: timeout must be positive", p.Name)
	}
	if p.MaxOutput <= 0 {
		return fmt.Errorf("profile %q: max_output must be positive", p.Name)
	}
	if _, err := p.Limits.MemoryBytes(); err != nil {
		return fmt.Errorf("profile %q: memory: %w", p.Name, err)
	}
	switch p.Delivery {
	case DeliverStdin, DeliverArgument:
	default:
		return fmt.Errorf("profile %q: unknown delivery %q", p.Name, p.Delivery)
	}
	return nil
}

// launchSpec builds the process description for one execution of code.
func (p Profile) launchSpec(code string) LaunchSpec {
	spec := LaunchSpec{
		Image:   p.Image,
		Command: append([]string(nil), p.Command...),
		Limits:  p.Limits,
	}
	if p.Delivery == DeliverArgument {
		spec.Command = append(spec.Command, code)
	} else {
		spec.Stdin = code
	}
	return spec
}

// formatSize renders a byte count the way limit messages show it, e.g. "1MB".
func formatSize(n int64) string {
	const mb = 1024 * 1024
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	if n >= 1024 && n%1024 == 0 {
		return fmt.Sprintf("%dKB", n/1024)
	}
	return fmt.Sprintf("%dB", n)
}

func (p Profile) memoryLabel() string {
	n, err := p.Limits.MemoryBytes()
	if err != nil {
		return p.Limits.Memory
	}
	return formatSize(n)
}

func (p Profile) outputLabel() string {
	return formatSize(int64(p.MaxOutput))
}

func (p Profile) timeoutLabel() string {
	return fmt.Sprintf("%d seconds limit", int64(p.Timeout/time.Second))
}
