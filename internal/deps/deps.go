// Package deps checks the external programs scribeflow shells out to.
package deps

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// Status represents the installation status of a dependency
type Status struct {
	Installed bool   `json:"installed" yaml:"installed"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Tool is an external program and the flag that prints its version.
type Tool struct {
	Name        string `json:"name" yaml:"name"`
	VersionFlag string `json:"-" yaml:"-"`
	Purpose     string `json:"purpose" yaml:"purpose"`
	Required    bool   `json:"required" yaml:"required"`
}

// Tools are the programs scribeflow uses at runtime.
var Tools = []Tool{
	{Name: "pw-record", VersionFlag: "--version", Purpose: "microphone capture", Required: true},
	{Name: "pw-cli", VersionFlag: "--version", Purpose: "PipeWire availability check", Required: true},
	{Name: "notify-send", VersionFlag: "--version", Purpose: "desktop notifications"},
}

// Result pairs a tool with its status.
type Result struct {
	Tool   `yaml:",inline"`
	Status `yaml:",inline"`
}

// Check looks the tool up on PATH and reads the first line of its version
// output.
func Check(tool Tool) Status {
	path, err := exec.LookPath(tool.Name)
	if err != nil {
		return Status{Installed: false}
	}

	status := Status{
		Installed: true,
		Path:      path,
	}
	if tool.VersionFlag == "" {
		return status
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	output, err := exec.CommandContext(ctx, path, tool.VersionFlag).Output()
	if err == nil {
		lines := strings.Split(string(output), "\n")
		for _, line := range lines {
			if line = strings.TrimSpace(line); line != "" {
				status.Version = line
				break
			}
		}
	}

	return status
}

// CheckAll checks every entry of Tools.
func CheckAll() []Result {
	out := make([]Result, 0, len(Tools))
	for _, t := range Tools {
		out = append(out, Result{Tool: t, Status: Check(t)})
	}
	return out
}

// MissingRequired lists required tools that are not installed.
func MissingRequired(results []Result) []string {
	var missing []string
	for _, r := range results {
		if r.Required && !r.Installed {
			missing = append(missing, r.Name)
		}
	}
	return missing
}
