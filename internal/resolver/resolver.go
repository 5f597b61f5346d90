package resolver

import (
	"context"
	"strings"

	"github.com/catflash/catflash/internal/observe"
	"github.com/catflash/catflash/internal/toolchain"
)

// Requirement is a library the firmware needs. Alternates are tried in
// order when the primary name cannot be installed.
type Requirement struct {
	Name       string   `json:"name"`
	Alternates []string `json:"alternates,omitempty"`
}

// Attempt records one name tried for a requirement.
type Attempt struct {
	Name    string            `json:"name"`
	Outcome toolchain.Outcome `json:"outcome"`
	Reason  string            `json:"reason,omitempty"`
}

// Result is the resolution of a single requirement.
type Result struct {
	Requirement  Requirement `json:"requirement"`
	Installed    bool        `json:"installed"`
	ResolvedName string      `json:"resolved_name,omitempty"`
	Attempts     []Attempt   `json:"attempts"`
}

// Report summarises a resolution pass.
type Report struct {
	Results     []Result `json:"results"`
	Installed   int      `json:"installed"`
	Failed      int      `json:"failed"`
	FailedNames []string `json:"failed_names,omitempty"`
}

// Resolver installs library requirements through a toolchain.
type Resolver struct {
	tc  toolchain.Toolchain
	obs observe.Observer
}

// New creates a resolver. A nil observer discards notifications.
func New(tc toolchain.Toolchain, obs observe.Observer) *Resolver {
	return &Resolver{tc: tc, obs: observe.OrNop(obs)}
}

// Resolve processes reqs in order and returns one Result per requirement.
// A requirement that cannot be satisfied is recorded and resolution moves on;
// Resolve itself never fails. Progress advances through rng as requirements
// complete.
func (r *Resolver) Resolve(ctx context.Context, reqs []Requirement, rng observe.Range) Report {
	observe.Logf(r.obs, observe.LevelInfo, "Installing required libraries...")
	r.obs.OnProgress(rng.From)

	report := Report{Results: make([]Result, 0, len(reqs))}
	for i, req := range reqs {
		res := r.resolveOne(ctx, req)
		report.Results = append(report.Results, res)
		if res.Installed {
			report.Installed++
		} else {
			report.Failed++
			report.FailedNames = append(report.FailedNames, req.Name)
		}
		r.obs.OnProgress(rng.At(i+1, len(reqs)))
	}

	if report.Failed > 0 {
		observe.Logf(r.obs, observe.LevelWarning, "Installed %d/%d libraries", report.Installed, len(reqs))
		observe.Logf(r.obs, observe.LevelWarning, "Failed libraries: %s", strings.Join(report.FailedNames, ", "))
	} else {
		observe.Logf(r.obs, observe.LevelSuccess, "All libraries installed successfully")
	}
	r.obs.OnProgress(rng.To)
	return report
}

func (r *Resolver) resolveOne(ctx context.Context, req Requirement) Result {
	res := Result{Requirement: req}
	observe.Logf(r.obs, observe.LevelInfo, "Installing library: %s", req.Name)

	// A listing failure only means we cannot skip the install.
	if listing, err := r.tc.ListInstalledLibraries(ctx); err == nil && AlreadyPresent(req.Name, listing) {
		observe.Logf(r.obs, observe.LevelInfo, "%s already installed", req.Name)
		res.Installed = true
		res.ResolvedName = req.Name
		res.Attempts = append(res.Attempts, Attempt{Name: req.Name, Outcome: toolchain.OutcomeAlreadyPresent})
		return res
	}

	var firstReason string
	for i, name := range req.candidates() {
		if err := ctx.Err(); err != nil {
			res.Attempts = append(res.Attempts, Attempt{Name: name, Outcome: toolchain.OutcomeFailed, Reason: err.Error()})
			if firstReason == "" {
				firstReason = err.Error()
			}
			break
		}
		if i > 0 {
			observe.Logf(r.obs, observe.LevelInfo, "Trying alternative: %s", name)
		}
		out := r.tc.InstallLibrary(ctx, name)
		res.Attempts = append(res.Attempts, Attempt{Name: name, Outcome: out.Outcome, Reason: out.Reason})
		if out.OK() {
			res.Installed = true
			res.ResolvedName = name
			if i == 0 {
				observe.Logf(r.obs, observe.LevelSuccess, "%s installed", req.Name)
			} else {
				observe.Logf(r.obs, observe.LevelSuccess, "%s installed as %s", req.Name, name)
			}
			return res
		}
		if firstReason == "" {
			firstReason = out.Reason
		}
	}

	observe.Logf(r.obs, observe.LevelWarning, "Warning: Failed to install %s: %s", req.Name, firstReason)
	return res
}

func (req Requirement) candidates() []string {
	out := make([]string, 0, 1+len(req.Alternates))
	out = append(out, req.Name)
	return append(out, req.Alternates...)
}

// AlreadyPresent reports whether any whitespace-separated token of name
// appears in the installed-library listing. "Adafruit PN532" matches as
// soon as any Adafruit library is listed.
func AlreadyPresent(name, listing string) bool {
	if listing == "" {
		return false
	}
	for _, token := range strings.Fields(name) {
		if strings.Contains(listing, token) {
			return true
		}
	}
	return false
}
