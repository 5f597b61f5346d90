package resolver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catflash/catflash/internal/observe"
	"github.com/catflash/catflash/internal/resolver"
	"github.com/catflash/catflash/internal/testutil"
	"github.com/catflash/catflash/internal/toolchain"
)

var installed = toolchain.Result{Outcome: toolchain.OutcomeInstalled}

func TestResolveFallsBackThroughAlternates(t *testing.T) {
	tc := &testutil.FakeToolchain{
		Installable: map[string]toolchain.Result{"NDEF-1": installed},
	}
	rec := &testutil.Recorder{}
	req := resolver.Requirement{Name: "NDEF Library", Alternates: []string{"NDEF", "NDEF-1"}}

	report := resolver.New(tc, rec).Resolve(context.Background(), []resolver.Requirement{req}, observe.Range{From: 40, To: 50})

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.True(t, res.Installed)
	assert.Equal(t, "NDEF-1", res.ResolvedName)
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, "NDEF Library", res.Attempts[0].Name)
	assert.Equal(t, toolchain.OutcomeFailed, res.Attempts[0].Outcome)
	assert.Equal(t, "NDEF", res.Attempts[1].Name)
	assert.Equal(t, toolchain.OutcomeFailed, res.Attempts[1].Outcome)
	assert.Equal(t, "NDEF-1", res.Attempts[2].Name)
	assert.Equal(t, toolchain.OutcomeInstalled, res.Attempts[2].Outcome)

	assert.Equal(t, []string{"NDEF Library", "NDEF", "NDEF-1"}, tc.Attempts())
	assert.True(t, rec.HasLog(observe.LevelInfo, "Trying alternative: NDEF-1"))
	assert.True(t, rec.HasLog(observe.LevelSuccess, "NDEF Library installed as NDEF-1"))
}

func TestResolveToleratesPartialFailure(t *testing.T) {
	tc := &testutil.FakeToolchain{
		Installable: map[string]toolchain.Result{
			"WiFiManager":  installed,
			"PubSubClient": {Outcome: toolchain.OutcomeAlreadyPresent},
			"Servo":        installed,
		},
	}
	reqs := []resolver.Requirement{
		{Name: "WiFiManager"},
		{Name: "SerialCommand", Alternates: []string{"Arduino-SerialCommand", "SerialCommand-ng"}},
		{Name: "PubSubClient"},
		{Name: "Mystery"},
		{Name: "Servo"},
	}
	rec := &testutil.Recorder{}

	report := resolver.New(tc, rec).Resolve(context.Background(), reqs, observe.Range{From: 40, To: 50})

	require.Len(t, report.Results, len(reqs))
	assert.Equal(t, 3, report.Installed)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, []string{"SerialCommand", "Mystery"}, report.FailedNames)
	for i, res := range report.Results {
		assert.Equal(t, reqs[i].Name, res.Requirement.Name)
	}
	assert.False(t, report.Results[1].Installed)
	assert.Len(t, report.Results[1].Attempts, 3)
	assert.Empty(t, report.Results[1].ResolvedName)
	assert.True(t, rec.HasLog(observe.LevelWarning, "Failed libraries: SerialCommand, Mystery"))
	assert.True(t, rec.HasLog(observe.LevelWarning, "Installed 3/5 libraries"))
}

func TestResolveSkipsAlreadyListedLibraries(t *testing.T) {
	tc := &testutil.FakeToolchain{
		Libraries: "Name          Installed\nAdafruit_BusIO 1.14.5\nArduinoJson   7.0.4\n",
	}
	reqs := []resolver.Requirement{{Name: "ArduinoJson"}, {Name: "Adafruit NeoPixel"}}

	report := resolver.New(tc, nil).Resolve(context.Background(), reqs, observe.Range{From: 40, To: 50})

	assert.Equal(t, 2, report.Installed)
	assert.Equal(t, 0, tc.Calls("InstallLibrary"))
	for _, res := range report.Results {
		assert.Equal(t, res.Requirement.Name, res.ResolvedName)
		require.Len(t, res.Attempts, 1)
		assert.Equal(t, toolchain.OutcomeAlreadyPresent, res.Attempts[0].Outcome)
	}
}

func TestResolveIgnoresListingErrors(t *testing.T) {
	tc := &testutil.FakeToolchain{
		ListErr:     errors.New("lib list: exit 1"),
		Installable: map[string]toolchain.Result{"SD": installed},
	}
	report := resolver.New(tc, nil).Resolve(context.Background(), []resolver.Requirement{{Name: "SD"}}, observe.Range{From: 40, To: 50})
	assert.Equal(t, 1, report.Installed)
	assert.Equal(t, []string{"SD"}, tc.Attempts())
}

func TestResolveProgressStaysInRangeAndIsMonotonic(t *testing.T) {
	tc := &testutil.FakeToolchain{}
	rec := &testutil.Recorder{}
	resolver.New(tc, rec).Resolve(context.Background(), resolver.DefaultRequirements(), observe.Range{From: 40, To: 50})

	progress := rec.Progress()
	require.NotEmpty(t, progress)
	assert.Equal(t, 40, progress[0])
	assert.Equal(t, 50, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
		assert.LessOrEqual(t, progress[i], 50)
	}
}

func TestResolveStopsAttemptingAfterCancel(t *testing.T) {
	tc := &testutil.FakeToolchain{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := resolver.New(tc, nil).Resolve(ctx, []resolver.Requirement{{Name: "A", Alternates: []string{"B"}}, {Name: "C"}}, observe.Range{From: 40, To: 50})

	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 0, tc.Calls("InstallLibrary"))
	assert.Contains(t, report.Results[0].Attempts[0].Reason, "canceled")
}

func TestEmptyRequirementList(t *testing.T) {
	rec := &testutil.Recorder{}
	report := resolver.New(&testutil.FakeToolchain{}, rec).Resolve(context.Background(), nil, observe.Range{From: 40, To: 50})
	assert.Empty(t, report.Results)
	assert.True(t, rec.HasLog(observe.LevelSuccess, "All libraries installed"))
}

func TestAlreadyPresent(t *testing.T) {
	listing := "ElectronicCats-PN7150 2.1.0\nWire 1.0\n"
	assert.True(t, resolver.AlreadyPresent("Wire", listing))
	assert.True(t, resolver.AlreadyPresent("ElectronicCats PN7150", listing))
	assert.False(t, resolver.AlreadyPresent("FastLED", listing))
	assert.False(t, resolver.AlreadyPresent("Wire", ""))
}

func TestDefaultRequirements(t *testing.T) {
	reqs := resolver.DefaultRequirements()
	require.Len(t, reqs, 16)
	byName := map[string]resolver.Requirement{}
	for _, r := range reqs {
		byName[r.Name] = r
	}
	assert.Equal(t, []string{"NDEF", "NDEF-1", "Seeed_Arduino_NFC_NDEF"}, byName["NDEF Library"].Alternates)
	assert.Empty(t, byName["Wire"].Alternates)
}
