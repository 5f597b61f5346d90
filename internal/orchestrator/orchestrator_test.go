package orchestrator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catflash/catflash/internal/config"
	"github.com/catflash/catflash/internal/config/store"
	"github.com/catflash/catflash/internal/fetch"
	"github.com/catflash/catflash/internal/observe"
	"github.com/catflash/catflash/internal/orchestrator"
	"github.com/catflash/catflash/internal/patcher"
	"github.com/catflash/catflash/internal/resolver"
	"github.com/catflash/catflash/internal/selector"
	"github.com/catflash/catflash/internal/sketch"
	"github.com/catflash/catflash/internal/testutil"
	"github.com/catflash/catflash/internal/toolchain"
)

const (
	testFQBN = "electroniccats:rp2040:bombercat"
	testCore = "rp2040:rp2040"
	testPort = "/dev/ttyACM0"
)

var installed = toolchain.Result{Outcome: toolchain.OutcomeInstalled}

// treeFetcher materializes files under "<dest>/<repo>-main" instead of
// downloading anything.
type treeFetcher struct {
	files map[string]string
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *treeFetcher) FetchRepository(ctx context.Context, repo fetch.Repository, destDir string) (string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	root := filepath.Join(destDir, repo.Name+"-main")
	for rel, content := range f.files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	return root, nil
}

func relayTree() map[string]string {
	return map[string]string{
		"firmware/host_relay_nfc/host_relay_nfc.ino":     "#include <Arduino.h>\nvoid setup() {}\nvoid loop() {}\n",
		"firmware/client_relay_nfc/client_relay_nfc.ino": "#include \"mbed.h\"\nvoid setup() {}\nvoid loop() {}\n",
	}
}

type fixture struct {
	orch    *orchestrator.Orchestrator
	tc      *testutil.FakeToolchain
	rec     *testutil.Recorder
	fetcher *treeFetcher
	cfg     orchestrator.Config
}

func newFixture(t *testing.T, mutate func(*orchestrator.Config), opts ...orchestrator.Option) *fixture {
	t.Helper()
	base := t.TempDir()
	cfg := orchestrator.Config{
		FQBN:            testFQBN,
		CoreID:          testCore,
		Repository:      fetch.Repository{Owner: "ElectronicCats", Name: "BomberCat", Branch: "main"},
		SketchDir:       filepath.Join(base, "sketch"),
		BuildDir:        filepath.Join(base, "build"),
		LibrariesDir:    filepath.Join(base, "libraries"),
		ExampleFallback: true,
		Requirements: []resolver.Requirement{
			{Name: "PubSubClient"},
			{Name: "NDEF Library", Alternates: []string{"NDEF", "NDEF-1"}},
		},
		Incompatible: patcher.DefaultIncompatible,
		Rewrites:     patcher.DefaultRewrites(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		tc: &testutil.FakeToolchain{
			Installable: map[string]toolchain.Result{
				testCore:       installed,
				"PubSubClient": installed,
				"NDEF-1":       installed,
			},
		},
		rec:     &testutil.Recorder{},
		fetcher: &treeFetcher{files: relayTree()},
		cfg:     cfg,
	}
	opts = append([]orchestrator.Option{orchestrator.WithFetcher(f.fetcher)}, opts...)
	f.orch = orchestrator.New(cfg, f.tc, f.rec, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.orch.Shutdown(ctx)
	})
	return f
}

func wait(t *testing.T, task *orchestrator.Task) error {
	t.Helper()
	require.NotNil(t, task)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := task.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func assertMonotonic(t *testing.T, values []int) {
	t.Helper()
	for i := 1; i < len(values); i++ {
		require.GreaterOrEqual(t, values[i], values[i-1], "progress went backwards: %v", values)
	}
}

func validRequest() orchestrator.FlashRequest {
	return orchestrator.FlashRequest{
		Port:   testPort,
		Params: sketch.Params{WiFiSSID: "lab", WiFiPassword: "secret", MQTTServer: "broker.hivemq.com", HostNumber: 1},
	}
}

func TestInitialStateIsIdle(t *testing.T) {
	f := newFixture(t, nil)
	assert.True(t, f.orch.State().Idle())
	assert.False(t, f.orch.Flashing())
}

func TestInstallCompletes(t *testing.T) {
	f := newFixture(t, nil)

	state, task, err := f.orch.StartInstall(context.Background())
	require.NoError(t, err)
	assert.True(t, state.InProgress)
	require.NoError(t, wait(t, task))

	final := f.orch.State()
	assert.Equal(t, orchestrator.InstallState{Completed: true, Message: "All dependencies installed successfully!"}, final)

	assert.Equal(t, []testutil.Completion{{Success: true, Message: final.Message}}, f.rec.Completions())
	progress := f.rec.Progress()
	assertMonotonic(t, progress)
	assert.Contains(t, progress, 25)
	assert.Contains(t, progress, 35)
	assert.Contains(t, progress, 40)
	assert.Equal(t, 100, progress[len(progress)-1])
	assert.Equal(t, 1, f.tc.Calls("InstallPlatform"))
}

func TestInstallPartialLibraryFailureStillCompletes(t *testing.T) {
	f := newFixture(t, func(c *orchestrator.Config) {
		c.Requirements = append(c.Requirements, resolver.Requirement{Name: "Mystery"})
	})

	_, task, err := f.orch.StartInstall(context.Background())
	require.NoError(t, err)
	require.NoError(t, wait(t, task))

	state := f.orch.State()
	assert.True(t, state.Completed)
	assert.False(t, state.Error)
	assert.Contains(t, state.Message, "1 of 3 libraries failed: Mystery")
	assert.True(t, f.rec.Completions()[0].Success)
}

func TestInstallSkipsListedCore(t *testing.T) {
	f := newFixture(t, nil)
	f.tc.Platforms = "ID              Installed Latest Name\nrp2040:rp2040   3.9.0     3.9.0  Raspberry Pi RP2040 Boards\n"

	_, task, err := f.orch.StartInstall(context.Background())
	require.NoError(t, err)
	require.NoError(t, wait(t, task))

	assert.Zero(t, f.tc.Calls("InstallPlatform"))
	assert.True(t, f.rec.HasLog(observe.LevelSuccess, "rp2040:rp2040 core already installed"))
}

func TestInstallFailureSetsErrorState(t *testing.T) {
	f := newFixture(t, nil)
	f.tc.InitErr = errors.New("arduino-cli exploded")

	_, task, err := f.orch.StartInstall(context.Background())
	require.NoError(t, err)
	taskErr := wait(t, task)
	require.Error(t, taskErr)

	state := f.orch.State()
	assert.False(t, state.InProgress)
	assert.False(t, state.Completed)
	assert.True(t, state.Error)
	assert.Contains(t, state.Message, "arduino-cli exploded")
	assert.Equal(t, taskErr, task.Err())

	completions := f.rec.Completions()
	require.Len(t, completions, 1)
	assert.False(t, completions[0].Success)
	assert.True(t, f.rec.HasLog(observe.LevelError, "Installation failed"))
	assert.Zero(t, f.tc.Calls("InstallLibrary"))
}

func TestInstallCoreFailureIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	delete(f.tc.Installable, testCore)

	_, task, err := f.orch.StartInstall(context.Background())
	require.NoError(t, err)
	require.Error(t, wait(t, task))
	assert.True(t, f.orch.State().Error)
	assert.Zero(t, f.tc.Calls("InstallLibrary"))
}

func TestInstallIsSingleFlight(t *testing.T) {
	f := newFixture(t, nil)
	f.tc.Gate = make(chan struct{})

	_, first, err := f.orch.StartInstall(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)

	for i := 0; i < 5; i++ {
		state, task, err := f.orch.StartInstall(context.Background())
		require.NoError(t, err)
		assert.Nil(t, task)
		assert.True(t, state.InProgress)
	}

	close(f.tc.Gate)
	require.NoError(t, wait(t, first))
	assert.Equal(t, 1, f.tc.Calls("Initialize"))
	assert.Len(t, f.rec.Completions(), 1)

	// A finished install can be started again.
	_, again, err := f.orch.StartInstall(context.Background())
	require.NoError(t, err)
	require.NoError(t, wait(t, again))
	assert.Equal(t, 2, f.tc.Calls("Initialize"))
}

func TestConcurrentInstallStartsRunOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.tc.Gate = make(chan struct{})

	var started atomic.Int32
	tasks := make(chan *orchestrator.Task, 16)
	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func() {
			_, task, err := f.orch.StartInstall(context.Background())
			if err == nil && task != nil {
				started.Add(1)
				tasks <- task
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 16; i++ {
		<-done
	}
	close(f.tc.Gate)

	assert.EqualValues(t, 1, started.Load())
	require.NoError(t, wait(t, <-tasks))
	assert.Equal(t, 1, f.tc.Calls("Initialize"))
}

func TestInstallRecordsRunAndResolutions(t *testing.T) {
	st := testutil.OpenStore(t)
	f := newFixture(t, nil, orchestrator.WithRecorder(st))

	_, task, err := f.orch.StartInstall(context.Background())
	require.NoError(t, err)
	require.NoError(t, wait(t, task))
	require.NotEmpty(t, task.RunID())

	run, err := st.GetRun(context.Background(), task.RunID())
	require.NoError(t, err)
	assert.Equal(t, store.RunInstall, run.Kind)
	assert.Equal(t, store.RunCompleted, run.Status)

	res, err := st.Resolutions(context.Background(), task.RunID())
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "NDEF-1", res[1].ResolvedName)
	assert.Len(t, res[1].Attempts, 3)

	status := f.orch.CheckDependencies(context.Background())
	require.NotNil(t, status.LastInstall)
	assert.Equal(t, task.RunID(), status.LastInstall.ID)
	assert.True(t, status.Boards)
}

func TestFlashRunsStepsInOrder(t *testing.T) {
	f := newFixture(t, nil)
	req := validRequest()
	req.Firmware = selector.PreferClient

	task, err := f.orch.StartFlash(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, wait(t, task))

	clientDir := filepath.Join(f.cfg.SketchDir, "BomberCat-main", "firmware", "client_relay_nfc")
	assert.Equal(t, []string{clientDir}, f.tc.Compiled())
	assert.Equal(t, []string{testFQBN + "@" + testPort}, f.tc.Uploaded())

	progress := f.rec.Progress()
	assertMonotonic(t, progress)
	assert.Equal(t, []int{55, 60, 65, 70, 75, 85, 90, 100}, progress)

	pref, err := config.Prefs{Dir: f.cfg.SketchDir}.RelayPreference()
	require.NoError(t, err)
	assert.Equal(t, selector.PreferClient, pref)

	_, err = os.Stat(filepath.Join(clientDir, sketch.HeaderName))
	require.NoError(t, err)
	src, err := os.ReadFile(filepath.Join(clientDir, "client_relay_nfc.ino"))
	require.NoError(t, err)
	assert.Contains(t, string(src), patcher.Marker)
	assert.Contains(t, string(src), `#include "bombercat_config.h"`)

	assert.True(t, f.rec.HasLog(observe.LevelSuccess, "Selected CLIENT firmware: client_relay_nfc"))
	assert.True(t, f.rec.HasLog(observe.LevelSuccess, "BomberCat is ready to use!"))
	assert.False(t, f.orch.Flashing())
	assert.Empty(t, f.rec.Completions())
}

func TestFlashDefaultsToHost(t *testing.T) {
	f := newFixture(t, nil)

	task, err := f.orch.StartFlash(context.Background(), validRequest())
	require.NoError(t, err)
	require.NoError(t, wait(t, task))

	compiled := f.tc.Compiled()
	require.Len(t, compiled, 1)
	assert.Equal(t, "host_relay_nfc", filepath.Base(compiled[0]))
	assert.True(t, f.rec.HasLog(observe.LevelSuccess, "Selected HOST firmware by default"))
}

func TestFlashCompileOnlySkipsUpload(t *testing.T) {
	f := newFixture(t, nil)
	req := validRequest()
	req.Port = ""
	req.CompileOnly = true

	task, err := f.orch.StartFlash(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, wait(t, task))
	assert.Equal(t, 1, f.tc.Calls("Compile"))
	assert.Zero(t, f.tc.Calls("Upload"))
}

func TestFlashValidatesRequest(t *testing.T) {
	f := newFixture(t, nil)

	req := validRequest()
	req.Port = " "
	_, err := f.orch.StartFlash(context.Background(), req)
	assert.ErrorContains(t, err, "port is required")

	req = validRequest()
	req.Params.WiFiSSID = ""
	_, err = f.orch.StartFlash(context.Background(), req)
	assert.ErrorContains(t, err, "ssid")

	req = validRequest()
	req.FQBN = "not a board"
	_, err = f.orch.StartFlash(context.Background(), req)
	assert.Error(t, err)

	req = validRequest()
	req.Firmware = "sideways"
	_, err = f.orch.StartFlash(context.Background(), req)
	assert.Error(t, err)

	assert.Zero(t, f.fetcher.calls.Load())
	assert.False(t, f.orch.Flashing())
}

func TestFlashCompileFailureStopsBeforeUpload(t *testing.T) {
	f := newFixture(t, nil)
	f.tc.CompileErr = errors.New("exit status 1: 'mbed' was not declared")

	task, err := f.orch.StartFlash(context.Background(), validRequest())
	require.NoError(t, err)
	taskErr := wait(t, task)
	require.Error(t, taskErr)
	assert.Contains(t, taskErr.Error(), "compile")
	assert.Zero(t, f.tc.Calls("Upload"))
	assert.True(t, f.rec.HasLog(observe.LevelError, "Flash failed"))
	assert.NotContains(t, f.rec.Progress(), 90)
}

func TestFlashUploadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.tc.UploadErr = toolchain.ErrTimeout

	task, err := f.orch.StartFlash(context.Background(), validRequest())
	require.NoError(t, err)
	taskErr := wait(t, task)
	assert.ErrorIs(t, taskErr, toolchain.ErrTimeout)
	assert.True(t, f.rec.HasLog(observe.LevelError, "Flash error"))
}

func TestFlashFallsBackToExampleOnDownloadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.err = errors.New("404 Not Found")

	task, err := f.orch.StartFlash(context.Background(), validRequest())
	require.NoError(t, err)
	require.NoError(t, wait(t, task))

	compiled := f.tc.Compiled()
	require.Len(t, compiled, 1)
	assert.Equal(t, filepath.Join(f.cfg.SketchDir, sketch.ExampleVariant), compiled[0])
	assert.True(t, f.rec.HasLog(observe.LevelError, "Error downloading firmware"))
}

func TestFlashWithoutFallbackFails(t *testing.T) {
	f := newFixture(t, func(c *orchestrator.Config) { c.ExampleFallback = false })
	f.fetcher.files = map[string]string{"README.md": "nothing to build"}

	task, err := f.orch.StartFlash(context.Background(), validRequest())
	require.NoError(t, err)
	assert.ErrorIs(t, wait(t, task), selector.ErrNoFirmwareFound)
	assert.Zero(t, f.tc.Calls("Compile"))
}

func TestFlashExamplePreferenceSkipsDownload(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, config.Prefs{Dir: f.cfg.SketchDir}.SetRelayPreference(selector.PreferExample))

	task, err := f.orch.StartFlash(context.Background(), validRequest())
	require.NoError(t, err)
	require.NoError(t, wait(t, task))
	assert.Zero(t, f.fetcher.calls.Load())
	assert.Equal(t, sketch.ExampleVariant, filepath.Base(f.tc.Compiled()[0]))
}

func TestFlashBoardPrecedence(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, config.Prefs{Dir: f.cfg.SketchDir}.SetBoardPreference("rp2040:rp2040:rpipico"))

	task, err := f.orch.StartFlash(context.Background(), validRequest())
	require.NoError(t, err)
	require.NoError(t, wait(t, task))

	req := validRequest()
	req.FQBN = "esp32:esp32:esp32"
	task, err = f.orch.StartFlash(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, wait(t, task))

	assert.Equal(t, []string{
		"rp2040:rp2040:rpipico@" + testPort,
		"esp32:esp32:esp32@" + testPort,
	}, f.tc.Uploaded())
}

func TestFlashRejectedWhileBusy(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.gate = make(chan struct{})

	task, err := f.orch.StartFlash(context.Background(), validRequest())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.fetcher.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.orch.Flashing())

	_, err = f.orch.StartFlash(context.Background(), validRequest())
	assert.ErrorIs(t, err, orchestrator.ErrFlashInProgress)
	_, installTask, err := f.orch.StartInstall(context.Background())
	assert.ErrorIs(t, err, orchestrator.ErrFlashInProgress)
	assert.Nil(t, installTask)

	close(f.fetcher.gate)
	require.NoError(t, wait(t, task))
	assert.False(t, f.orch.Flashing())
}

func TestFlashRejectedDuringInstall(t *testing.T) {
	f := newFixture(t, nil)
	f.tc.Gate = make(chan struct{})

	_, install, err := f.orch.StartInstall(context.Background())
	require.NoError(t, err)

	_, err = f.orch.StartFlash(context.Background(), validRequest())
	assert.ErrorIs(t, err, orchestrator.ErrInstallInProgress)

	close(f.tc.Gate)
	require.NoError(t, wait(t, install))
}

func TestFlashRecordsVariant(t *testing.T) {
	st := testutil.OpenStore(t)
	f := newFixture(t, nil, orchestrator.WithRecorder(st))

	task, err := f.orch.StartFlash(context.Background(), validRequest())
	require.NoError(t, err)
	require.NoError(t, wait(t, task))

	run, err := st.GetRun(context.Background(), task.RunID())
	require.NoError(t, err)
	assert.Equal(t, store.RunFlash, run.Kind)
	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Equal(t, "host_relay_nfc", run.Variant)
	assert.Equal(t, testPort, run.Port)
}

func TestShutdownCancelsRunningFlash(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.gate = make(chan struct{})

	task, err := f.orch.StartFlash(context.Background(), validRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.orch.Shutdown(ctx))
	assert.ErrorIs(t, task.Err(), context.Canceled)

	_, err = f.orch.StartFlash(context.Background(), validRequest())
	assert.ErrorIs(t, err, orchestrator.ErrShuttingDown)
}

func TestShutdownRejectsInstallAndFlash(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.Shutdown(context.Background()))

	state, task, err := f.orch.StartInstall(context.Background())
	assert.ErrorIs(t, err, orchestrator.ErrShuttingDown)
	assert.Nil(t, task)
	assert.False(t, state.InProgress)

	task, err = f.orch.StartFlash(context.Background(), validRequest())
	assert.ErrorIs(t, err, orchestrator.ErrShuttingDown)
	assert.Nil(t, task)
}

func TestShutdownRacingStartsWaitsForAcceptedWorkflows(t *testing.T) {
	f := newFixture(t, nil)

	var (
		mu    sync.Mutex
		tasks []*orchestrator.Task
		wg    sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, task, err := f.orch.StartInstall(context.Background())
			if err != nil {
				assert.ErrorIs(t, err, orchestrator.ErrShuttingDown)
			}
			if task != nil {
				mu.Lock()
				tasks = append(tasks, task)
				mu.Unlock()
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.orch.Shutdown(ctx))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, task := range tasks {
		select {
		case <-task.Done():
		default:
			t.Fatalf("task %s still running after Shutdown returned", task.RunID())
		}
	}
}

func TestPatcherMergesSkipListAndLibraryHeader(t *testing.T) {
	f := newFixture(t, nil)
	prefs := config.Prefs{Dir: f.cfg.SketchDir}
	require.NoError(t, prefs.SetSkipLibraries([]string{"Wire", "mbed.h"}))

	libDir := filepath.Join(f.cfg.LibrariesDir, "PN7150-NCI", "src")
	require.NoError(t, os.MkdirAll(libDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "PN7150NCI.h"), nil, 0o644))

	dir := t.TempDir()
	src := filepath.Join(dir, "relay.ino")
	require.NoError(t, os.WriteFile(src, []byte("#include \"ElectronicCats_PN7150.h\"\n#include <Wire.h>\nvoid setup() {}\n"), 0o644))

	sum, err := f.orch.Patch(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Changed)

	out, err := os.ReadFile(src)
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "#include <PN7150NCI.h>\n")
	assert.Contains(t, text, "// #include <Wire.h> "+patcher.Marker)
	assert.Contains(t, text, patcher.GuardMarker)

	lex, err := f.orch.Patcher()
	require.NoError(t, err)
	assert.True(t, lex.Headers.Contains("wire"))
	assert.Equal(t, len(patcher.DefaultIncompatible)+1, lex.Headers.Len())
}

func TestDetectBoardsAndLikelyBomberCat(t *testing.T) {
	f := newFixture(t, nil)
	f.tc.Boards = []toolchain.Board{
		{Port: "/dev/ttyACM0", Name: "Raspberry Pi Pico", FQBN: "rp2040:rp2040:rpipico"},
		{Port: "/dev/ttyUSB0", Name: "Unknown board"},
	}

	boards, err := f.orch.DetectBoards(context.Background())
	require.NoError(t, err)
	require.Len(t, boards, 2)
	assert.True(t, orchestrator.LikelyBomberCat(boards[0]))
	assert.False(t, orchestrator.LikelyBomberCat(boards[1]))
}

func TestFirmwaresListsExtractedTree(t *testing.T) {
	f := newFixture(t, nil)

	none, err := f.orch.Firmwares()
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.fetcher.FetchRepository(context.Background(), f.cfg.Repository, f.cfg.SketchDir)
	require.NoError(t, err)

	got, err := f.orch.Firmwares()
	require.NoError(t, err)
	var names []string
	for _, c := range got {
		names = append(names, c.Variant)
	}
	assert.Equal(t, []string{"client_relay_nfc", "host_relay_nfc"}, names)
	assert.True(t, strings.HasSuffix(f.orch.FirmwareRoot(), "BomberCat-main"))
}

func TestCheckDependenciesAfterInstall(t *testing.T) {
	f := newFixture(t, nil)

	before := f.orch.CheckDependencies(context.Background())
	assert.False(t, before.Boards)

	_, task, err := f.orch.StartInstall(context.Background())
	require.NoError(t, err)
	require.NoError(t, wait(t, task))

	after := f.orch.CheckDependencies(context.Background())
	assert.Equal(t, orchestrator.DependencyStatus{ArduinoCLI: true, Boards: true, Initialized: true}, after)
}
