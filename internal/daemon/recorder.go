package daemon

import (
	"context"
	"log"

	"github.com/catflash/catflash/internal/config/store"
	"github.com/catflash/catflash/internal/toolchain"
)

// SettingsRecorder persists runs and remembers the values a later session
// should reuse: the arduino-cli path after an install and the board and
// port after a flash.
type SettingsRecorder struct {
	*store.Store
	tc toolchain.Toolchain
}

func NewSettingsRecorder(st *store.Store, tc toolchain.Toolchain) *SettingsRecorder {
	return &SettingsRecorder{Store: st, tc: tc}
}

func (r *SettingsRecorder) FinishRun(ctx context.Context, id string, success bool, message, variant string) error {
	if err := r.Store.FinishRun(ctx, id, success, message, variant); err != nil {
		return err
	}
	if !success {
		return nil
	}

	run, err := r.GetRun(ctx, id)
	if err != nil {
		log.Printf("[Daemon] reload run %s: %v", id, err)
		return nil
	}

	values := map[string]string{}
	switch run.Kind {
	case store.RunInstall:
		if bp, ok := r.tc.(interface{ BinaryPath() string }); ok {
			if bin := bp.BinaryPath(); bin != "" {
				values[store.SettingArduinoCLIPath] = bin
			}
		}
	case store.RunFlash:
		if run.FQBN != "" {
			values[store.SettingLastFQBN] = run.FQBN
		}
		if run.Port != "" {
			values[store.SettingLastPort] = run.Port
		}
	}
	if len(values) == 0 {
		return nil
	}
	if err := r.SaveSettings(ctx, values); err != nil {
		log.Printf("[Daemon] remember settings: %v", err)
	}
	return nil
}
