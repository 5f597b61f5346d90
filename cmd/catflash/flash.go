package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/catflash/catflash/internal/client"
	"github.com/catflash/catflash/internal/config"
	"github.com/catflash/catflash/internal/config/store"
	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/orchestrator"
	"github.com/catflash/catflash/internal/selector"
	"github.com/catflash/catflash/internal/server"
	"github.com/catflash/catflash/internal/sketch"
)

type flashFlags struct {
	port        string
	firmware    string
	ssid        string
	password    string
	mqttServer  string
	mqttPort    int
	hostNumber  int
	compileOnly bool
	viaDaemon   bool
}

func newFlashCommand(flags *globalFlags) *cobra.Command {
	ff := &flashFlags{}
	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Download, patch, configure, compile and upload the BomberCat firmware",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ff.viaDaemon {
				return runFlashViaDaemon(flags, ff)
			}
			return runFlash(flags, ff)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&ff.port, "port", "p", "", "serial port of the board (default: last used port)")
	f.StringVar(&ff.firmware, "firmware", "", "firmware preference: host, client, auto, detect or example")
	f.StringVar(&ff.ssid, "ssid", "", "WiFi network name")
	f.StringVar(&ff.password, "password", "", "WiFi password")
	f.StringVar(&ff.mqttServer, "mqtt-server", sketch.DefaultMQTTServer, "MQTT broker host")
	f.IntVar(&ff.mqttPort, "mqtt-port", sketch.DefaultMQTTPort, "MQTT broker port")
	f.IntVar(&ff.hostNumber, "host-number", 1, "relay pair number baked into the firmware")
	f.BoolVar(&ff.compileOnly, "compile-only", false, "stop after a successful compile")
	f.BoolVar(&ff.viaDaemon, "daemon", false, "run the flash inside a running catflashd")
	return cmd
}

func (ff *flashFlags) request(fqbn string) orchestrator.FlashRequest {
	return orchestrator.FlashRequest{
		Port:     ff.port,
		FQBN:     fqbn,
		Firmware: selector.Preference(ff.firmware),
		Params: sketch.Params{
			WiFiSSID:     ff.ssid,
			WiFiPassword: ff.password,
			MQTTServer:   ff.mqttServer,
			MQTTPort:     ff.mqttPort,
			HostNumber:   ff.hostNumber,
		},
		CompileOnly: ff.compileOnly,
	}
}

func runFlash(flags *globalFlags, ff *flashFlags) error {
	env, err := openLocal(flags)
	if err != nil {
		return err
	}
	defer env.Close()
	noteRunningDaemon(env)

	if ff.port == "" && !ff.compileOnly {
		ff.port = lastPort(env.store)
		if ff.port != "" {
			fmt.Printf("Using last port %s\n", ff.port)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	task, err := env.orch.StartFlash(ctx, ff.request(flags.fqbn))
	if err != nil {
		return err
	}
	err = waitTask(ctx, env, task)
	env.console.Finish()
	if flags.jsonMode {
		out := map[string]any{"success": err == nil, "run_id": task.RunID()}
		if err != nil {
			out["error"] = err.Error()
		}
		if perr := newOutputFormatter(flags).Print(out); perr != nil {
			return perr
		}
	}
	return err
}

func lastPort(st *store.Store) string {
	ctx, cancel := context.WithTimeout(context.Background(), constants.StoreQueryTimeout)
	defer cancel()
	port, err := st.LoadSetting(ctx, store.SettingLastPort)
	if err != nil {
		return ""
	}
	return port
}

func runFlashViaDaemon(flags *globalFlags, ff *flashFlags) error {
	if ff.compileOnly {
		return errors.New("--compile-only is not available through the daemon")
	}
	c, err := client.Discover(config.GetInstancePaths(flags.instance))
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	body := server.FlashBody{
		Port:         ff.port,
		FQBN:         flags.fqbn,
		FirmwareType: ff.firmware,
		WiFiSSID:     ff.ssid,
		WiFiPassword: ff.password,
		MQTTServer:   ff.mqttServer,
		MQTTPort:     ff.mqttPort,
		HostNumber:   &ff.hostNumber,
	}

	// Subscribe before starting so no event is missed.
	var failed string
	watchErr := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		watchErr <- followDaemon(ctx, c, func(msg server.Message) bool {
			select {
			case <-started:
			default:
				close(started)
			}
			d, ok := logMessage(msg)
			if !ok {
				return true
			}
			if strings.HasPrefix(d.Message, orchestrator.FlashFailedMessage) {
				failed = d.Message
				return false
			}
			return d.Message != orchestrator.ReadyMessage
		})
	}()
	select {
	case <-started:
	case err := <-watchErr:
		if err == nil {
			err = errors.New("catflashd closed the event stream")
		}
		return err
	case <-time.After(5 * time.Second):
		return errors.New("no event stream from catflashd")
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, 10*time.Second)
	resp, err := c.Flash(reqCtx, body)
	reqCancel()
	if err != nil {
		cancel()
		<-watchErr
		return err
	}
	fmt.Println(resp.Status)

	if err := <-watchErr; err != nil {
		return err
	}
	if failed != "" {
		return errors.New(failed)
	}
	return nil
}
