// Daemon bridging a Nibe heat pump UDP gateway to MQTT.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/nibewire/nibewire/helpers"
	"github.com/nibewire/nibewire/log2"
	"github.com/nibewire/nibewire/nibe"
	"github.com/nibewire/nibewire/state"
	"github.com/nibewire/nibewire/tele"
	"github.com/temoto/alive/v2"
)

const (
	defaultMonitorInterval = 30 * time.Second
	defaultReadTimeout     = 5 * time.Second
)

var log = log2.NewStderr(log2.LInfo)

func main() {
	flagConfig := flag.String("config", "nibewire.hcl", "")
	flag.Parse()

	if sdnotify("start") {
		// under systemd assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if config.Nibe.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	log.Debugf("config=%+v", config)

	conn, err := nibe.Dial(log, config.Nibe)
	if err != nil {
		log.Fatalf("nibe dial: %s", errors.ErrorStack(err))
	}
	ctl := nibe.NewController(log, conn)

	telesys := new(tele.Tele)
	if err := telesys.Init(log, config.Tele); err != nil {
		log.Fatalf("tele init: %s", errors.ErrorStack(err))
	}
	telesys.Attach(ctl)

	a := alive.NewAlive()
	if len(config.Monitor.Registers) > 0 {
		a.Add(1)
		go pollLoop(a, ctl, config)
	}

	sdnotify(daemon.SdNotifyReady)
	log.Infof("init complete, running")

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigch:
		log.Infof("signal=%v stopping", sig)
	case <-a.StopChan():
	}
	sdnotify(daemon.SdNotifyStopping)

	a.Stop()
	a.Wait()
	ctl.Close()
	telesys.Close()
}

// pollLoop reads the configured registers on a timer. Timeouts are
// normal while the pump is busy, they are logged and the loop moves on.
// Replies also reach the tele listener so every successful poll is
// published.
func pollLoop(a *alive.Alive, ctl *nibe.Controller, config *state.Config) {
	defer a.Done()

	interval := helpers.IntSecondDefault(config.Monitor.IntervalSec, defaultMonitorInterval)
	readTimeout := helpers.IntSecondDefault(config.Monitor.TimeoutSec, defaultReadTimeout)
	bo := helpers.Backoff{Min: 100 * time.Millisecond, Max: interval, K: 2}

	tick := time.NewTicker(interval)
	defer tick.Stop()
	stopch := a.StopChan()
	for {
		for _, register := range config.Monitor.Registers {
			select {
			case <-stopch:
				return
			default:
			}
			time.Sleep(bo.DelayBefore())
			ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
			value, err := ctl.Read(ctx, uint16(register))
			cancel()
			bo.Update(err == nil)
			switch {
			case err == nil:
				log.Debugf("monitor register=%d value=%d", register, value)
			case errors.IsTimeout(err):
				log.Errorf("monitor register=%d timeout", register)
			default:
				log.Errorf("monitor register=%d err=%v", register, err)
			}
		}
		select {
		case <-tick.C:
		case <-stopch:
			return
		}
	}
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatalf("sdnotify: %s", errors.ErrorStack(err))
	}
	return ok
}
