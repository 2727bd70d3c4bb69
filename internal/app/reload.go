package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"deliveryd/internal/config"
	logx "deliveryd/pkg/logx"
)

// Sections that are only read at startup.
var restartSections = []string{"catalog", "http", "lifecycle", "scheduler", "storage", "task_engine"}

func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}

				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Info("config reloaded (no changes)")
					continue
				}

				for _, s := range sections {
					if slices.Contains(restartSections, s) {
						a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
					}
				}

				a.logs.Apply(mapLogConfig(newCfg))

				prevEnabled := a.notif.Enabled()
				ncfg, err := mapNotifierConfig(newCfg)
				if err != nil {
					a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
				} else {
					a.notif.Apply(ncfg)
					switch {
					case prevEnabled && !ncfg.Enabled:
						a.log.Info("notifier disabled via config")
						stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
						a.notif.Stop(stopCtx)
						cancel()
					case !prevEnabled && ncfg.Enabled:
						a.log.Info("notifier enabled via config")
						a.notif.Start(c)
					}
				}

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})
}
