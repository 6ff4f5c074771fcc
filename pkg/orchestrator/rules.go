package orchestrator

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/stackmedic/stackmedic/pkg/config"
	"github.com/stackmedic/stackmedic/pkg/probe"
	"github.com/stackmedic/stackmedic/pkg/remedy"
	"github.com/stackmedic/stackmedic/pkg/system"
)

// defaultRules builds the standard remediation table: restart what is down,
// reload or flush what is limping. A slow database has no rule; restarting
// it would trade latency for an outage.
func defaultRules(cfg *config.Config, services *system.ServiceManager, compose *system.ComposeRunner) []remedy.Rule {
	cooldown := cfg.Remediation.Cooldown.Std()
	settle := cfg.Remediation.SettleDelay.Std()

	restartUnit := func(name, unit string) remedy.Action {
		return remedy.NewAction(name, func(ctx context.Context) error {
			return services.Restart(ctx, unit)
		})
	}
	restartApp := remedy.NewAction("restart-app-container", func(ctx context.Context) error {
		return compose.Restart(ctx, cfg.Services.App.ComposeService)
	})

	return []remedy.Rule{
		{
			Service:  config.ServiceDatabase,
			Status:   probe.StatusUnreachable,
			Actions:  []remedy.Action{restartUnit("restart-database-unit", cfg.Services.Database.Unit)},
			Cooldown: cooldown,
			Settle:   settle,
		},
		{
			Service:  config.ServiceCache,
			Status:   probe.StatusUnreachable,
			Actions:  []remedy.Action{restartUnit("restart-cache-unit", cfg.Services.Cache.Unit)},
			Cooldown: cooldown,
			Settle:   settle,
		},
		{
			// A slow cache is usually memory pressure; dropping the working
			// set lets it rebuild hot entries.
			Service:  config.ServiceCache,
			Status:   probe.StatusDegraded,
			Actions:  []remedy.Action{flushCache(cfg)},
			Cooldown: cooldown,
			Settle:   settle,
		},
		{
			Service:  config.ServiceApp,
			Status:   probe.StatusUnreachable,
			Actions:  []remedy.Action{restartApp},
			Cooldown: cooldown,
			Settle:   settle,
		},
		{
			Service:  config.ServiceApp,
			Status:   probe.StatusDegraded,
			Actions:  []remedy.Action{restartApp},
			Cooldown: cooldown,
			Settle:   settle,
		},
		{
			Service:  config.ServiceProxy,
			Status:   probe.StatusUnreachable,
			Actions:  []remedy.Action{restartUnit("restart-proxy-unit", cfg.Services.Proxy.Unit)},
			Cooldown: cooldown,
			Settle:   settle,
		},
		{
			// Reload keeps open connections alive while re-resolving a
			// broken upstream.
			Service: config.ServiceProxy,
			Status:  probe.StatusDegraded,
			Actions: []remedy.Action{remedy.NewAction("reload-proxy-unit", func(ctx context.Context) error {
				return services.Reload(ctx, cfg.Services.Proxy.Unit)
			})},
			Cooldown: cooldown,
			Settle:   settle,
		},
		{
			Service:  config.ServiceMonitoring,
			Status:   probe.StatusUnreachable,
			Actions:  []remedy.Action{restartUnit("restart-monitoring-unit", cfg.Services.Monitoring.Unit)},
			Cooldown: cooldown,
			Settle:   settle,
		},
	}
}

// flushCache drops all cached entries through a short-lived client.
func flushCache(cfg *config.Config) remedy.Action {
	return remedy.NewAction("flush-cache", func(ctx context.Context) error {
		password, err := config.ReadSecretFile(cfg.Credentials.CachePasswordFile)
		if err != nil {
			return err
		}
		client := redis.NewClient(&redis.Options{
			Addr:       cfg.Services.Cache.Addr,
			Password:   password,
			DB:         cfg.Services.Cache.DB,
			MaxRetries: -1,
		})
		defer client.Close()
		return client.FlushDB(ctx).Err()
	})
}
