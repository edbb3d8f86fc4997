package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// State layout
	viper.SetDefault("state_dir", "~/.herald")
	viper.SetDefault("auth.dir_name", "auth")
	viper.SetDefault("data.dir_name", "data")

	// Bot
	viper.SetDefault("bot.prefix", "!")
	viper.SetDefault("bot.owners", []string{})
	viper.SetDefault("bot.pairing_phone", "")

	// Mention dispatch pacing
	viper.SetDefault("dispatch.batch_size", 20)
	viper.SetDefault("dispatch.batch_delay", 400*time.Millisecond)

	// Connection resilience
	viper.SetDefault("session.settle_delay", 3*time.Second)
	viper.SetDefault("session.pairing_retry_delay", 10*time.Second)
	viper.SetDefault("session.restart_delay", 2*time.Second)
	viper.SetDefault("session.backoff_floor", 1*time.Second)
	viper.SetDefault("session.backoff_ceiling", 30*time.Second)
	viper.SetDefault("session.backoff_growth", 2.0)

	// Liveness server
	viper.SetDefault("server.enabled", true)
	viper.SetDefault("server.bind", "127.0.0.1")
	viper.SetDefault("server.port", 8787)
}
