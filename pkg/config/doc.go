// Package config loads the herald server configuration from YAML.
//
// Load starts from Default and overlays the file, so a config file only
// needs the values it changes. Durations use Go syntax ("30s", "5m").
//
//	dataDir: /var/lib/herald
//	cache:
//	  backend: redis
//	  redisAddr: 10.0.0.5:6379
//	queue:
//	  concurrency: 8
//	  backoff: 10s
package config
