/*
Package config loads the Vapter configuration from defaults, an
optional YAML file and the environment.

The config package centralises every tunable of the orchestrator and
the stage workers: broker and control-surface endpoints, queue names,
stage timeouts, retry policy, and the external vulnerability engine's
credentials and object IDs. Workers and the orchestrator read the same
Config type so a single vapter.yaml (or a shared environment) can drive
a whole deployment.

# Precedence

Values resolve in ascending precedence:

 1. Built-in defaults (development-friendly: local broker, ./data)
 2. YAML configuration file
 3. Environment variables

With an explicit --config path the file must exist; without one,
vapter.yaml is searched in ., ./configs and ~/.config/vapter and may be
absent.

# Environment Variables

Every key binds to an environment variable, e.g.:

	BROKER_URL                     broker endpoint (amqp:// or memory://)
	API_GATEWAY_URL                control surface base URL for workers
	DATA_DIR                       BoltDB directory (orchestrator only)
	NMAP_TIMEOUT                   port-discovery hard timeout, seconds
	MAX_CONCURRENT_FINGERPRINT     fingerprint probe pool size
	VULN_ENGINE_SOCKET_PATH        engine daemon unix socket
	VULN_ENGINE_MAX_SCAN_TIME      engine scan cap, seconds
	                               (VULN_ENGINE_TIMEOUT accepted as alias)

Timeout-style values are integer seconds.

# Usage

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	b, err := broker.Connect(cfg.BrokerURL)

Validation runs on every Load and reports all problems at once rather
than stopping at the first.

# See Also

  - pkg/broker for the queue name defaults
  - cmd/vapter for the flags that feed Load
*/
package config
