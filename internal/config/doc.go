// Package config provides simple, local-first configuration for jobq.
//
// Configuration is stored in the project's .jobq/ directory:
//
//	.jobq/
//	├── config.json        # Main configuration (committed to git)
//	└── .gitignore         # Ignores run output
//
// The config.json file contains flat key-value settings:
//
//	{
//	  "name": "jobq",
//	  "compact_threshold": 1000,
//	  "host": "loop",
//	  "cancel_when": "msg.type == \"cancel\"",
//	  "priority_order": "a.ts < b.ts",
//	  "context_field": "context",
//	  "log_level": "info",
//	  "log_format": "text",
//	  "metrics_addr": "",
//	  "trace": false
//	}
//
// Environment Variable Support:
//
// String settings other than the CEL expressions may reference environment
// variables using $VAR or ${VAR} syntax:
//
//	{
//	  "metrics_addr": "${JOBQ_METRICS_HOST}:9464"
//	}
//
// Every key can also be overridden with JOBQ_<KEY> (see FromEnv), which is
// applied after the file is loaded.
//
// Example usage:
//
//	manager := config.NewManager(".")
//	if err := manager.Load(); err != nil {
//		log.Fatal(err)
//	}
//
//	cfg := manager.Get()
//	config.FromEnv(cfg)
//	fmt.Println("host:", cfg.Host)
package config
