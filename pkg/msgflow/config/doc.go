/*
Package config loads queue settings from files, maps, and the environment.

# Overview

Config wraps a map[string]any and provides typed accessor methods that handle
missing keys and type mismatches by returning default values. Queue settings
use the keys below:

	capacity: 10            # buffer capacity K
	workers: 2              # dispatch workers
	max_attempts: 3         # attempts per consumer invocation
	dependency_policy: strict   # strict | deferred
	retry_initial_backoff: 0s   # delay before the second attempt
	retry_max_backoff: 0s       # cap on the delay, 0 for none

# File Loading

	cfg, err := config.FromFile("msgflow.yaml")
	if err != nil {
	    log.Fatal(err)
	}

Settings may also live under a msgflow section of a larger file; the queue
options read that section when it is present:

	msgflow:
	  capacity: 64

# Environment

ApplyEnv overlays MSGFLOW_CAPACITY, MSGFLOW_WORKERS, MSGFLOW_MAX_ATTEMPTS,
MSGFLOW_DEPENDENCY_POLICY, MSGFLOW_RETRY_INITIAL_BACKOFF and
MSGFLOW_RETRY_MAX_BACKOFF on top of a loaded Config:

	cfg, err = config.ApplyEnv(cfg)

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
