// Package config loads LinkPulse settings from a YAML file and then lets
// LINKPULSE_* environment variables override them.
//
// Secrets (JWT keys, Razorpay keys, the Postgres URL, the Google client
// secret) belong in the environment rather than the file. Load refuses to
// return a config whose access and refresh secrets are short or equal.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
//	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
package config
