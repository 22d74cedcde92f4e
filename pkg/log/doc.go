/*
Package log provides structured logging for ids2agent using zerolog.

The global Logger is initialized once via Init() and every component
(resource monitor, reachability prober, metrics endpoint, bring-up state
machine, orchestrator, supervisor, shutdown coordinator) pulls a child
logger via WithComponent so log lines carry a component field without
passing a logger through every call.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	resourceLog := log.WithComponent("resource")
	resourceLog.Info().Float64("cpu_percent", 12.4).Msg("sample collected")

Do not log secrets: the configuration loader resolves credential-profile
names, never secret values, so there is nothing sensitive to redact in
practice, but callers should still avoid logging raw env values.
*/
package log
