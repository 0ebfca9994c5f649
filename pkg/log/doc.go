/*
Package log provides structured logging for herald using zerolog.

A single package-level Logger is configured once at start-up through Init and
shared by every component. Components derive child loggers that carry a
"component" field, and request-scoped loggers carry the identifiers that tie a
line back to a task, a chat message or a queue job attempt.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	logger := log.WithComponent("queue")
	logger.Info().Str("job_id", id).Msg("Job completed")

	logger = log.ForTask(logger, task.ID, task.UserID)
	logger.Warn().Str("action", "getCalendarEvents").Msg("Action skipped")

# Output

JSON format:

	{"level":"info","component":"queue","job_id":"01J...","time":"2024-10-13T10:30:00Z","message":"Job completed"}

Console format:

	2024-10-13T10:30:00Z INF Job completed component=queue job_id=01J...

Never log message bodies, push tokens or API keys; log identifiers instead.
*/
package log
