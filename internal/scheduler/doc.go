// Package scheduler запускает прогоны по расписанию.
//
// Расписание задаётся cron-выражением (serve.schedule в конфигурации),
// например "0 6 * * *" или "@hourly". В момент срабатывания
// Scheduler вызывает Orchestrator.Run с trigger=schedule.
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Schedule: "@hourly",
//	    Runner:   orch,
//	    Logger:   logger,
//	})
//	go sched.Run(ctx)
//
// Leader election выполняет сам Orchestrator: на нелидере срабатывание
// заканчивается ErrNotLeader и только логируется.
package scheduler
