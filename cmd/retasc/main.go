// retasc — Release Task Schedule Curator.
//
// Создаёт и ведёт Jira issue и Tekton pipeline run по правилам,
// привязанным к расписанию релизов Product Pages.
//
// Использование:
//
//	retasc [--config FILE] [--json] <command> [flags]
//
// Команды:
//
//	run       Прогон правил с записью изменений
//	dry-run   Прогон без записи
//	validate  Проверка файлов правил
//	serve     Сервис: расписание, HTTP API, RabbitMQ
//	request   Запрос прогона через RabbitMQ
//	runs      История прогонов запущенного serve
package main

import (
	"fmt"
	"os"

	"github.com/release-engineering/retasc/internal/cli"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	logger := telemetry.SetupLogger()

	if err := cli.NewRootCmd(version, logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
