package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output печатает результаты команд.
//
// Данные (таблицы, JSON) идут в w, сообщения для человека в errW,
// чтобы вывод --json можно было передавать в jq.
type Output struct {
	jsonMode bool
	w        io.Writer
	errW     io.Writer
}

// NewOutput создаёт Output поверх stdout и stderr.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo создаёт Output поверх заданных потоков.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// JSONMode сообщает, задан ли --json.
func (o *Output) JSONMode() bool { return o.jsonMode }

// Print печатает rows таблицей или v в JSON, смотря по режиму.
func (o *Output) Print(headers []string, rows [][]string, v any) {
	if o.jsonMode {
		o.JSON(v)
	} else {
		o.Table(headers, rows)
	}
}

// Table печатает выровненную таблицу с подчёркнутым заголовком.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	underline := make([]string, len(headers))
	for i, h := range headers {
		underline[i] = strings.Repeat("-", len(h))
	}
	for _, line := range append([][]string{headers, underline}, rows...) {
		fmt.Fprintln(tw, strings.Join(line, "\t"))
	}
	_ = tw.Flush()
}

// JSON печатает v с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Infof печатает сообщение.
func (o *Output) Infof(format string, args ...any) {
	fmt.Fprintf(o.errW, format+"\n", args...)
}

// Errorf печатает сообщение с префиксом "Error: ".
func (o *Output) Errorf(format string, args ...any) {
	fmt.Fprintf(o.errW, "Error: "+format+"\n", args...)
}
