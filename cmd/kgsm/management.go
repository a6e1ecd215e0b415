package main

import (
	"bytes"
	"text/template"

	"github.com/TheKrystalShip/kgsm"
)

// managementScriptTemplate renders the generated per-instance management
// script (persisted state layout's <instance>.manage.sh): a POSIX shell
// wrapper dispatching start/stop/status/save to the instance's recorded
// executable or stop/save commands, with the PID file as the standalone
// lifecycle manager's source of truth. The script's own runtime behavior
// beyond this dispatch is the external collaborator spec.md §1 puts out of
// scope; only its generation is this module's concern.
var managementScriptTemplate = template.Must(template.New("manage.sh").Parse(`#!/usr/bin/env bash
# Generated by kgsm for instance {{.Name}}. Do not edit by hand.
set -euo pipefail

PID_FILE="{{.PIDFile}}"
WORKING_DIR="{{.LaunchDir}}"
EXECUTABLE="{{.ExecutableFile}}"
ARGS="{{.ExecutableArguments}}"
STOP_COMMAND="{{.StopCommand}}"
SAVE_COMMAND="{{.SaveCommand}}"

cmd_start() {
  cd "$WORKING_DIR"
  nohup "$EXECUTABLE" $ARGS >>"{{.LogsDir}}/console.log" 2>&1 &
  echo $! >"$PID_FILE"
}

cmd_stop() {
  if [ -n "$STOP_COMMAND" ] && [ -S "{{.SocketFile}}" ]; then
    echo "$STOP_COMMAND" >"{{.SocketFile}}"
  elif [ -f "$PID_FILE" ]; then
    kill "$(cat "$PID_FILE")" 2>/dev/null || true
  fi
  rm -f "$PID_FILE"
}

cmd_status() {
  [ -f "$PID_FILE" ] && kill -0 "$(cat "$PID_FILE")" 2>/dev/null
}

cmd_save() {
  if [ -n "$SAVE_COMMAND" ] && [ -S "{{.SocketFile}}" ]; then
    echo "$SAVE_COMMAND" >"{{.SocketFile}}"
  fi
}

case "${1:-}" in
  start) cmd_start ;;
  stop) cmd_stop ;;
  status) cmd_status ;;
  save) cmd_save ;;
  *) echo "usage: $0 {start|stop|status|save}" >&2; exit 2 ;;
esac
`))

// scriptRenderer implements kgsm.ManagementRenderer against
// managementScriptTemplate.
type scriptRenderer struct{}

func newScriptRenderer() *scriptRenderer { return &scriptRenderer{} }

func (scriptRenderer) Render(inst *kgsm.Instance) ([]byte, error) {
	var buf bytes.Buffer
	if err := managementScriptTemplate.Execute(&buf, inst); err != nil {
		return nil, kgsm.WrapErr(kgsm.ErrFailedTemplate, "rendering management script", "", err)
	}
	return buf.Bytes(), nil
}
