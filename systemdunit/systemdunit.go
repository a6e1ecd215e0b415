// Package systemdunit renders the two unit files the service-unit
// integration materialises for an instance: a .service descriptor that
// launches the generated management script, and a .socket descriptor naming
// its stdin named pipe. Section/key construction is grounded on quad-ops's
// BuildContainer (ini.v1 section-building, one ini.Key per directive).
package systemdunit

import (
	"bytes"
	"fmt"

	"gopkg.in/ini.v1"
)

// ServiceSpec carries everything the .service unit needs.
type ServiceSpec struct {
	InstanceName    string
	ManagementFile  string // absolute path to <instance>.manage.sh
	SocketUnitName  string // e.g. "kgsm-minecraft.socket"
	PIDFile         string
	WorkingDir      string
	StopTimeoutSecs int
}

// SocketSpec carries everything the .socket unit needs.
type SocketSpec struct {
	InstanceName string
	SocketFile   string // absolute path to the named pipe / stream socket
}

// BuildService renders the .service unit as ini.v1 text.
func BuildService(spec ServiceSpec) ([]byte, error) {
	file := ini.Empty(ini.LoadOptions{AllowShadows: true})

	unit, _ := file.NewSection("Unit")
	unit.NewKey("Description", fmt.Sprintf("KGSM managed instance %s", spec.InstanceName))
	unit.NewKey("After", "network.target")
	if spec.SocketUnitName != "" {
		unit.NewKey("Requires", spec.SocketUnitName)
	}

	service, _ := file.NewSection("Service")
	service.NewKey("Type", "simple")
	service.NewKey("WorkingDirectory", spec.WorkingDir)
	service.NewKey("ExecStart", fmt.Sprintf("%s start", spec.ManagementFile))
	service.NewKey("ExecStop", fmt.Sprintf("%s stop", spec.ManagementFile))
	if spec.PIDFile != "" {
		service.NewKey("PIDFile", spec.PIDFile)
	}
	if spec.StopTimeoutSecs > 0 {
		service.NewKey("TimeoutStopSec", fmt.Sprintf("%d", spec.StopTimeoutSecs))
	}
	service.NewKey("Restart", "no")

	install, _ := file.NewSection("Install")
	install.NewKey("WantedBy", "multi-user.target")

	return renderIni(file)
}

// BuildSocket renders the .socket unit as ini.v1 text.
func BuildSocket(spec SocketSpec) ([]byte, error) {
	file := ini.Empty(ini.LoadOptions{AllowShadows: true})

	unit, _ := file.NewSection("Unit")
	unit.NewKey("Description", fmt.Sprintf("KGSM stdin socket for %s", spec.InstanceName))

	socket, _ := file.NewSection("Socket")
	socket.NewKey("ListenFIFO", spec.SocketFile)
	socket.NewKey("SocketMode", "0600")
	socket.NewKey("RemoveOnStop", "yes")

	install, _ := file.NewSection("Install")
	install.NewKey("WantedBy", "sockets.target")

	return renderIni(file)
}

func renderIni(file *ini.File) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("rendering unit file: %w", err)
	}
	return buf.Bytes(), nil
}
