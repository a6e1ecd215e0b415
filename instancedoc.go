package kgsm

import (
	"strconv"
)

// saveInstance writes every field of inst as key=value lines to path,
// through a ConfigStore so writes stay atomic and future edits (via
// `kgsm config set`) preserve the document's comments/position.
func saveInstance(path string, inst *Instance) error {
	doc := Document(path)

	set := func(key, value string) error { return doc.Set(key, value, "") }
	setBool := func(key string, value bool) error { return doc.Set(key, strconv.FormatBool(value), "") }
	setInt := func(key string, value int) error { return doc.Set(key, strconv.Itoa(value), "") }

	fields := []struct {
		key   string
		value string
	}{
		{"name", inst.Name},
		{"blueprint_file", inst.BlueprintFile},
		{"working_dir", inst.WorkingDir},
		{"backups_dir", inst.BackupsDir},
		{"install_dir", inst.InstallDir},
		{"saves_dir", inst.SavesDir},
		{"temp_dir", inst.TempDir},
		{"logs_dir", inst.LogsDir},
		{"version_file", inst.VersionFile},
		{"config_file", inst.ConfigFile},
		{"management_file", inst.ManagementFile},
		{"runtime", string(inst.Runtime)},
		{"lifecycle_manager", string(inst.LifecycleManager)},
		{"executable_file", inst.ExecutableFile},
		{"executable_arguments", inst.ExecutableArguments},
		{"launch_dir", inst.LaunchDir},
		{"ports", inst.Ports},
		{"stop_command", inst.StopCommand},
		{"save_command", inst.SaveCommand},
		{"startup_success_regex", inst.StartupSuccessRegex},
		{"socket_file", inst.SocketFile},
		{"pid_file", inst.PIDFile},
		{"tail_pid_file", inst.TailPIDFile},
		{"systemd_service_file", inst.SystemdServiceFile},
		{"systemd_socket_file", inst.SystemdSocketFile},
		{"firewall_rule_file", inst.FirewallRuleFile},
		{"command_shortcut_file", inst.CommandShortcutFile},
		{"install_datetime", inst.InstallDatetime},
		{"installed_version", inst.InstalledVersion},
	}
	for _, f := range fields {
		if err := set(f.key, f.value); err != nil {
			return err
		}
	}

	boolFields := []struct {
		key   string
		value bool
	}{
		{"enable_systemd", inst.EnableSystemd},
		{"enable_firewall_management", inst.EnableFirewallManagement},
		{"enable_command_shortcuts", inst.EnableCommandShortcuts},
		{"enable_port_forwarding", inst.EnablePortForwarding},
		{"compress_backups", inst.CompressBackups},
		{"auto_update", inst.AutoUpdate},
	}
	for _, f := range boolFields {
		if err := setBool(f.key, f.value); err != nil {
			return err
		}
	}

	if err := setInt("save_command_timeout_seconds", inst.SaveCommandTimeoutSeconds); err != nil {
		return err
	}
	if err := setInt("stop_command_timeout_seconds", inst.StopCommandTimeoutSeconds); err != nil {
		return err
	}

	return doc.SetArray("upnp_ports", inst.UPnPPorts, "")
}

// loadInstance reads every known key back out of path into an Instance.
func loadInstance(path string) (*Instance, error) {
	doc := Document(path)

	get := func(key string) string {
		v, err := doc.Get(key)
		if err != nil {
			return ""
		}
		return v
	}
	getBool := func(key string) bool { return get(key) == "true" }
	getInt := func(key string) int {
		n, _ := strconv.Atoi(get(key))
		return n
	}

	upnp, err := doc.GetArray("upnp_ports")
	if err != nil {
		upnp = nil
	}

	return &Instance{
		Name:                 get("name"),
		BlueprintFile:        get("blueprint_file"),
		WorkingDir:           get("working_dir"),
		BackupsDir:           get("backups_dir"),
		InstallDir:           get("install_dir"),
		SavesDir:             get("saves_dir"),
		TempDir:              get("temp_dir"),
		LogsDir:              get("logs_dir"),
		VersionFile:          get("version_file"),
		ConfigFile:           get("config_file"),
		ManagementFile:       get("management_file"),
		Runtime:              Runtime(get("runtime")),
		LifecycleManager:     LifecycleManager(get("lifecycle_manager")),
		ExecutableFile:       get("executable_file"),
		ExecutableArguments:  get("executable_arguments"),
		LaunchDir:            get("launch_dir"),
		Ports:                get("ports"),
		StopCommand:          get("stop_command"),
		SaveCommand:          get("save_command"),
		StartupSuccessRegex:  get("startup_success_regex"),
		SocketFile:           get("socket_file"),
		PIDFile:              get("pid_file"),
		TailPIDFile:          get("tail_pid_file"),

		EnableSystemd:      getBool("enable_systemd"),
		SystemdServiceFile: get("systemd_service_file"),
		SystemdSocketFile:  get("systemd_socket_file"),

		EnableFirewallManagement: getBool("enable_firewall_management"),
		FirewallRuleFile:         get("firewall_rule_file"),

		EnableCommandShortcuts: getBool("enable_command_shortcuts"),
		CommandShortcutFile:    get("command_shortcut_file"),

		EnablePortForwarding: getBool("enable_port_forwarding"),
		UPnPPorts:            upnp,

		SaveCommandTimeoutSeconds: getInt("save_command_timeout_seconds"),
		StopCommandTimeoutSeconds: getInt("stop_command_timeout_seconds"),
		CompressBackups:           getBool("compress_backups"),
		AutoUpdate:                getBool("auto_update"),

		InstallDatetime:  get("install_datetime"),
		InstalledVersion: get("installed_version"),
	}, nil
}
