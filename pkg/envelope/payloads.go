package envelope

// SecurityEvent carries an authentication or privilege-escalation event:
// SSH logins, sudo invocations, and similar auth-adjacent actions.
type SecurityEvent struct {
	AuthType    string `json:"auth_type"`
	Result      string `json:"result"`
	SourceIP    string `json:"source_ip,omitempty"`
	TargetUser  string `json:"target_user,omitempty"`
	SudoCommand string `json:"sudo_command,omitempty"`
}

// AuditEvent carries a filesystem or configuration change relevant to
// persistence detection: a LaunchAgent, LaunchDaemon, cron entry, or SSH key
// being created, modified, or removed.
type AuditEvent struct {
	Action     string `json:"action"`
	ObjectType string `json:"object_type"`
	ObjectPath string `json:"object_path"`
	User       string `json:"user,omitempty"`
}

// ProcessEvent carries a process execution observation.
type ProcessEvent struct {
	ExecutablePath string   `json:"executable_path"`
	Args           []string `json:"args,omitempty"`
	PID            int64    `json:"pid,omitempty"`
	ParentPID      int64    `json:"parent_pid,omitempty"`
}

// FlowEvent carries a network connection observation.
type FlowEvent struct {
	DstIP    string `json:"dst_ip"`
	DstPort  int    `json:"dst_port"`
	SrcIP    string `json:"src_ip,omitempty"`
	SrcPort  int    `json:"src_port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
}

// MetricEvent carries a scalar host or process metric sample.
type MetricEvent struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}
