package mqtt

import "strings"

// TopicRoot is the first level of every topic the input emulator uses.
const TopicRoot = "inputemu"

// Topics builds the input emulator's topic names.
//
//	inputemu/system/status          retained presence of the driver
//	inputemu/ipc/server             requests into the driver
//	inputemu/ipc/client/{id}        replies and events for one client
//	inputemu/telemetry/{stream}     optional telemetry mirrors
type Topics struct {
	// Root replaces TopicRoot when set. Several drivers sharing one broker
	// need distinct roots.
	Root string
}

func (t Topics) root() string {
	if t.Root != "" {
		return strings.TrimSuffix(t.Root, "/")
	}
	return TopicRoot
}

// SystemStatus is where one client's online, offline and last-will
// payloads go.
func (t Topics) SystemStatus(clientID string) string {
	return t.root() + "/system/status/" + clientID
}

// AllSystemStatus matches every client's presence.
func (t Topics) AllSystemStatus() string {
	return t.root() + "/system/status/+"
}

// IPCServer is the channel the driver's control server reads.
func (t Topics) IPCServer() string {
	return t.root() + "/ipc/server"
}

// IPCClientPrefix is the parent of every per-client reply channel.
func (t Topics) IPCClientPrefix() string {
	return t.root() + "/ipc/client"
}

// IPCClient is the reply channel of one client.
func (t Topics) IPCClient(id string) string {
	return t.IPCClientPrefix() + "/" + id
}

// AllIPCClients matches every client reply channel.
func (t Topics) AllIPCClients() string {
	return t.IPCClientPrefix() + "/+"
}

// Telemetry is a named telemetry stream, e.g. "motion".
func (t Topics) Telemetry(stream string) string {
	return t.root() + "/telemetry/" + stream
}

// All matches everything under the root.
func (t Topics) All() string {
	return t.root() + "/#"
}

// Matches reports whether topic matches filter using MQTT wildcard rules.
// "+" matches exactly one level and a trailing "#" matches the rest.
func Matches(filter, topic string) bool {
	f := strings.Split(filter, "/")
	p := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return i == len(f)-1
		}
		if i >= len(p) {
			return false
		}
		if level != "+" && level != p[i] {
			return false
		}
	}
	return len(f) == len(p)
}
