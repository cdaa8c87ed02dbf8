package events

// Subject naming: <prefix>.<domain>.<name>
// Prefix is configured per deployment (e.g. "incubator").

const (
	DomainDevice    = "device"
	DomainDiscovery = "discovery"
	DomainCommand   = "command"
)

const (
	DeviceFound      = DomainDevice + ".found"
	ConnectionStatus = DomainDevice + ".connection"

	DiscoveryFinished = DomainDiscovery + ".finished"

	CommandModeSwitch = DomainCommand + ".mode_switch"
)
