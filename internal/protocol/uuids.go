package protocol

import "github.com/srg/deskctl/internal/device"

// Role identifies a characteristic the controller binds after discovery.
type Role int

const (
	RolePosition Role = iota
	RoleControl
	RoleReferenceInput
	RoleActivation
)

func (r Role) String() string {
	switch r {
	case RolePosition:
		return "position"
	case RoleControl:
		return "control"
	case RoleReferenceInput:
		return "reference_input"
	case RoleActivation:
		return "activation"
	default:
		return "unknown"
	}
}

// Binding maps a role to its fixed service and characteristic UUIDs.
type Binding struct {
	Role           Role
	Service        string
	Characteristic string
	Optional       bool
}

// Vendor GATT layout of the desk control box.
const (
	PositionServiceUUID       = "99fa0020-338a-1024-8a49-009c0215f78a"
	PositionCharUUID          = "99fa0021-338a-1024-8a49-009c0215f78a"
	ControlServiceUUID        = "99fa0001-338a-1024-8a49-009c0215f78a"
	ControlCharUUID           = "99fa0002-338a-1024-8a49-009c0215f78a"
	ActivationServiceUUID     = "99fa0010-338a-1024-8a49-009c0215f78a"
	ActivationCharUUID        = "99fa0011-338a-1024-8a49-009c0215f78a"
	ReferenceInputServiceUUID = "99fa0030-338a-1024-8a49-009c0215f78a"
	ReferenceInputCharUUID    = "99fa0031-338a-1024-8a49-009c0215f78a"

	// DefaultNamePrefix matches the advertised name of the stock control box.
	DefaultNamePrefix = "Desk"
)

// Bindings lists every characteristic the connection manager binds, in bind order.
var Bindings = []Binding{
	{Role: RolePosition, Service: PositionServiceUUID, Characteristic: PositionCharUUID},
	{Role: RoleControl, Service: ControlServiceUUID, Characteristic: ControlCharUUID},
	{Role: RoleReferenceInput, Service: ReferenceInputServiceUUID, Characteristic: ReferenceInputCharUUID, Optional: true},
	{Role: RoleActivation, Service: ActivationServiceUUID, Characteristic: ActivationCharUUID, Optional: true},
}

// ServiceUUIDs returns the normalized service UUIDs of all bindings.
func ServiceUUIDs() []string {
	out := make([]string, 0, len(Bindings))
	for _, b := range Bindings {
		out = append(out, device.NormalizeUUID(b.Service))
	}
	return out
}
