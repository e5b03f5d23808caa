package types

// BatteryUnknown is the sentinel used when a device's battery level
// could not be read.
const BatteryUnknown = "X"

// BoundProcess is the weak reference a device keeps to the process
// currently using it. Purely informational: a device never owns a
// process, it only looks one up by account name.
type BoundProcess struct {
	Account    string `json:"account"`
	ConfigFile string `json:"config_file"`
}

// Device is one physical unit a process can be bound to.
type Device struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Battery string        `json:"battery"`
	Process *BoundProcess `json:"process"`
}

// Ref returns the reference a Process carries to this device.
func (d Device) Ref() DeviceRef {
	return DeviceRef{ID: d.ID, Name: d.Name, Battery: d.Battery}
}
