package goble

import "github.com/go-ble/ble"

var propertyNames = []struct {
	value ble.Property
	name  string
}{
	{ble.CharBroadcast, "Broadcast"},
	{ble.CharRead, "Read"},
	{ble.CharWriteNR, "WriteWithoutResponse"},
	{ble.CharWrite, "Write"},
	{ble.CharNotify, "Notify"},
	{ble.CharIndicate, "Indicate"},
	{ble.CharSignedWrite, "AuthenticatedSignedWrites"},
	{ble.CharExtended, "ExtendedProperties"},
}

// PropertyNames returns the human-readable names of the flags set in p.
func PropertyNames(p ble.Property) []string {
	var names []string
	for _, prop := range propertyNames {
		if p&prop.value != 0 {
			names = append(names, prop.name)
		}
	}
	return names
}

// usesIndication reports whether a subscription to a characteristic with properties p
// must use indications. Notifications are preferred when both are offered.
func usesIndication(p ble.Property) bool {
	return p&ble.CharNotify == 0 && p&ble.CharIndicate != 0
}
