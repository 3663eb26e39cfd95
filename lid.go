package main

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// lidClosed asks UPower over the system bus whether the laptop lid is shut.
// Desktops without a lid report it open.
func lidClosed() (bool, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return false, err
	}
	defer bus.Close()

	upower := bus.Object("org.freedesktop.UPower", "/org/freedesktop/UPower")
	v, err := upower.GetProperty("org.freedesktop.UPower.LidIsClosed")
	if err != nil {
		return false, err
	}
	closed, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected LidIsClosed value %v", v.Value())
	}
	return closed, nil
}
