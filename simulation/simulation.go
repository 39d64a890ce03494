// Package simulation ties one run together: the event engine, the telemetry
// recorder, the optional monitor, and the devices of the fabric.
package simulation

import (
	"github.com/sarchlab/suesim/datarecording"
	"github.com/sarchlab/suesim/monitoring"
	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/device"
)

// A Simulation provides the services required to define a run.
type Simulation struct {
	id     string
	engine sim.Engine

	dataRecorder datarecording.DataRecorder
	telemetry    *datarecording.Telemetry
	runLog       *datarecording.RunLogger
	monitor      *monitoring.Monitor

	devices         []*device.Device
	deviceNameIndex map[string]int
}

// ID returns the ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// GetEngine returns the engine used in the simulation.
func (s *Simulation) GetEngine() sim.Engine {
	return s.engine
}

// GetDataRecorder returns the data recorder used in the simulation.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor used in the simulation. It is nil when
// monitoring is disabled.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// GetRunLogger returns the run-metadata logger.
func (s *Simulation) GetRunLogger() *datarecording.RunLogger {
	return s.runLog
}

// RegisterDevice registers a device with the simulation, wiring it to the
// telemetry taps and the monitor.
func (s *Simulation) RegisterDevice(d *device.Device) {
	name := d.Name()
	if _, ok := s.deviceNameIndex[name]; ok {
		panic("device " + name + " already registered")
	}

	s.devices = append(s.devices, d)
	s.deviceNameIndex[name] = len(s.devices) - 1

	s.telemetry.Attach(d)

	if s.monitor != nil {
		s.monitor.RegisterDevice(d)
	}
}

// Devices returns all registered devices.
func (s *Simulation) Devices() []*device.Device {
	return s.devices
}

// GetDeviceByName returns the device with the given name.
func (s *Simulation) GetDeviceByName(name string) *device.Device {
	return s.devices[s.deviceNameIndex[name]]
}

// Terminate ends the simulation, flushing the run log and closing the
// recorder.
func (s *Simulation) Terminate() {
	s.runLog.Flush()
	s.dataRecorder.Close()
}
