// Package robopanel is the browser control panel for a robot or assistant
// device: an HTTP and WebSocket front-end that drives device-control
// scripts through a bounded process runner.
package robopanel

// Version is the robopanel release version.
const Version = "0.3.0"
