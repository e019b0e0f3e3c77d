// Package systeminfo reports host memory capacity for the system status
// endpoint.
package systeminfo
