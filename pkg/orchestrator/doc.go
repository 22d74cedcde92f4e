// Package orchestrator drives the external compose tool used to bring
// up, inspect, and tear down the sniffer/shipper container stack.
package orchestrator
