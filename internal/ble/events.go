package ble

import "fmt"

// EventKind tags a DiscoveryEvent.
type EventKind int

const (
	EventScanStarted EventKind = iota + 1
	EventNewDeviceFound
	EventScanCompleted
	EventScanError
	EventReconnectAttempted
	EventReconnectSucceeded
	EventReconnectFailed
)

func (k EventKind) String() string {
	switch k {
	case EventScanStarted:
		return "scan_started"
	case EventNewDeviceFound:
		return "new_device_found"
	case EventScanCompleted:
		return "scan_completed"
	case EventScanError:
		return "scan_error"
	case EventReconnectAttempted:
		return "reconnect_attempted"
	case EventReconnectSucceeded:
		return "reconnect_succeeded"
	case EventReconnectFailed:
		return "reconnect_failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// DiscoveryEvent reports scan and connection activity. Which fields are set
// depends on Kind: Name/Address for device events, StripID for reconnects,
// Count for ScanCompleted and Reason for ScanError/ReconnectFailed.
type DiscoveryEvent struct {
	Kind    EventKind
	StripID int
	Name    string
	Address string
	Count   int
	Reason  string
}

// ScanStarted is emitted when a scan begins.
func ScanStarted() DiscoveryEvent { return DiscoveryEvent{Kind: EventScanStarted} }

// NewDeviceFound reports a strip-named device seen for the first time.
func NewDeviceFound(name, address string) DiscoveryEvent {
	return DiscoveryEvent{Kind: EventNewDeviceFound, Name: name, Address: address}
}

// ScanCompleted reports how many strip-named devices the scan saw.
func ScanCompleted(count int) DiscoveryEvent {
	return DiscoveryEvent{Kind: EventScanCompleted, Count: count}
}

// ScanError reports a failed or panicked scan.
func ScanError(reason string) DiscoveryEvent {
	return DiscoveryEvent{Kind: EventScanError, Reason: reason}
}

// ReconnectAttempted is emitted before a background reconnect of a known strip.
func ReconnectAttempted(id int, name string) DiscoveryEvent {
	return DiscoveryEvent{Kind: EventReconnectAttempted, StripID: id, Name: name}
}

// ReconnectSucceeded follows ReconnectAttempted when the strip is back.
func ReconnectSucceeded(id int, name string) DiscoveryEvent {
	return DiscoveryEvent{Kind: EventReconnectSucceeded, StripID: id, Name: name}
}

// ReconnectFailed follows ReconnectAttempted with the connect error.
func ReconnectFailed(id int, name, reason string) DiscoveryEvent {
	return DiscoveryEvent{Kind: EventReconnectFailed, StripID: id, Name: name, Reason: reason}
}

// Structural reports whether the event changes the set or state of known strips.
func (e DiscoveryEvent) Structural() bool {
	switch e.Kind {
	case EventNewDeviceFound, EventReconnectSucceeded, EventReconnectFailed:
		return true
	}
	return false
}

// Message renders the event as a human-readable line.
func (e DiscoveryEvent) Message() string {
	switch e.Kind {
	case EventScanStarted:
		return "Scanning for strips..."
	case EventNewDeviceFound:
		return fmt.Sprintf("Found new device %s (%s)", e.Name, e.Address)
	case EventScanCompleted:
		return fmt.Sprintf("Scan complete: %d strip(s) in range", e.Count)
	case EventScanError:
		return "Scan failed: " + e.Reason
	case EventReconnectAttempted:
		return fmt.Sprintf("Reconnecting strip %d (%s)...", e.StripID, e.Name)
	case EventReconnectSucceeded:
		return fmt.Sprintf("Reconnected strip %d (%s)", e.StripID, e.Name)
	case EventReconnectFailed:
		return fmt.Sprintf("Reconnect of strip %d (%s) failed: %s", e.StripID, e.Name, e.Reason)
	default:
		return e.Kind.String()
	}
}

func (e DiscoveryEvent) String() string { return e.Message() }
