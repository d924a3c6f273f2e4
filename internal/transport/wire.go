// Package transport implements the line-oriented control protocol shared by
// the transport client (§4.3) and transport server (§4.4): the INI/READY
// handshake lines, ACK/CLOSE control lines, and the File/END batch framing.
package transport

import "fmt"

// ProxyState is the third token of the INI handshake line (after INI and
// the client name), declaring whether the connecting process can itself
// act as a proxy for others. IniLine sends it as an int (see there).
type ProxyState string

const (
	CanBeProxy    ProxyState = "CanBeProxy"
	CannotBeProxy ProxyState = "CannotBeProxy"
	IsProxy       ProxyState = "IsProxy"
)

// Control line prefixes/tokens recognized on either side of the wire.
const (
	LineINI      = "INI"
	LineREADY    = "READY"
	LineNodeID   = "NODE_ID"
	LineBeProxy  = "BE_PROXY"
	LineUseProxy = "USE_PROXY"
	LineACK      = "ACK"
	LineCLOSE    = "CLOSE"
	LineFile     = "File"
	LineEND      = "END"
)

// FileHeader is the parsed form of a `File <source> <minId> <majId>
// <totalSize>\n` framing line.
type FileHeader struct {
	Source    string
	MinID     uint64
	MajID     uint64
	TotalSize uint64
}

// String renders the header back to its wire form.
func (h FileHeader) String() string {
	return fmt.Sprintf("%s %s %d %d %d\n", LineFile, h.Source, h.MinID, h.MajID, h.TotalSize)
}

// AckLine renders an `ACK <minId> <majId>\n` control line.
func AckLine(minID, majID uint64) string {
	return fmt.Sprintf("%s %d %d\n", LineACK, minID, majID)
}

// IniLine renders an `INI <name> <proxyStateInt>\n` handshake line, where
// the state goes on the wire as 1 (CanBeProxy), 2 (CannotBeProxy) or
// 3 (IsProxy); any other state is sent as 2.
func IniLine(name string, state ProxyState) string {
	code := 2
	switch state {
	case CanBeProxy:
		code = 1
	case IsProxy:
		code = 3
	}
	return fmt.Sprintf("%s %s %d\n", LineINI, name, code)
}
