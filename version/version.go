package version

import "bytes"

// Application version
var ApplicationVersion string = "0.1.0"

// Build commit
var buildCommit string = "0x0000"

// Build time
var buildTime string = "Fri Mar 05 10:12:44 UTC 2021"

// Supported chain backends
var supportedChains = []string{
	"Nomad JSON-RPC gateway (http)",
	"In-process simulated chain (memory)",
}

// Monitor wire protocols
var monitorProtocols = []string{
	"Length-prefixed protobuf Struct frames over TCP",
	"Logfmt alarm log",
}

var RootCmdVersion string = prepareVersionString()

func prepareVersionString() string {
	var buffer bytes.Buffer
	buffer.WriteString(ApplicationVersion + " build " + buildCommit)
	buffer.WriteString("\nCompiled on: " + buildTime)
	for _, v := range supportedChains {
		buffer.WriteString("\n+ [Chain]   " + v)

	}
	for _, v := range monitorProtocols {
		buffer.WriteString("\n+ [Monitor] " + v)
	}
	return buffer.String()
}

// SupportedChains lists the chain backends this build can dial.
func SupportedChains() []string {
	return append([]string(nil), supportedChains...)
}
