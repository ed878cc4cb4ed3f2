package x402

// Version constants
const (
	// Version is the demo version reported by the info endpoint
	Version = "0.4.0"

	// ProtocolVersion is the x402 protocol version spoken on the wire
	ProtocolVersion = 2
)

// Export the main types with uppercase names for external packages
type (
	// X402Client is the exported type for x402Client
	X402Client = x402Client

	// X402ResourceServer is the exported type for x402ResourceServer
	X402ResourceServer = x402ResourceServer
)
