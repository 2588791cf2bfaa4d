package types

// Credentials holds everything needed to talk to one gateway locally.
// The WiFi (access point) transport only needs GatewayPassword; the wired
// LAN transport additionally needs the customer login and a registered
// RSA private key.
type Credentials struct {
	// GatewayPassword is the password printed on the gateway, also used
	// as the WiFi access point password.
	GatewayPassword string

	// CustomerEmail and CustomerPassword are the local customer login,
	// required by the wired LAN transport.
	CustomerEmail    string
	CustomerPassword string

	// RSAKeyPath points at a PEM-encoded RSA private key that has been
	// registered with the gateway out of band. Required by the wired LAN
	// transport.
	RSAKeyPath string
}
