package tedapi

import (
	"context"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"

	"github.com/gatewatch/gatewatch/pkg/log"
	"github.com/gatewatch/gatewatch/pkg/types"
)

// defaultAPHost is the fixed address of the gateway's WiFi access point.
const defaultAPHost = "192.168.91.1"

// Configured builds a Client from command-line flags. The transport is
// chosen by -gateway-network: "wifi" talks to the access point with basic
// auth, "lan" uses the customer login and a registered RSA key over the
// wired network.
func Configured() *Client {
	c := &Client{exec: newRequestExecutor(defaultLockTimeout)}

	host := lflag.String("gateway-host", defaultAPHost, "gateway address")
	network := lflag.String("gateway-network", "wifi", "how the gateway is reached: wifi or lan")
	gatewayPassword := lflag.String("gateway-password", "", "gateway password (printed on the unit), required for wifi")
	customerEmail := lflag.String("customer-email", "", "customer login email, required for lan")
	customerPassword := lflag.String("customer-password", "", "customer login password, required for lan")
	rsaKeyPath := lflag.String("rsa-key", "", "path to the registered PEM RSA private key, required for lan")

	lflag.Do(func() {
		ctx := context.Background()
		c.host = *host
		creds := types.Credentials{
			GatewayPassword:  *gatewayPassword,
			CustomerEmail:    *customerEmail,
			CustomerPassword: *customerPassword,
			RSAKeyPath:       *rsaKeyPath,
		}
		switch *network {
		case "wifi":
			if creds.GatewayPassword == "" {
				log.Ctx(ctx).Error("gateway-password is required for the wifi network")
				os.Exit(1)
			}
			c.transport = NewLegacyTransport(*host, creds)
		case "lan":
			t, err := NewSignedTransport(*host, creds)
			if err != nil {
				log.Ctx(ctx).Error("failed to initialize signed transport", slog.Any("error", err))
				os.Exit(1)
			}
			c.transport = t
		default:
			log.Ctx(ctx).Error("unsupported gateway network", slog.String("network", *network))
			os.Exit(1)
		}
	})
	return c
}
