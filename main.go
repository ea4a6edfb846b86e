package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
	"golang.org/x/crypto/curve25519"
)

func main() {
	app := cli.NewApp()
	app.Name = "fastd-go"
	app.Usage = "a lightweight VPN daemon"
	app.Version = daemonVersion

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "/etc/fastd-go/fastd-go.toml",
			Usage: "path to the TOML configuration file",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:  "genkey",
			Usage: "generate a new static keypair",
			Action: func(c *cli.Context) error {
				priv, pub, err := GenerateKeyPair()
				if err != nil {
					return err
				}
				fmt.Printf("private_key = %q\n# public_key = %q\n", EncodeKey(priv), EncodeKey(pub))
				return nil
			},
		},
		{
			Name:  "pubkey",
			Usage: "derive the public key for a private key read from stdin",
			Action: func(c *cli.Context) error {
				return runPubkey()
			},
		},
	}

	app.Action = func(c *cli.Context) error {
		return runDaemon(c.String("config"))
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fastd-go:", err)
		os.Exit(1)
	}
}

func runDaemon(configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	log := NewLogger(config.LogLevel, "fastd-go")
	defer log.Sync()

	tun, err := CreateTUN(config.InterfaceName, config.Mode)
	if err != nil {
		return fmt.Errorf("failed to open TUN/TAP device: %w", err)
	}

	device, err := NewDevice(config, tun, log)
	if err != nil {
		return fmt.Errorf("failed to initialize device: %w", err)
	}
	defer device.Close()

	if err := device.OpenStatusSocket(config.InterfaceName); err != nil {
		log.Warnf("failed to open control socket: %v", err)
	}

	for _, peer := range device.peers.All() {
		if !peer.isFloating() {
			device.StartHandshake(peer)
		}
	}

	log.Infof("fastd-go %s starting on %s", daemonVersion, config.InterfaceName)
	return device.Run(nil)
}

func runPubkey() error {
	var line string
	if _, err := fmt.Scanln(&line); err != nil {
		return err
	}
	priv, err := DecodeKey(line)
	if err != nil {
		return err
	}

	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)
	fmt.Println(EncodeKey(pub))
	return nil
}
