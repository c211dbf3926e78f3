package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Skotchmaster/autho/internal/keys"
)

func main() {
	privPath := flag.String("private", "keys/private.pem", "private key output path")
	pubPath := flag.String("public", "keys/public.pem", "public key output path")
	bits := flag.Int("bits", 2048, "RSA key size")
	force := flag.Bool("force", false, "overwrite existing files")
	flag.Parse()

	if !*force {
		for _, p := range []string{*privPath, *pubPath} {
			if _, err := os.Stat(p); err == nil {
				fmt.Fprintf(os.Stderr, "%s already exists, pass -force to overwrite\n", p)
				os.Exit(1)
			}
		}
	}

	priv, err := keys.Generate(*bits)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}
	if err := keys.WritePEM(*privPath, *pubPath, priv); err != nil {
		fmt.Fprintf(os.Stderr, "write keys: %v\n", err)
		os.Exit(1)
	}
	m, err := keys.New(priv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load keys: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s and %s (kid %s)\n", *privPath, *pubPath, m.KeyID())
}
