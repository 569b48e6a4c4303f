package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const SecretKeyBytesLen = 32

// Print distinct access and refresh token secrets in '.env' format
func generate(w io.Writer, random io.Reader) error {
	secrets := make([]string, 2)
	for i := range secrets {
		b := make([]byte, SecretKeyBytesLen)
		if _, err := io.ReadFull(random, b); err != nil {
			return fmt.Errorf("error while generating secret key: %w", err)
		}
		secrets[i] = hex.EncodeToString(b)
	}

	_, err := fmt.Fprintf(w, "ACCESS_TOKEN_SECRET=%s\nREFRESH_TOKEN_SECRET=%s\n", secrets[0], secrets[1])
	return err
}

func main() {
	if err := generate(os.Stdout, rand.Reader); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
