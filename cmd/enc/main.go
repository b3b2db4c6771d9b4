// enc cifra un valor con la master key, para sembrar datos o probar rotación.
//
// Uso:
//
//	LEADBRIDGE_MASTER_KEY=... go run ./cmd/enc "valor a cifrar"
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/leadbridge/internal/security/secretbox"
)

func main() {
	_ = godotenv.Load()

	if !secretbox.Ready() {
		fmt.Fprintln(os.Stderr, "LEADBRIDGE_MASTER_KEY no configurada o inválida")
		os.Exit(1)
	}

	var plain string
	if len(os.Args) > 1 {
		plain = os.Args[1]
	} else {
		r := bufio.NewReader(os.Stdin)
		line, _ := r.ReadString('\n')
		plain = strings.TrimRight(line, "\r\n")
	}
	if plain == "" {
		fmt.Fprintln(os.Stderr, "nada que cifrar")
		os.Exit(1)
	}

	enc, err := secretbox.Encrypt(plain)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encrypt:", err)
		os.Exit(1)
	}
	fmt.Println(enc)
}
