package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mtzanidakis/juror/internal/store"
	"github.com/mtzanidakis/juror/internal/vault"
)

func runSecret(args []string) error {
	if len(args) == 0 {
		printSecretUsage()
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "list":
		return secretList(db)
	case "set":
		kr, err := vault.NewKeyring(cfg.Vault.Passphrase, db)
		if err != nil {
			return fmt.Errorf("%w: set vault.passphrase or JUROR_VAULT_PASSPHRASE", err)
		}
		return secretSet(kr, args[1:])
	case "delete":
		return secretDelete(db, args[1:])
	default:
		printSecretUsage()
		return fmt.Errorf("unknown secret command: %s", args[0])
	}
}

func printSecretUsage() {
	fmt.Fprintf(os.Stderr, `Usage: juror secret <command>

Commands:
  list                                              List all secrets (metadata only)
  set <name> --value <str> [--description <text>]   Store a secret
  delete <name>                                     Delete a secret

Reference a stored secret from an agent as api_key: secret:<name>.

Environment:
  JUROR_VAULT_PASSPHRASE    Encryption passphrase, required for set.
`)
}

func secretList(db *store.Store) error {
	secrets, err := db.ListSecrets()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tREFERENCE\tDESCRIPTION\tUPDATED")
	for _, s := range secrets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, vault.SecretPrefix+s.Name, s.Description,
			s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// parseSecretSet returns name, value and description from
// "<name> --value <str> [--description <text>]".
func parseSecretSet(args []string) (name, value, description string, err error) {
	if len(args) < 3 || args[1] != "--value" {
		return "", "", "", fmt.Errorf("usage: juror secret set <name> --value <string> [--description <text>]")
	}
	name, value = args[0], args[2]

	// Check for optional --description flag
	for i := 3; i < len(args)-1; i++ {
		if args[i] == "--description" {
			description = args[i+1]
			break
		}
	}
	return name, value, description, nil
}

func secretSet(kr *vault.Keyring, args []string) error {
	name, value, description, err := parseSecretSet(args)
	if err != nil {
		return err
	}
	if err := kr.Set(name, description, value); err != nil {
		return err
	}
	fmt.Printf("Secret %q saved, reference it as %s%s\n", name, vault.SecretPrefix, name)
	return nil
}

func secretDelete(db *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: juror secret delete <name>")
	}
	sec, err := db.GetSecret(args[0])
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("secret %q not found", args[0])
	}
	if err := db.DeleteSecret(args[0]); err != nil {
		return err
	}
	fmt.Printf("Secret %q deleted\n", args[0])
	return nil
}
