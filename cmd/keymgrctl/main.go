package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Picocrypt/zxcvbn-go"
	"github.com/potetofly25/KeyManager2/internal/platform"
	"github.com/potetofly25/KeyManager2/internal/session"
	"github.com/potetofly25/KeyManager2/internal/storage"
	"github.com/potetofly25/KeyManager2/internal/vault"
)

func main() {
	// ---- init ----
	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	initKeys := initCmd.String("keys", "./keystore", "key storage directory")
	initMongoURI := initCmd.String("mongo", "", "MongoDB URI (optional)")
	initDB := initCmd.String("db", "vaultdb", "Mongo database name")
	initColl := initCmd.String("coll", "keyblobs", "Mongo collection name")

	// ---- encrypt ----
	encCmd := flag.NewFlagSet("encrypt", flag.ExitOnError)
	encKeys := encCmd.String("keys", "./keystore", "key storage directory")
	encText := encCmd.String("text", "", "plaintext to encrypt")
	encMongoURI := encCmd.String("mongo", "", "MongoDB URI (optional)")
	encDB := encCmd.String("db", "vaultdb", "Mongo database name")
	encColl := encCmd.String("coll", "keyblobs", "Mongo collection name")

	// ---- decrypt ----
	decCmd := flag.NewFlagSet("decrypt", flag.ExitOnError)
	decKeys := decCmd.String("keys", "./keystore", "key storage directory")
	decEnv := decCmd.String("envelope", "", "base64 envelope to decrypt")
	decMongoURI := decCmd.String("mongo", "", "MongoDB URI (optional)")
	decDB := decCmd.String("db", "vaultdb", "Mongo DB")
	decColl := decCmd.String("coll", "keyblobs", "Mongo collection")

	// ---- export ----
	expCmd := flag.NewFlagSet("export", flag.ExitOnError)
	expKeys := expCmd.String("keys", "./keystore", "key storage directory")
	expIn := expCmd.String("in", "", "JSON file with records to export")
	expOut := expCmd.String("out", "./backup.json", "package output path")
	expPass := expCmd.String("password", "", "transfer password (otherwise master session is used)")
	expMongoURI := expCmd.String("mongo", "", "MongoDB URI (optional)")
	expDB := expCmd.String("db", "vaultdb", "Mongo DB")
	expColl := expCmd.String("coll", "keyblobs", "Mongo collection")

	// ---- import ----
	impCmd := flag.NewFlagSet("import", flag.ExitOnError)
	impKeys := impCmd.String("keys", "./keystore", "key storage directory")
	impIn := impCmd.String("in", "", "package file to import")
	impPass := impCmd.String("password", "", "transfer password (otherwise master session is used)")
	impMongoURI := impCmd.String("mongo", "", "MongoDB URI (optional)")
	impDB := impCmd.String("db", "vaultdb", "Mongo DB")
	impColl := impCmd.String("coll", "keyblobs", "Mongo collection")

	// ---- status ----
	statCmd := flag.NewFlagSet("status", flag.ExitOnError)
	statKeys := statCmd.String("keys", "./keystore", "key storage directory")
	statMongoURI := statCmd.String("mongo", "", "MongoDB URI (optional)")
	statDB := statCmd.String("db", "vaultdb", "Mongo DB")
	statColl := statCmd.String("coll", "keyblobs", "Mongo collection")

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "init":
		_ = initCmd.Parse(os.Args[2:])
		v, err := buildVault(*initKeys, *initMongoURI, *initDB, *initColl)
		dieIf(err)
		dieIf(cmdInit(v))

	case "encrypt":
		_ = encCmd.Parse(os.Args[2:])
		v, err := buildVault(*encKeys, *encMongoURI, *encDB, *encColl)
		dieIf(err)
		dieIf(cmdEncrypt(v, *encText))

	case "decrypt":
		_ = decCmd.Parse(os.Args[2:])
		v, err := buildVault(*decKeys, *decMongoURI, *decDB, *decColl)
		dieIf(err)
		dieIf(cmdDecrypt(v, *decEnv))

	case "export":
		_ = expCmd.Parse(os.Args[2:])
		v, err := buildVault(*expKeys, *expMongoURI, *expDB, *expColl)
		dieIf(err)
		dieIf(cmdExport(v, *expIn, *expOut, *expPass))

	case "import":
		_ = impCmd.Parse(os.Args[2:])
		v, err := buildVault(*impKeys, *impMongoURI, *impDB, *impColl)
		dieIf(err)
		dieIf(cmdImport(v, *impIn, *impPass))

	case "status":
		_ = statCmd.Parse(os.Args[2:])
		v, err := buildVault(*statKeys, *statMongoURI, *statDB, *statColl)
		dieIf(err)
		dieIf(cmdStatus(v))

	default:
		usage()
	}
}

// ============ Commands ============

func cmdInit(v *vault.Vault) error {
	master, err := promptSecret("New master password: ")
	if err != nil {
		return err
	}
	defer zero(master)

	score := zxcvbn.PasswordStrength(string(master), nil).Score
	if score < 2 {
		fmt.Fprintf(os.Stderr, "warning: weak master password (strength %d/4)\n", score)
	}

	if err := v.Initialize(context.Background(), string(master)); err != nil {
		return err
	}
	defer v.Lock()
	fmt.Println("Vault initialized.")
	return nil
}

func cmdEncrypt(v *vault.Vault, text string) error {
	if text == "" {
		return errors.New("--text required")
	}
	if err := unlock(v); err != nil {
		return err
	}
	defer v.Lock()

	env, err := v.EncryptField(text)
	if err != nil {
		return err
	}
	fmt.Println(env)
	return nil
}

func cmdDecrypt(v *vault.Vault, envelope string) error {
	if envelope == "" {
		return errors.New("--envelope required")
	}
	if err := unlock(v); err != nil {
		return err
	}
	defer v.Lock()

	pt, err := v.DecryptField(envelope)
	if err != nil {
		return err
	}
	fmt.Println(pt)
	return nil
}

func cmdExport(v *vault.Vault, in, out, password string) error {
	if in == "" {
		return errors.New("--in required")
	}
	b, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	var creds []vault.Credential
	if err := json.Unmarshal(b, &creds); err != nil {
		return err
	}

	// With a transfer password the package stands alone; otherwise the
	// file key is wrapped under the live master session.
	if password == "" {
		if err := unlock(v); err != nil {
			return err
		}
		defer v.Lock()
	}

	if err := v.Export(creds, out, password); err != nil {
		return err
	}
	fmt.Printf("Exported %d records to %s\n", len(creds), out)
	return nil
}

func cmdImport(v *vault.Vault, in, password string) error {
	if in == "" {
		return errors.New("--in required")
	}
	if password == "" {
		if err := unlock(v); err != nil {
			return err
		}
		defer v.Lock()
	}

	results, err := v.Import(in, password)
	if err != nil {
		return err
	}
	failed := 0
	for _, res := range results {
		if !res.Decrypted {
			failed++
		}
	}
	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d of %d records left encrypted\n", failed, len(results))
	}
	return nil
}

func cmdStatus(v *vault.Vault) error {
	initialized, err := v.Initialized(context.Background())
	if err != nil {
		return err
	}
	if initialized {
		fmt.Println("vault: initialized")
	} else {
		fmt.Println("vault: not initialized (run init)")
	}
	return nil
}

// ============ Helpers ============

func usage() {
	fmt.Print(`keymgrctl commands:

  init    --keys dir [--mongo URI --db vaultdb --coll keyblobs]
  encrypt --keys dir --text <plaintext> [--mongo ...]
  decrypt --keys dir --envelope <base64> [--mongo ...]
  export  --keys dir --in records.json --out backup.json [--password pw] [--mongo ...]
  import  --keys dir --in backup.json [--password pw] [--mongo ...]
  status  --keys dir [--mongo ...]

Examples:
  keymgrctl init --keys ./keystore
  keymgrctl encrypt --keys ./keystore --text hunter2
  keymgrctl export --keys ./keystore --in records.json --out backup.json --password "transfer pw"
`)
}

func buildVault(keysDir, mongoURI, db, coll string) (*vault.Vault, error) {
	var blobs storage.BlobStore
	if mongoURI == "" {
		blobs = storage.NewFileBlobStore(keysDir)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mb, err := storage.NewMongoBlobStore(ctx, mongoURI, db, coll)
		if err != nil {
			return nil, err
		}
		blobs = mb
	}
	prot := platform.NewDefaultProtector(keysDir)
	return vault.New(session.NewManager(blobs, prot)), nil
}

func unlock(v *vault.Vault) error {
	master, err := promptSecret("Master password: ")
	if err != nil {
		return err
	}
	defer zero(master)
	return v.Unlock(context.Background(), string(master))
}

func promptSecret(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	br := bufio.NewReader(os.Stdin)
	master, err := br.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(master) > 0 && master[len(master)-1] == '\n' {
		master = master[:len(master)-1]
	}
	return master, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
