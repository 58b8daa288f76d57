package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/potetofly25/KeyManager2/internal/platform"
	"github.com/potetofly25/KeyManager2/internal/server"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	keys := flag.String("keys", "./keystore", "key storage directory")
	mongoURI := flag.String("mongo", "", "MongoDB URI (optional)")
	mongoDB := flag.String("db", "vaultdb", "Mongo database name")
	mongoColl := flag.String("coll", "keyblobs", "Mongo collection name")
	tokenTTL := flag.Duration("token-ttl", 15*time.Minute, "bearer token lifetime")
	flag.Parse()

	if err := platform.DisableCoreDumps(); err != nil {
		log.Printf("could not disable core dumps: %v", err)
	}

	s, err := server.New(context.Background(), server.Config{
		KeyDir:    *keys,
		MongoURI:  *mongoURI,
		MongoDB:   *mongoDB,
		MongoColl: *mongoColl,
		TokenTTL:  *tokenTTL,
	})
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("keymgrd listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, s.Handler()))
}
