package server

import "time"

type Config struct {
	// KeyDir holds the salt and wrapped-root-key blobs plus the
	// protector key file. Ignored when Mongo settings are given.
	KeyDir string

	MongoURI  string
	MongoDB   string
	MongoColl string

	JWTIssuer string
	TokenTTL  time.Duration
}

func (c *Config) setDefaults() {
	if c.KeyDir == "" {
		c.KeyDir = "./keystore"
	}
	if c.MongoDB == "" {
		c.MongoDB = "vaultdb"
	}
	if c.MongoColl == "" {
		c.MongoColl = "keyblobs"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = "keymgrd"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 15 * time.Minute
	}
}
